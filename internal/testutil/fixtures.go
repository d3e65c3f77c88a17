package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
)

// TestPassword fixtures 用户的明文密码
const TestPassword = "password123"

var (
	seq          int64
	hashOnce     sync.Once
	passwordHash string
	hashErr      error
)

func nextSeq() int64 {
	return atomic.AddInt64(&seq, 1)
}

func hashedPassword(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		var hash []byte
		hash, hashErr = bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
		passwordHash = string(hash)
	})
	if hashErr != nil {
		t.Fatalf("Failed to hash password: %v", hashErr)
	}
	return passwordHash
}

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	n := nextSeq()
	email := fmt.Sprintf("test_%d_%d@example.com", n, time.Now().UnixNano())
	hash := hashedPassword(t)
	user := &model.User{
		Username:      fmt.Sprintf("testuser_%d", n),
		Email:         &email,
		PasswordHash:  &hash,
		Role:          model.RoleUser,
		Status:        model.UserStatusActive,
		Plan:          "free",
		EmailVerified: true,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = &email
	}
}

// WithRole 设置角色
func WithRole(role string) func(*model.User) {
	return func(u *model.User) {
		u.Role = role
	}
}

// WithStatus 设置账号状态
func WithStatus(status string) func(*model.User) {
	return func(u *model.User) {
		u.Status = status
	}
}

// WithPlan 设置套餐
func WithPlan(plan string) func(*model.User) {
	return func(u *model.User) {
		u.Plan = plan
	}
}

// WithUnverified 邮箱未验证
func WithUnverified(code string, expiresAt time.Time) func(*model.User) {
	return func(u *model.User) {
		u.EmailVerified = false
		u.VerificationCode = &code
		u.VerificationExpiresAt = &expiresAt
	}
}

// WithCreatedAt 设置注册时间
func WithCreatedAt(at time.Time) func(*model.User) {
	return func(u *model.User) {
		u.CreatedAt = at
	}
}

// TestCredit 创建积分账户，周期为当前时间起一个月
func TestCredit(t *testing.T, db *gorm.DB, userID int64, total, used int) *model.Credit {
	t.Helper()

	now := time.Now()
	credit := &model.Credit{
		UserID:      userID,
		Plan:        "free",
		Total:       total,
		Used:        used,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}
	if err := db.Create(credit).Error; err != nil {
		t.Fatalf("Failed to create test credit: %v", err)
	}
	return credit
}

// TestContent 创建测试文档
func TestContent(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.GeneratedContent)) *model.GeneratedContent {
	t.Helper()

	content := &model.GeneratedContent{
		UserID:      userID,
		TemplateID:  "blog-intro",
		Category:    "blog",
		Title:       fmt.Sprintf("Test Document %d", nextSeq()),
		Content:     "hello generated world",
		Inputs:      datatypes.JSON(`{"topic":"go"}`),
		ModelName:   "gpt-4o-mini",
		WordCount:   3,
		CreditsUsed: 1,
	}

	for _, opt := range opts {
		opt(content)
	}

	if err := db.Create(content).Error; err != nil {
		t.Fatalf("Failed to create test content: %v", err)
	}

	return content
}

// WithTitle 设置文档标题
func WithTitle(title string) func(*model.GeneratedContent) {
	return func(c *model.GeneratedContent) {
		c.Title = title
	}
}

// WithBody 设置文档正文和字数
func WithBody(body string, words int) func(*model.GeneratedContent) {
	return func(c *model.GeneratedContent) {
		c.Content = body
		c.WordCount = words
	}
}

// WithTemplate 设置模板和分类
func WithTemplate(templateID, category string) func(*model.GeneratedContent) {
	return func(c *model.GeneratedContent) {
		c.TemplateID = templateID
		c.Category = category
	}
}

// WithFavorite 设置为收藏
func WithFavorite() func(*model.GeneratedContent) {
	return func(c *model.GeneratedContent) {
		c.IsFavorite = true
	}
}

// WithFlagged 标记为违规
func WithFlagged(reason string) func(*model.GeneratedContent) {
	return func(c *model.GeneratedContent) {
		c.Flagged = true
		c.FlagReason = reason
	}
}

// WithContentCreatedAt 设置生成时间
func WithContentCreatedAt(at time.Time) func(*model.GeneratedContent) {
	return func(c *model.GeneratedContent) {
		c.CreatedAt = at
	}
}

// TestImage 创建测试图片任务
func TestImage(t *testing.T, db *gorm.DB, userID int64, status string, opts ...func(*model.GeneratedImage)) *model.GeneratedImage {
	t.Helper()

	image := &model.GeneratedImage{
		UserID:      userID,
		Prompt:      "a red fox in the snow",
		Size:        "512x512",
		ModelName:   "dall-e-3",
		Status:      status,
		CreditsUsed: 5,
	}

	for _, opt := range opts {
		opt(image)
	}

	if err := db.Create(image).Error; err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}

	return image
}

// WithImageURL 设置图片地址
func WithImageURL(url string) func(*model.GeneratedImage) {
	return func(i *model.GeneratedImage) {
		i.ImageURL = url
	}
}

// TestSubscription 创建测试订阅
func TestSubscription(t *testing.T, db *gorm.DB, userID int64, provider, plan, status string, periodEnd time.Time) *model.Subscription {
	t.Helper()

	sub := &model.Subscription{
		UserID:                 userID,
		Provider:               provider,
		ProviderSubscriptionID: fmt.Sprintf("%s_sub_%d", provider, nextSeq()),
		ProviderCustomerID:     fmt.Sprintf("%s_cus_%d", provider, userID),
		Plan:                   plan,
		Interval:               "month",
		Status:                 status,
		RawStatus:              status,
		Amount:                 19,
		Currency:               "USD",
		CurrentPeriodStart:     periodEnd.AddDate(0, -1, 0),
		CurrentPeriodEnd:       periodEnd,
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}
	return sub
}

// TestPayment 创建已支付记录
func TestPayment(t *testing.T, db *gorm.DB, userID int64, provider string, amount float64, paidAt time.Time) *model.Payment {
	t.Helper()

	payment := &model.Payment{
		UserID:            userID,
		Provider:          provider,
		ProviderPaymentID: fmt.Sprintf("%s_pay_%d", provider, nextSeq()),
		Plan:              "pro",
		Amount:            amount,
		Currency:          "USD",
		Status:            model.PaymentPaid,
		PaidAt:            &paidAt,
	}
	if err := db.Create(payment).Error; err != nil {
		t.Fatalf("Failed to create test payment: %v", err)
	}
	return payment
}
