package repository

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/analytics"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UserFilter 后台用户列表过滤条件
type UserFilter struct {
	Search string
	Role   string
	Status string
	Plan   string
}

func (r *UserRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepository) GetByID(id int64) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	return r.firstWhere("email = ?", email)
}

func (r *UserRepository) GetByUsername(username string) (*model.User, error) {
	return r.firstWhere("username = ?", username)
}

func (r *UserRepository) GetByGithubID(githubID string) (*model.User, error) {
	return r.firstWhere("github_id = ?", githubID)
}

func (r *UserRepository) GetByVerificationCode(code string) (*model.User, error) {
	return r.firstWhere("verification_code = ?", code)
}

func (r *UserRepository) firstWhere(query string, arg interface{}) (*model.User, error) {
	var user model.User
	if err := r.db.Where(query, arg).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) Update(user *model.User) error {
	return r.db.Save(user).Error
}

func (r *UserRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(fields).Error
}

func (r *UserRepository) SetPlan(id int64, plan string) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Update("plan", plan).Error
}

func (r *UserRepository) TouchLogin(id int64, at time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Update("last_login_at", at).Error
}

func (r *UserRepository) ExistsByEmail(email string) (bool, error) {
	var count int64
	err := r.db.Model(&model.User{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

func (r *UserRepository) ExistsByUsername(username string) (bool, error) {
	var count int64
	err := r.db.Model(&model.User{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

// List 后台分页查询用户
func (r *UserRepository) List(filter UserFilter, page, pageSize int) ([]*model.User, int64, error) {
	query := r.db.Model(&model.User{})
	if filter.Search != "" {
		like := containsPattern(filter.Search)
		query = query.Where("username LIKE ? ESCAPE '!' OR email LIKE ? ESCAPE '!'", like, like)
	}
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Plan != "" {
		query = query.Where("plan = ?", filter.Plan)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []*model.User
	err := query.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error
	return users, total, err
}

// ListByIDs 批量查询用户
func (r *UserRepository) ListByIDs(ids []int64) ([]*model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []*model.User
	err := r.db.Where("id IN ?", ids).Find(&users).Error
	return users, err
}

// IDsByEmailLike 按邮箱模糊匹配用户 ID
func (r *UserRepository) IDsByEmailLike(search string) ([]int64, error) {
	var ids []int64
	err := r.db.Model(&model.User{}).
		Where("email LIKE ? ESCAPE '!'", containsPattern(search)).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *UserRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.User{}).Count(&count).Error
	return count, err
}

func (r *UserRepository) CountVerified() (int64, error) {
	var count int64
	err := r.db.Model(&model.User{}).Where("email_verified = ?", true).Count(&count).Error
	return count, err
}

// SignupPoints 注册时间点
func (r *UserRepository) SignupPoints(from, to time.Time) ([]analytics.Point, error) {
	var times []time.Time
	err := r.db.Model(&model.User{}).
		Where("created_at BETWEEN ? AND ?", from, to).
		Pluck("created_at", &times).Error
	if err != nil {
		return nil, err
	}
	points := make([]analytics.Point, len(times))
	for i, t := range times {
		points[i] = analytics.Point{At: t, Value: 1}
	}
	return points, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// containsPattern 子串匹配的 LIKE 模式，配合 ESCAPE '!' 使用
func containsPattern(search string) string {
	return "%" + likeEscaper.Replace(search) + "%"
}
