package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/analytics"
)

type ContentRepository struct {
	db *gorm.DB
}

func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// ContentFilter 文档列表过滤条件，UserID 为 0 时不按用户过滤
type ContentFilter struct {
	UserID     int64
	Search     string
	TemplateID string
	Category   string
	Favorite   *bool
	Flagged    *bool
	Sort       string
}

var contentOrders = map[string]string{
	"newest": "created_at DESC, id DESC",
	"oldest": "created_at ASC, id ASC",
	"title":  "title ASC, id DESC",
	"words":  "word_count DESC, id DESC",
}

func (r *ContentRepository) Create(content *model.GeneratedContent) error {
	return r.db.Create(content).Error
}

func (r *ContentRepository) GetByID(id int64) (*model.GeneratedContent, error) {
	var content model.GeneratedContent
	if err := r.db.First(&content, id).Error; err != nil {
		return nil, err
	}
	return &content, nil
}

func (r *ContentRepository) Update(content *model.GeneratedContent) error {
	return r.db.Save(content).Error
}

func (r *ContentRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.GeneratedContent{}).Where("id = ?", id).Updates(fields).Error
}

func (r *ContentRepository) Delete(id int64) error {
	return r.db.Delete(&model.GeneratedContent{}, id).Error
}

// List 分页查询文档
func (r *ContentRepository) List(filter ContentFilter, page, pageSize int) ([]*model.GeneratedContent, int64, error) {
	query := r.db.Model(&model.GeneratedContent{})
	if filter.UserID > 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Search != "" {
		like := containsPattern(filter.Search)
		query = query.Where("title LIKE ? ESCAPE '!' OR content LIKE ? ESCAPE '!'", like, like)
	}
	if filter.TemplateID != "" {
		query = query.Where("template_id = ?", filter.TemplateID)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Favorite != nil {
		query = query.Where("is_favorite = ?", *filter.Favorite)
	}
	if filter.Flagged != nil {
		query = query.Where("flagged = ?", *filter.Flagged)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order, ok := contentOrders[filter.Sort]
	if !ok {
		order = contentOrders["newest"]
	}

	var items []*model.GeneratedContent
	err := query.Order(order).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	return items, total, err
}

// ContentTotals 用户文档汇总
type ContentTotals struct {
	Documents   int64
	Words       int64
	Favorites   int64
	CreditsUsed int64
}

func (r *ContentRepository) Totals(userID int64) (*ContentTotals, error) {
	var totals ContentTotals
	err := r.db.Model(&model.GeneratedContent{}).
		Select("COUNT(*) AS documents, COALESCE(SUM(word_count), 0) AS words, "+
			"COALESCE(SUM(CASE WHEN is_favorite THEN 1 ELSE 0 END), 0) AS favorites, "+
			"COALESCE(SUM(credits_used), 0) AS credits_used").
		Where("user_id = ?", userID).
		Scan(&totals).Error
	return &totals, err
}

// CountByCategory 按分类统计文档数量
func (r *ContentRepository) CountByCategory(userID int64) (map[string]int64, error) {
	var rows []struct {
		Category string
		Count    int64
	}
	err := r.db.Model(&model.GeneratedContent{}).
		Select("category, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("category").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.Category] = row.Count
	}
	return result, nil
}

func (r *ContentRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.GeneratedContent{}).Count(&count).Error
	return count, err
}

// Points 生成时间点，value 由 column 决定（为空时每条记为 1）
func (r *ContentRepository) Points(from, to time.Time, column string) ([]analytics.Point, error) {
	return timePoints(r.db.Model(&model.GeneratedContent{}), from, to, column)
}

func timePoints(query *gorm.DB, from, to time.Time, column string) ([]analytics.Point, error) {
	var rows []struct {
		CreatedAt time.Time
		Value     float64
	}
	selectValue := "1 AS value"
	if column != "" {
		selectValue = column + " AS value"
	}
	err := query.Select("created_at, "+selectValue).
		Where("created_at BETWEEN ? AND ?", from, to).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	points := make([]analytics.Point, len(rows))
	for i, row := range rows {
		points[i] = analytics.Point{At: row.CreatedAt, Value: row.Value}
	}
	return points, nil
}
