package dto

import "encoding/json"

// DocumentListQuery 文档列表查询
type DocumentListQuery struct {
	Page       int    `form:"page,default=1"`
	PageSize   int    `form:"page_size,default=20"`
	Search     string `form:"search"`
	TemplateID string `form:"template_id"`
	Category   string `form:"category"`
	Favorite   *bool  `form:"favorite"`
	Sort       string `form:"sort,default=newest" binding:"omitempty,oneof=newest oldest title words"`
}

func (q *DocumentListQuery) Normalize() {
	q.Page, q.PageSize = normalizePage(q.Page, q.PageSize)
	if q.Sort == "" {
		q.Sort = "newest"
	}
}

// DocumentListItem 文档列表项
type DocumentListItem struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	TemplateID string `json:"template_id"`
	Category   string `json:"category"`
	Excerpt    string `json:"excerpt"`
	WordCount  int    `json:"word_count"`
	ModelName  string `json:"model_name"`
	IsFavorite bool   `json:"is_favorite"`
	Flagged    bool   `json:"flagged"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// DocumentDetail 文档详情
type DocumentDetail struct {
	ID           int64           `json:"id"`
	Title        string          `json:"title"`
	Content      string          `json:"content"`
	TemplateID   string          `json:"template_id"`
	Category     string          `json:"category"`
	Inputs       json.RawMessage `json:"inputs,omitempty"`
	ModelName    string          `json:"model_name"`
	Tone         string          `json:"tone,omitempty"`
	Language     string          `json:"language,omitempty"`
	WordCount    int             `json:"word_count"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	CreditsUsed  int             `json:"credits_used"`
	IsFavorite   bool            `json:"is_favorite"`
	Flagged      bool            `json:"flagged"`
	FlagReason   string          `json:"flag_reason,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// UpdateDocumentRequest 更新文档请求
type UpdateDocumentRequest struct {
	Title   *string `json:"title,omitempty" binding:"omitempty,min=1,max=200"`
	Content *string `json:"content,omitempty"`
}

// FavoriteRequest 收藏/取消收藏
type FavoriteRequest struct {
	Favorite *bool `json:"favorite" binding:"required"`
}

// DocumentStats 文档统计
type DocumentStats struct {
	Documents   int64            `json:"documents"`
	Words       int64            `json:"words"`
	Favorites   int64            `json:"favorites"`
	CreditsUsed int64            `json:"credits_used"`
	Images      int64            `json:"images"`
	ByCategory  map[string]int64 `json:"by_category"`
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
