package service

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode"

	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/repository"
)

var (
	ErrContentNotFound   = errors.New("文档不存在")
	ErrContentPermission = errors.New("无权操作此文档")
	ErrEmptyTitle        = errors.New("标题不能为空")
)

const excerptRunes = 160

type DocumentService struct {
	contentRepo *repository.ContentRepository
	imageRepo   *repository.ImageRepository
}

func NewDocumentService(contentRepo *repository.ContentRepository, imageRepo *repository.ImageRepository) *DocumentService {
	return &DocumentService{
		contentRepo: contentRepo,
		imageRepo:   imageRepo,
	}
}

// List 分页查询当前用户的文档
func (s *DocumentService) List(userID int64, q *dto.DocumentListQuery) ([]*dto.DocumentListItem, int64, error) {
	q.Normalize()

	contents, total, err := s.contentRepo.List(repository.ContentFilter{
		UserID:     userID,
		Search:     strings.TrimSpace(q.Search),
		TemplateID: q.TemplateID,
		Category:   q.Category,
		Favorite:   q.Favorite,
		Sort:       q.Sort,
	}, q.Page, q.PageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.DocumentListItem, len(contents))
	for i, c := range contents {
		items[i] = toDocumentListItem(c)
	}
	return items, total, nil
}

// Get 获取文档详情
func (s *DocumentService) Get(userID, id int64) (*dto.DocumentDetail, error) {
	content, err := s.owned(userID, id)
	if err != nil {
		return nil, err
	}
	return toDocumentDetail(content), nil
}

// Update 修改标题或正文，正文变化时重新计算字数
func (s *DocumentService) Update(userID, id int64, req *dto.UpdateDocumentRequest) (*dto.DocumentDetail, error) {
	content, err := s.owned(userID, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, ErrEmptyTitle
		}
		content.Title = title
	}
	if req.Content != nil {
		content.Content = *req.Content
		content.WordCount = countWords(content.Content)
	}

	if err := s.contentRepo.Update(content); err != nil {
		return nil, err
	}
	return toDocumentDetail(content), nil
}

// SetFavorite 收藏或取消收藏
func (s *DocumentService) SetFavorite(userID, id int64, favorite bool) error {
	if _, err := s.owned(userID, id); err != nil {
		return err
	}
	return s.contentRepo.UpdateFields(id, map[string]interface{}{"is_favorite": favorite})
}

func (s *DocumentService) Delete(userID, id int64) error {
	if _, err := s.owned(userID, id); err != nil {
		return err
	}
	return s.contentRepo.Delete(id)
}

// Stats 文档统计
func (s *DocumentService) Stats(userID int64) (*dto.DocumentStats, error) {
	totals, err := s.contentRepo.Totals(userID)
	if err != nil {
		return nil, err
	}
	byCategory, err := s.contentRepo.CountByCategory(userID)
	if err != nil {
		return nil, err
	}
	images, err := s.imageRepo.CountByUser(userID)
	if err != nil {
		return nil, err
	}

	return &dto.DocumentStats{
		Documents:   totals.Documents,
		Words:       totals.Words,
		Favorites:   totals.Favorites,
		CreditsUsed: totals.CreditsUsed,
		Images:      images,
		ByCategory:  byCategory,
	}, nil
}

func (s *DocumentService) owned(userID, id int64) (*model.GeneratedContent, error) {
	content, err := s.contentRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	if content.UserID != userID {
		return nil, ErrContentPermission
	}
	return content, nil
}

// countWords 英文按空白分词，中日韩文字每个字计 1
func countWords(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			count++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				count++
				inWord = true
			}
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			inWord = false
		}
	}
	return count
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= excerptRunes {
		return s
	}
	return string(runes[:excerptRunes]) + "…"
}

func toDocumentListItem(c *model.GeneratedContent) *dto.DocumentListItem {
	return &dto.DocumentListItem{
		ID:         c.ID,
		Title:      c.Title,
		TemplateID: c.TemplateID,
		Category:   c.Category,
		Excerpt:    excerpt(c.Content),
		WordCount:  c.WordCount,
		ModelName:  c.ModelName,
		IsFavorite: c.IsFavorite,
		Flagged:    c.Flagged,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  c.UpdatedAt.Format(time.RFC3339),
	}
}

func toDocumentDetail(c *model.GeneratedContent) *dto.DocumentDetail {
	detail := &dto.DocumentDetail{
		ID:           c.ID,
		Title:        c.Title,
		Content:      c.Content,
		TemplateID:   c.TemplateID,
		Category:     c.Category,
		ModelName:    c.ModelName,
		Tone:         c.Tone,
		Language:     c.Language,
		WordCount:    c.WordCount,
		InputTokens:  c.InputTokens,
		OutputTokens: c.OutputTokens,
		CreditsUsed:  c.CreditsUsed,
		IsFavorite:   c.IsFavorite,
		Flagged:      c.Flagged,
		FlagReason:   c.FlagReason,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
	}
	if len(c.Inputs) > 0 {
		detail.Inputs = json.RawMessage(c.Inputs)
	}
	return detail
}
