package model

import (
	"time"

	"gorm.io/datatypes"
)

// GeneratedContent 生成的文档
type GeneratedContent struct {
	ID           int64          `gorm:"primaryKey" json:"id"`
	UserID       int64          `gorm:"not null;index" json:"user_id"`
	TemplateID   string         `gorm:"size:50;not null;index" json:"template_id"`
	Category     string         `gorm:"size:20;index" json:"category"`
	Title        string         `gorm:"size:200;not null" json:"title"`
	Content      string         `gorm:"type:text" json:"content"`
	Prompt       string         `gorm:"type:text" json:"-"`
	Inputs       datatypes.JSON `json:"inputs"`
	ModelName    string         `gorm:"size:50" json:"model_name"`
	Tone         string         `gorm:"size:30" json:"tone,omitempty"`
	Language     string         `gorm:"size:30" json:"language,omitempty"`
	WordCount    int            `gorm:"default:0" json:"word_count"`
	InputTokens  int            `gorm:"default:0" json:"input_tokens"`
	OutputTokens int            `gorm:"default:0" json:"output_tokens"`
	CreditsUsed  int            `gorm:"default:0" json:"credits_used"`
	IsFavorite   bool           `gorm:"default:false;index" json:"is_favorite"`
	Flagged      bool           `gorm:"default:false;index" json:"flagged"`
	FlagReason   string         `gorm:"size:255" json:"flag_reason,omitempty"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (GeneratedContent) TableName() string {
	return "generated_content"
}
