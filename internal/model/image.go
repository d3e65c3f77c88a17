package model

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	ImageQueued     = "queued"
	ImageProcessing = "processing"
	ImageCompleted  = "completed"
	ImageFailed     = "failed"

	// LocalURLPrefix 本地存储的图片 URL 前缀
	LocalURLPrefix = "local://"
)

// GeneratedImage 图片生成任务及其结果
type GeneratedImage struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	UserID       int64      `gorm:"not null;index" json:"user_id"`
	TemplateID   string     `gorm:"size:50" json:"template_id,omitempty"`
	Prompt       string     `gorm:"type:text;not null" json:"prompt"`
	Size         string     `gorm:"size:20;not null" json:"size"`
	Style        string     `gorm:"size:30" json:"style,omitempty"`
	ModelName    string     `gorm:"size:50" json:"model_name"`
	Status       string     `gorm:"size:20;default:queued;index" json:"status"`
	ImageURL     string     `gorm:"size:500" json:"image_url,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CreditsUsed  int        `gorm:"default:0" json:"credits_used"`
	Flagged      bool       `gorm:"default:false;index" json:"flagged"`
	FlagReason   string     `gorm:"size:255" json:"flag_reason,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (GeneratedImage) TableName() string {
	return "generated_images"
}

func (i *GeneratedImage) IsLocal() bool {
	return strings.HasPrefix(i.ImageURL, LocalURLPrefix)
}

// LocalImageURL 本地存储图片的 URL
func LocalImageURL(id int64) string {
	return LocalURLPrefix + strconv.FormatInt(id, 10)
}

// LocalImagePath 本地存储图片的文件路径
func LocalImagePath(dir string, id int64) string {
	return filepath.Join(dir, "images", strconv.FormatInt(id, 10)+".png")
}

// PublicURL 前端可访问的地址，本地图片通过鉴权接口下载
func (i *GeneratedImage) PublicURL() string {
	if i.IsLocal() {
		return "/api/v1/images/" + strconv.FormatInt(i.ID, 10) + "/file"
	}
	return i.ImageURL
}
