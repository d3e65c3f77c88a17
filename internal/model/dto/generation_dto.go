package dto

// GenerateRequest 文本生成请求
type GenerateRequest struct {
	TemplateID string                 `json:"template_id" binding:"required,max=50"`
	Inputs     map[string]interface{} `json:"inputs"`
	Model      string                 `json:"model,omitempty" binding:"omitempty,max=50"`
	Tone       string                 `json:"tone,omitempty" binding:"omitempty,max=30"`
	Language   string                 `json:"language,omitempty" binding:"omitempty,max=30"`
	Title      string                 `json:"title,omitempty" binding:"omitempty,max=200"`
}

// GenerateResponse 文本生成响应
type GenerateResponse struct {
	Document *DocumentDetail `json:"document"`
	Credits  *CreditInfo     `json:"credits"`
}

// GenerateImageRequest 图片生成请求，prompt 与 template_id 二选一
type GenerateImageRequest struct {
	Prompt     string                 `json:"prompt,omitempty" binding:"omitempty,max=2000"`
	TemplateID string                 `json:"template_id,omitempty" binding:"omitempty,max=50"`
	Inputs     map[string]interface{} `json:"inputs,omitempty"`
	Size       string                 `json:"size" binding:"required,oneof=256x256 512x512 1024x1024"`
	Style      string                 `json:"style,omitempty" binding:"omitempty,max=30"`
}

// GenerateImageResponse 图片任务已入队
type GenerateImageResponse struct {
	ImageID int64       `json:"image_id"`
	Status  string      `json:"status"`
	Credits *CreditInfo `json:"credits"`
}

// ImageListQuery 图片列表查询
type ImageListQuery struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Status   string `form:"status"`
}

func (q *ImageListQuery) Normalize() {
	q.Page, q.PageSize = normalizePage(q.Page, q.PageSize)
}

// ImageItem 图片任务信息
type ImageItem struct {
	ID           int64  `json:"id"`
	TemplateID   string `json:"template_id,omitempty"`
	Prompt       string `json:"prompt"`
	Size         string `json:"size"`
	Style        string `json:"style,omitempty"`
	ModelName    string `json:"model_name"`
	Status       string `json:"status"`
	ImageURL     string `json:"image_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreditsUsed  int    `json:"credits_used"`
	Flagged      bool   `json:"flagged"`
	FlagReason   string `json:"flag_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
}
