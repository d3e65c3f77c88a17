package dto

// ProfileResponse 个人资料
type ProfileResponse struct {
	*UserInfo
	FullName string `json:"full_name"`
	Company  string `json:"company"`
	Website  string `json:"website"`
	Bio      string `json:"bio"`
	Language string `json:"language"`
	Timezone string `json:"timezone"`
}

// UpdateProfileRequest 更新资料请求，字段为空表示不修改
type UpdateProfileRequest struct {
	Username *string `json:"username,omitempty" binding:"omitempty,min=3,max=50"`
	FullName *string `json:"full_name,omitempty" binding:"omitempty,max=100"`
	Company  *string `json:"company,omitempty" binding:"omitempty,max=100"`
	Website  *string `json:"website,omitempty" binding:"omitempty,max=255"`
	Bio      *string `json:"bio,omitempty" binding:"omitempty,max=500"`
	Language *string `json:"language,omitempty" binding:"omitempty,max=20"`
	Timezone *string `json:"timezone,omitempty" binding:"omitempty,max=50"`
}

// UpdateNotificationRequest 更新通知设置
type UpdateNotificationRequest struct {
	EmailOnGeneration *bool `json:"email_on_generation,omitempty"`
	EmailOnBilling    *bool `json:"email_on_billing,omitempty"`
	ProductUpdates    *bool `json:"product_updates,omitempty"`
	WeeklyDigest      *bool `json:"weekly_digest,omitempty"`
}

// ChangePasswordRequest 修改密码
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"omitempty,max=32"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=32"`
}
