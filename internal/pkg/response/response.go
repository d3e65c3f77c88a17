package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 业务错误码，HTTP 状态码统一为 200
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeQuotaExceeded    = 1004
	CodeDuplicateAction  = 1005
	CodeRateLimited      = 1006
	CodeMaintenance      = 1007
	CodeUpstreamError    = 1008
	CodeServerError      = 5000
)

var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodePermissionDenied: "权限不足",
	CodeResourceNotFound: "资源不存在",
	CodeQuotaExceeded:    "积分不足",
	CodeDuplicateAction:  "重复操作",
	CodeRateLimited:      "请求过于频繁，请稍后再试",
	CodeMaintenance:      "系统维护中",
	CodeUpstreamError:    "上游服务暂不可用",
	CodeServerError:      "服务器内部错误",
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据结构
type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// Message 错误码的默认提示
func Message(code int) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return codeMessages[CodeServerError]
}

func write(c *gin.Context, code int, message string, data interface{}) {
	if message == "" {
		message = Message(code)
	}
	c.JSON(http.StatusOK, Response{Code: code, Message: message, Data: data})
}

func Success(c *gin.Context, data interface{}) {
	write(c, CodeSuccess, "", data)
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	write(c, CodeSuccess, message, data)
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	write(c, CodeSuccess, "", PageData{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Items:    items,
	})
}

// Error message 为空时使用默认提示
func Error(c *gin.Context, code int, message string) {
	write(c, code, message, nil)
}

// ErrorWithData 附带明细的错误响应，例如字段校验结果
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	write(c, code, message, data)
}

func ParamError(c *gin.Context, message string)       { Error(c, CodeParamError, message) }
func AuthError(c *gin.Context, message string)        { Error(c, CodeAuthFailed, message) }
func PermissionError(c *gin.Context, message string)  { Error(c, CodePermissionDenied, message) }
func NotFoundError(c *gin.Context, message string)    { Error(c, CodeResourceNotFound, message) }
func QuotaError(c *gin.Context, message string)       { Error(c, CodeQuotaExceeded, message) }
func DuplicateError(c *gin.Context, message string)   { Error(c, CodeDuplicateAction, message) }
func RateLimitError(c *gin.Context, message string)   { Error(c, CodeRateLimited, message) }
func MaintenanceError(c *gin.Context, message string) { Error(c, CodeMaintenance, message) }
func UpstreamError(c *gin.Context, message string)    { Error(c, CodeUpstreamError, message) }
func ServerError(c *gin.Context, message string)      { Error(c, CodeServerError, message) }
