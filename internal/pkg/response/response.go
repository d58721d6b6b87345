package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 业务码，HTTP 状态码默认始终为 200
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeGatewayError     = 1004
	CodeDuplicateAction  = 1005
	CodeServerError      = 5000
)

var defaultMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodePermissionDenied: "权限不足",
	CodeResourceNotFound: "资源不存在",
	CodeGatewayError:     "支付网关错误",
	CodeDuplicateAction:  "重复操作",
	CodeServerError:      "服务器内部错误",
}

// Message 业务码的默认文案，未知业务码返回空串
func Message(code int) string {
	return defaultMessages[code]
}

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func write(c *gin.Context, status, code int, message string, data interface{}) {
	if message == "" {
		message = Message(code)
	}
	c.JSON(status, Response{Code: code, Message: message, Data: data})
}

func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, CodeSuccess, "", data)
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	write(c, http.StatusOK, CodeSuccess, message, data)
}

func Error(c *gin.Context, code int, message string) {
	ErrorWithStatus(c, http.StatusOK, code, message)
}

// ErrorWithStatus 写入错误并中止后续 handler；支付回调与 ws 握手需要真实的 HTTP 状态码
func ErrorWithStatus(c *gin.Context, status, code int, message string) {
	c.Abort()
	write(c, status, code, message, nil)
}

func ParamError(c *gin.Context, message string)      { Error(c, CodeParamError, message) }
func AuthError(c *gin.Context, message string)       { Error(c, CodeAuthFailed, message) }
func PermissionError(c *gin.Context, message string) { Error(c, CodePermissionDenied, message) }
func NotFoundError(c *gin.Context, message string)   { Error(c, CodeResourceNotFound, message) }

// GatewayError 支付网关拒绝请求或不可达
func GatewayError(c *gin.Context, message string)   { Error(c, CodeGatewayError, message) }
func DuplicateError(c *gin.Context, message string) { Error(c, CodeDuplicateAction, message) }
func ServerError(c *gin.Context, message string)    { Error(c, CodeServerError, message) }
