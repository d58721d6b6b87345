package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	router := gin.New()
	router.GET("/test", handler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestSuccess(t *testing.T) {
	w, resp := serve(t, func(c *gin.Context) {
		Success(c, gin.H{"key": "value"})
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "success", resp.Message)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "value", data["key"])
}

func TestSuccessWithMessage(t *testing.T) {
	_, resp := serve(t, func(c *gin.Context) {
		SuccessWithMessage(c, "已加入队列", nil)
	})

	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "已加入队列", resp.Message)
	assert.Nil(t, resp.Data)
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name    string
		handler func(c *gin.Context, message string)
		code    int
	}{
		{"param", ParamError, CodeParamError},
		{"auth", AuthError, CodeAuthFailed},
		{"permission", PermissionError, CodePermissionDenied},
		{"not found", NotFoundError, CodeResourceNotFound},
		{"gateway", GatewayError, CodeGatewayError},
		{"duplicate", DuplicateError, CodeDuplicateAction},
		{"server", ServerError, CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/default message", func(t *testing.T) {
			w, resp := serve(t, func(c *gin.Context) { tt.handler(c, "") })
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, Message(tt.code), resp.Message)
			assert.Nil(t, resp.Data)
		})
		t.Run(tt.name+"/custom message", func(t *testing.T) {
			_, resp := serve(t, func(c *gin.Context) { tt.handler(c, "custom") })
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, "custom", resp.Message)
		})
	}
}

func TestErrorWithStatus(t *testing.T) {
	w, resp := serve(t, func(c *gin.Context) {
		ErrorWithStatus(c, http.StatusBadRequest, CodeParamError, "")
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeParamError, resp.Code)
	assert.Equal(t, "参数错误", resp.Message)
}

func TestErrorWithStatus_AbortsChain(t *testing.T) {
	router := gin.New()
	reached := false
	router.GET("/test", func(c *gin.Context) {
		ErrorWithStatus(c, http.StatusUnauthorized, CodeAuthFailed, "")
	}, func(c *gin.Context) {
		reached = true
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, reached)
}

func TestError_UnknownCode(t *testing.T) {
	_, resp := serve(t, func(c *gin.Context) {
		Error(c, 9999, "")
	})

	assert.Equal(t, 9999, resp.Code)
	assert.Empty(t, resp.Message)
}
