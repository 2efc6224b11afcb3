package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ApiResponse 统一响应结构
type ApiResponse struct {
	Code    int    `json:"code"`    // 状态码，0表示成功
	Message string `json:"message"` // 响应消息
	Data    any    `json:"data"`    // 响应数据
}

// success 创建成功响应
func success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// fail 创建错误响应
func fail(c *gin.Context, statusCode int, errorCode int, message string) {
	c.JSON(statusCode, ApiResponse{
		Code:    errorCode,
		Message: message,
		Data:    nil,
	})
}

// currentUserID 从上下文取出认证中间件写入的用户 ID，
// 返回数据库主键和用于文件目录的字符串形式
func currentUserID(c *gin.Context) (uint, string, bool) {
	value, exists := c.Get("user_id")
	if !exists {
		fail(c, http.StatusUnauthorized, 401, "未认证")
		return 0, "", false
	}

	id, ok := value.(uint)
	if !ok {
		fail(c, http.StatusUnauthorized, 401, "未认证")
		return 0, "", false
	}
	return id, userDirID(id), true
}

// userDirID 用户数据目录使用的 ID 字符串形式
func userDirID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
