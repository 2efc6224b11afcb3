package handler

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"media-fusion/app/config"

	"github.com/gin-gonic/gin"
)

// FileHandler 已下载文件的访问处理器
type FileHandler struct {
	config *config.Config
}

// NewFileHandler 创建文件处理器
func NewFileHandler(cfg *config.Config) *FileHandler {
	return &FileHandler{config: cfg}
}

// DownloadFile 以附件形式返回用户自己的下载文件
func (h *FileHandler) DownloadFile(c *gin.Context) {
	_, userID, ok := currentUserID(c)
	if !ok {
		return
	}

	rawName := c.Param("filename")
	decoded, err := url.PathUnescape(rawName)
	if err != nil {
		decoded = rawName
	}
	// 只取文件名部分，防止路径穿越
	filename := filepath.Base(decoded)

	userDownloads := filepath.Join(h.config.Download.UsersDir, userID, "downloads")
	actualPath := resolveActualPath(userDownloads, filename)
	if actualPath == "" {
		fail(c, http.StatusNotFound, 404, "文件不存在")
		return
	}

	c.FileAttachment(actualPath, filepath.Base(actualPath))
}

// resolveActualPath 按实际大小写定位文件，先精确匹配再做不区分大小写的兜底
func resolveActualPath(dir, filename string) string {
	exact := filepath.Join(dir, filename)
	if _, err := os.Stat(exact); err == nil {
		return exact
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.Name(), filename) {
			return filepath.Join(dir, entry.Name())
		}
	}
	return ""
}
