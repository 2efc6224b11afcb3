package handler

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"media-fusion/app/config"
	"media-fusion/app/database"
	"media-fusion/app/model"
	"media-fusion/app/utils"

	"github.com/gin-gonic/gin"
)

// SettingsHandler 用户设置处理器
type SettingsHandler struct {
	config *config.Config
}

// NewSettingsHandler 创建设置处理器
func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{config: cfg}
}

// UpdateSettingsRequest 设置更新请求结构
type UpdateSettingsRequest struct {
	Email               string `json:"email" binding:"omitempty,email"`
	NewPassword         string `json:"new_password" binding:"omitempty,min=6"`
	DefaultAudioQuality string `json:"default_audio_quality"`
	DefaultVideoQuality string `json:"default_video_quality"`
}

// GetSettings 返回当前用户设置和可选的质量集合
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	userID, _, ok := currentUserID(c)
	if !ok {
		return
	}

	var user model.User
	if err := database.GetDB().First(&user, userID).Error; err != nil {
		fail(c, http.StatusNotFound, 404, "用户不存在")
		return
	}

	success(c, gin.H{
		"user":            user,
		"audio_qualities": h.config.Download.AudioQualities,
		"video_qualities": h.config.Download.VideoQualities,
	}, "success")
}

// UpdateSettings 更新邮箱、密码和默认质量
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	userID, _, ok := currentUserID(c)
	if !ok {
		return
	}

	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	db := database.GetDB()
	var user model.User
	if err := db.First(&user, userID).Error; err != nil {
		fail(c, http.StatusNotFound, 404, "用户不存在")
		return
	}

	if req.Email != "" {
		user.Email = req.Email
	}
	if req.NewPassword != "" {
		hashed, err := utils.HashPassword(req.NewPassword)
		if err != nil {
			fail(c, http.StatusInternalServerError, 500, "密码哈希失败")
			return
		}
		user.Password = hashed
	}
	if req.DefaultAudioQuality != "" {
		if !slices.Contains(h.config.Download.AudioQualities, req.DefaultAudioQuality) {
			fail(c, http.StatusBadRequest, 400, "不支持的音频码率: "+req.DefaultAudioQuality)
			return
		}
		user.DefaultAudioQuality = req.DefaultAudioQuality
	}
	if req.DefaultVideoQuality != "" {
		if !slices.Contains(h.config.Download.VideoQualities, req.DefaultVideoQuality) {
			fail(c, http.StatusBadRequest, 400, "不支持的视频分辨率: "+req.DefaultVideoQuality)
			return
		}
		user.DefaultVideoQuality = req.DefaultVideoQuality
	}

	if err := db.Save(&user).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "保存设置失败")
		return
	}

	success(c, user, "设置已更新")
}

// UploadAvatar 上传头像，统一裁剪缩放后保存
func (h *SettingsHandler) UploadAvatar(c *gin.Context) {
	userID, _, ok := currentUserID(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("profile_pic")
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "缺少头像文件")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "读取头像文件失败")
		return
	}
	defer src.Close()

	if err := os.MkdirAll(h.config.Download.UploadsDir, 0755); err != nil {
		fail(c, http.StatusInternalServerError, 500, "创建上传目录失败")
		return
	}

	filename := fmt.Sprintf("user_%d.jpg", userID)
	destPath := filepath.Join(h.config.Download.UploadsDir, filename)
	if err := utils.SaveAvatar(src, destPath); err != nil {
		fail(c, http.StatusBadRequest, 400, "头像处理失败: "+err.Error())
		return
	}

	db := database.GetDB()
	var user model.User
	if err := db.First(&user, userID).Error; err != nil {
		fail(c, http.StatusNotFound, 404, "用户不存在")
		return
	}
	user.ProfilePic = filename
	if err := db.Save(&user).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "保存头像信息失败")
		return
	}

	success(c, gin.H{"profile_pic": filename}, "头像已更新")
}

// GetAvatar 返回用户头像，未上传时生成首字母占位图
func (h *SettingsHandler) GetAvatar(c *gin.Context) {
	userID, _, ok := currentUserID(c)
	if !ok {
		return
	}

	var user model.User
	if err := database.GetDB().First(&user, userID).Error; err != nil {
		fail(c, http.StatusNotFound, 404, "用户不存在")
		return
	}

	if user.ProfilePic != "" {
		path := filepath.Join(h.config.Download.UploadsDir, user.ProfilePic)
		if _, err := os.Stat(path); err == nil {
			c.File(path)
			return
		}
	}

	png, err := utils.DefaultAvatarPNG(user.Username)
	if err != nil {
		fail(c, http.StatusInternalServerError, 500, "生成默认头像失败")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
