package handler

import (
	"net/http"

	"media-fusion/app/config"
	"media-fusion/app/database"
	"media-fusion/app/model"
	"media-fusion/app/service"

	"github.com/gin-gonic/gin"
)

// TaskHandler 下载任务处理器
type TaskHandler struct {
	config *config.Config
	queue  *service.QueueService
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(cfg *config.Config, queue *service.QueueService) *TaskHandler {
	return &TaskHandler{
		config: cfg,
		queue:  queue,
	}
}

// CreateTaskRequest 新建任务请求结构
type CreateTaskRequest struct {
	Input     string `json:"input" binding:"required"`
	MediaType string `json:"media_type"` // audio 或 video，默认 audio
	Quality   string `json:"quality"`    // 为空时使用用户的默认质量
}

// CreateTask 新建下载任务
func (h *TaskHandler) CreateTask(c *gin.Context) {
	dbID, userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	// 未指定质量时取用户设置里的默认值
	if req.Quality == "" {
		var user model.User
		if err := database.GetDB().First(&user, dbID).Error; err == nil {
			if req.MediaType == model.MediaTypeVideo {
				req.Quality = user.DefaultVideoQuality
			} else {
				req.Quality = user.DefaultAudioQuality
			}
		}
	}

	task, err := h.queue.Enqueue(userID, req.Input, req.MediaType, req.Quality)
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "任务创建失败: "+err.Error())
		return
	}

	success(c, task, "任务已加入队列")
}

// GetQueue 获取当前队列
func (h *TaskHandler) GetQueue(c *gin.Context) {
	_, userID, ok := currentUserID(c)
	if !ok {
		return
	}
	success(c, h.queue.Queue(userID), "success")
}

// GetHistory 获取历史记录
func (h *TaskHandler) GetHistory(c *gin.Context) {
	_, userID, ok := currentUserID(c)
	if !ok {
		return
	}
	success(c, h.queue.History(userID), "success")
}

// PauseTask 暂停任务
func (h *TaskHandler) PauseTask(c *gin.Context) {
	_, userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if !h.queue.Pause(userID, c.Param("id")) {
		fail(c, http.StatusNotFound, 404, "任务不存在或当前状态不可暂停")
		return
	}
	success(c, nil, "任务已暂停")
}

// ResumeTask 恢复任务
func (h *TaskHandler) ResumeTask(c *gin.Context) {
	_, userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if !h.queue.Resume(userID, c.Param("id")) {
		fail(c, http.StatusNotFound, 404, "任务不存在或未处于暂停状态")
		return
	}
	success(c, nil, "任务已恢复")
}

// DeleteTask 删除任务
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	_, userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if !h.queue.Delete(userID, c.Param("id")) {
		fail(c, http.StatusNotFound, 404, "任务不存在")
		return
	}
	success(c, nil, "任务已删除")
}

// RetryTask 重试历史任务
func (h *TaskHandler) RetryTask(c *gin.Context) {
	_, userID, ok := currentUserID(c)
	if !ok {
		return
	}

	task, ok := h.queue.Retry(userID, c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, 404, "历史记录中不存在该任务")
		return
	}
	success(c, task, "任务已重新入队")
}
