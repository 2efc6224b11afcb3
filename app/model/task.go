package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"     // 排队中
	TaskStatusProcessing TaskStatus = "processing" // 处理中
	TaskStatusPaused     TaskStatus = "paused"     // 已暂停
	TaskStatusCompleted  TaskStatus = "completed"  // 已完成
	TaskStatusFailed     TaskStatus = "failed"     // 失败
)

// 媒体类型
const (
	MediaTypeAudio = "audio"
	MediaTypeVideo = "video"
)

// Task 一条用户提交的下载任务及其生命周期状态
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Input       string     `json:"input"`      // 原始 URL 或搜索词
	MediaType   string     `json:"media_type"` // audio 或 video
	Quality     string     `json:"quality"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	ResolvedURL string     `json:"resolved_url,omitempty"` // 输入解析出的具体资源地址
	File        string     `json:"file,omitempty"`         // 下载完成后的文件名
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTaskID 生成任务 ID，毫秒时间戳加随机后缀防止同一毫秒内碰撞
func NewTaskID() string {
	return fmt.Sprintf("task-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// IsAudio 是否为音频任务
func (t *Task) IsAudio() bool {
	return t.MediaType != MediaTypeVideo
}

// IsFinished 任务是否已经结束
func (s TaskStatus) IsFinished() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// UserDatabase 单个用户的队列与历史文档，持久化为该用户目录下的 database.json
type UserDatabase struct {
	Queue   []Task `json:"queue"`
	History []Task `json:"history"`
}

// FindInQueue 按 ID 在队列中查找任务，返回下标，未找到时返回 -1
func (d *UserDatabase) FindInQueue(taskID string) int {
	for i := range d.Queue {
		if d.Queue[i].ID == taskID {
			return i
		}
	}
	return -1
}

// FindInHistory 按 ID 在历史中查找任务，返回下标，未找到时返回 -1
func (d *UserDatabase) FindInHistory(taskID string) int {
	for i := range d.History {
		if d.History[i].ID == taskID {
			return i
		}
	}
	return -1
}

// RemoveFromQueue 从队列中删除任务，返回是否删除成功
func (d *UserDatabase) RemoveFromQueue(taskID string) bool {
	if i := d.FindInQueue(taskID); i >= 0 {
		d.Queue = append(d.Queue[:i], d.Queue[i+1:]...)
		return true
	}
	return false
}
