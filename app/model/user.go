package model

import (
	"time"

	"gorm.io/gorm"
)

// User 用户模型
type User struct {
	ID                  uint           `json:"id" gorm:"primarykey"`
	Username            string         `json:"username" gorm:"uniqueIndex;not null"`
	Password            string         `json:"-" gorm:"not null"` // json:"-" 确保密码不会被序列化
	Email               string         `json:"email"`
	IsActive            bool           `json:"is_active" gorm:"default:true"`
	IsAdmin             bool           `json:"is_admin" gorm:"default:false"`
	ProfilePic          string         `json:"profile_pic"`                                   // 头像文件名
	DefaultAudioQuality string         `json:"default_audio_quality" gorm:"default:'192k'"`   // 个人默认音频码率
	DefaultVideoQuality string         `json:"default_video_quality" gorm:"default:'720p'"`   // 个人默认视频分辨率
	LastLogin           *time.Time     `json:"last_login"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}
