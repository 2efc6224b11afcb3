package service

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-fusion/app/config"
	"media-fusion/app/logger"

	"github.com/robfig/cron/v3"
)

// CleanupService 定期清理下载中断留下的临时文件。
// 只清理文件，从不改动任务记录：崩溃遗留的 processing 任务需要用户显式重试。
type CleanupService struct {
	cfg  *config.Config
	log  *logger.Logger
	cron *cron.Cron
}

// NewCleanupService 创建清理服务
func NewCleanupService(cfg *config.Config, log *logger.Logger) *CleanupService {
	return &CleanupService{
		cfg:  cfg,
		log:  log,
		cron: cron.New(),
	}
}

// Start 启动定时清理，启动时先执行一次
func (s *CleanupService) Start() {
	if _, err := s.cron.AddFunc("@hourly", s.sweep); err != nil {
		s.log.Errorf("注册清理任务失败: %v", err)
		return
	}
	s.cron.Start()

	go s.sweep()
	s.log.Info("临时文件清理服务已启动")
}

// Stop 停止定时清理
func (s *CleanupService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("临时文件清理服务已停止")
}

// sweep 扫描所有用户的下载目录，删除超过保留时长的 .part 和 .tmp 文件
func (s *CleanupService) sweep() {
	maxAge := time.Duration(s.cfg.Download.CleanupMaxAgeHours) * time.Hour
	cutoff := time.Now().Add(-maxAge)

	users, err := os.ReadDir(s.cfg.Download.UsersDir)
	if err != nil {
		return
	}

	removed := 0
	for _, user := range users {
		if !user.IsDir() {
			continue
		}

		downloads := filepath.Join(s.cfg.Download.UsersDir, user.Name(), "downloads")
		files, err := os.ReadDir(downloads)
		if err != nil {
			continue
		}

		for _, file := range files {
			name := file.Name()
			if !strings.HasSuffix(name, ".part") && !strings.HasSuffix(name, ".tmp") {
				continue
			}

			info, err := file.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}

			path := filepath.Join(downloads, name)
			if err := os.Remove(path); err != nil {
				s.log.Errorf("删除临时文件失败: %s, err=%v", path, err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		s.log.Infof("清理了 %d 个过期临时文件", removed)
	}
}
