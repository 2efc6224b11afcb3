package database

import (
	"fmt"

	"media-fusion/app/config"
	"media-fusion/app/logger"
	"media-fusion/app/model"
	"media-fusion/app/utils"
)

// InitAdminUser 初始化管理员账户
func InitAdminUser(cfg *config.Config, log *logger.Logger) error {
	// 检查配置文件中是否有管理员用户名和密码
	if cfg.Server.Username == "" || cfg.Server.Password == "" {
		return fmt.Errorf("管理员账户配置不能为空，请在配置文件中设置 username 和 password")
	}

	var admin model.User
	result := DB.Where("is_admin = ?", true).First(&admin)
	if result.Error != nil {
		// 不存在管理员用户，创建新的管理员用户
		hashedPassword, err := utils.HashPassword(cfg.Server.Password)
		if err != nil {
			return fmt.Errorf("哈希密码失败: %v", err)
		}

		admin = model.User{
			Username:            cfg.Server.Username,
			Password:            hashedPassword,
			IsActive:            true,
			IsAdmin:             true,
			DefaultAudioQuality: cfg.Download.DefaultAudioQuality,
			DefaultVideoQuality: cfg.Download.DefaultVideoQuality,
		}
		if err := DB.Create(&admin).Error; err != nil {
			return fmt.Errorf("创建管理员账户失败: %v", err)
		}

		log.Infof("管理员账户 '%s' 创建成功", cfg.Server.Username)
		return nil
	}

	// 管理员已存在，按配置同步用户名和密码
	needUpdate := false
	if admin.Username != cfg.Server.Username {
		log.Infof("管理员用户名从 '%s' 更新为 '%s'", admin.Username, cfg.Server.Username)
		admin.Username = cfg.Server.Username
		needUpdate = true
	}
	if !utils.VerifyPassword(cfg.Server.Password, admin.Password) {
		hashedPassword, err := utils.HashPassword(cfg.Server.Password)
		if err != nil {
			return fmt.Errorf("哈希密码失败: %v", err)
		}
		admin.Password = hashedPassword
		needUpdate = true
		log.Infof("管理员 '%s' 密码已更新", cfg.Server.Username)
	}

	if needUpdate {
		if err := DB.Save(&admin).Error; err != nil {
			return fmt.Errorf("更新管理员账户失败: %v", err)
		}
	}
	return nil
}
