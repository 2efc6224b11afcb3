package config

import (
	"fmt"
	"log"
	"slices"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Download DownloadConfig `mapstructure:"download"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Workers  int    `mapstructure:"workers"` // 下载工作协程数量
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`      // JWT 密钥
	ExpireTime int    `mapstructure:"expire_time"` // 过期时间（小时）
	Issuer     string `mapstructure:"issuer"`      // 签发者
}

// DownloadConfig 下载相关配置
type DownloadConfig struct {
	UsersDir            string   `mapstructure:"users_dir"`             // 每个用户的数据目录根
	UploadsDir          string   `mapstructure:"uploads_dir"`           // 头像等上传文件目录
	AudioQualities      []string `mapstructure:"audio_qualities"`       // 允许的音频码率
	VideoQualities      []string `mapstructure:"video_qualities"`       // 允许的视频分辨率
	DefaultAudioQuality string   `mapstructure:"default_audio_quality"` // 默认音频码率
	DefaultVideoQuality string   `mapstructure:"default_video_quality"` // 默认视频分辨率
	AudioFormat         string   `mapstructure:"audio_format"`          // 音频输出格式
	VideoFormat         string   `mapstructure:"video_format"`          // 视频输出格式
	SearchAPIURL        string   `mapstructure:"search_api_url"`        // 搜索 API 地址（Invidious 兼容）
	WatchURLBase        string   `mapstructure:"watch_url_base"`        // 搜索结果拼接的播放地址前缀
	CleanupMaxAgeHours  int      `mapstructure:"cleanup_max_age_hours"` // 残留临时文件的保留时长
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "5000")
	viper.SetDefault("server.workers", 3)

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// JWT默认配置
	viper.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	viper.SetDefault("jwt.expire_time", 24) // 24小时
	viper.SetDefault("jwt.issuer", "media-fusion")

	// 下载默认配置
	viper.SetDefault("download.users_dir", "data/users")
	viper.SetDefault("download.uploads_dir", "data/uploads")
	viper.SetDefault("download.audio_qualities", []string{"64k", "128k", "192k", "256k", "320k"})
	viper.SetDefault("download.video_qualities", []string{"144p", "240p", "360p", "480p", "720p", "1080p", "1440p", "2160p"})
	viper.SetDefault("download.default_audio_quality", "192k")
	viper.SetDefault("download.default_video_quality", "720p")
	viper.SetDefault("download.audio_format", "mp3")
	viper.SetDefault("download.video_format", "mp4")
	viper.SetDefault("download.search_api_url", "https://yewtu.be")
	viper.SetDefault("download.watch_url_base", "https://www.youtube.com/watch?v=")
	viper.SetDefault("download.cleanup_max_age_hours", 24)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT密钥未设置")
	}
	if config.Server.Workers <= 0 {
		return fmt.Errorf("下载工作协程数量必须大于 0")
	}
	if config.Download.UsersDir == "" {
		return fmt.Errorf("用户数据目录未设置")
	}
	return nil
}

// NormalizeQuality 校验质量参数，不在允许集合中时回退到默认值
func (d *DownloadConfig) NormalizeQuality(mediaType, quality string) string {
	if mediaType == "video" {
		if slices.Contains(d.VideoQualities, quality) {
			return quality
		}
		return d.DefaultVideoQuality
	}
	if slices.Contains(d.AudioQualities, quality) {
		return quality
	}
	return d.DefaultAudioQuality
}
