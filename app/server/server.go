package server

import (
	"context"
	"net/http"

	"media-fusion/app/config"
	"media-fusion/app/database"
	"media-fusion/app/downloader"
	"media-fusion/app/handler"
	"media-fusion/app/logger"
	"media-fusion/app/middleware"
	"media-fusion/app/service"
	"media-fusion/app/store"
	"media-fusion/app/utils/searchhelper"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server

	userStore      *store.FileStore
	queueService   *service.QueueService
	cleanupService *service.CleanupService
	searchClient   *searchhelper.Client
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, log *logger.Logger) *Server {
	router := gin.Default()

	userStore := store.NewFileStore(cfg.Download.UsersDir, log)
	searchClient := searchhelper.New(cfg, log)
	fetcher := downloader.New(cfg, log)

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:         cfg,
		Logger:         log,
		userStore:      userStore,
		queueService:   service.NewQueueService(cfg, log, userStore, fetcher, searchClient),
		cleanupService: service.NewCleanupService(cfg, log),
		searchClient:   searchClient,
	}

	// 设置路由
	s.setupRoutes()

	return s
}

// Start 启动服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	// 启动下载工作协程池和临时文件清理
	s.queueService.Start()
	s.cleanupService.Start()

	return s.http.ListenAndServe()
}

// Shutdown 关闭服务器及其后台服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.queueService.Stop()
	s.cleanupService.Stop()

	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	// 创建处理器实例
	authHandler := handler.NewAuthHandler(s.Config, s.userStore)
	taskHandler := handler.NewTaskHandler(s.Config, s.queueService)
	fileHandler := handler.NewFileHandler(s.Config)
	searchHandler := handler.NewSearchHandler(s.searchClient)
	settingsHandler := handler.NewSettingsHandler(s.Config)

	// API路由组
	api := s.gin.Group("/api")

	// 认证相关路由（不需要JWT验证）
	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/register", authHandler.Register)
		auth.POST("/refresh", authHandler.RefreshToken)
	}

	// 需要JWT验证的路由
	protected := api.Group("/")
	protected.Use(middleware.JWTAuth(s.Config))
	{
		// 用户相关
		protected.GET("/me", authHandler.Me)

		// 下载任务相关路由
		tasks := protected.Group("/tasks")
		{
			tasks.POST("/", taskHandler.CreateTask)
			tasks.GET("/queue", taskHandler.GetQueue)
			tasks.GET("/history", taskHandler.GetHistory)
			tasks.POST("/:id/pause", taskHandler.PauseTask)
			tasks.POST("/:id/resume", taskHandler.ResumeTask)
			tasks.POST("/:id/retry", taskHandler.RetryTask)
			tasks.DELETE("/:id", taskHandler.DeleteTask)
		}

		// 搜索和文件下载
		protected.GET("/search", searchHandler.Search)
		protected.GET("/downloads/:filename", fileHandler.DownloadFile)

		// 用户设置相关路由
		settings := protected.Group("/settings")
		{
			settings.GET("/", settingsHandler.GetSettings)
			settings.PUT("/", settingsHandler.UpdateSettings)
			settings.GET("/avatar", settingsHandler.GetAvatar)
			settings.POST("/avatar", settingsHandler.UploadAvatar)
		}
	}
}
