package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/handler"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/repository"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/service"
	"github.com/drjoon/abuts.fit-sub007/internal/config"
	"github.com/drjoon/abuts.fit-sub007/internal/middleware"
	"github.com/drjoon/abuts.fit-sub007/internal/shared/bridge"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting cnc-bridge service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// AutoMigrate for CNC tables
	if err := db.AutoMigrate(
		&entity.Machine{},
		&entity.MachiningRecord{},
		&entity.CncEvent{},
		&entity.ManufacturingOrder{},
	); err != nil {
		zapLogger.Warn("AutoMigrate CNC tables warning", zap.Error(err))
	}

	// 手动补充索引和列（AutoMigrate对复合索引/已有表列的处理不可靠，用原始SQL）
	migrationSQL := []string{
		"CREATE INDEX IF NOT EXISTS idx_machining_req_job ON cnc_machining_records(request_id, job_id)",
		"CREATE INDEX IF NOT EXISTS idx_cnc_events_machine_created ON cnc_events(machine_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_orders_pending_diameter ON manufacturing_orders(stage, diameter) WHERE assigned_machine = '' OR assigned_machine IS NULL",
		"ALTER TABLE cnc_machines ADD COLUMN IF NOT EXISTS allow_program_delete BOOLEAN DEFAULT false",
		"ALTER TABLE cnc_machines ADD COLUMN IF NOT EXISTS last_play_status JSONB",
		"ALTER TABLE manufacturing_orders ADD COLUMN IF NOT EXISTS cam_status VARCHAR(20)",
	}
	for _, sql := range migrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			zapLogger.Warn("Migration SQL warning", zap.String("sql", sql), zap.Error(err))
		}
	}

	// 初始化Redis（事件跨实例广播用，连不上降级为单实例SSE）
	rdb := initRedis(cfg.Redis)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		zapLogger.Warn("Redis unavailable, realtime fanout degraded to single instance", zap.Error(err))
		rdb = nil
	}

	// 初始化MinIO（未配置时归档/预签名能力降级）
	var minioClient *minio.Client
	if cfg.MinIO.Endpoint != "" {
		minioClient, err = minio.New(cfg.MinIO.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			zapLogger.Warn("MinIO init failed, object storage disabled", zap.Error(err))
			minioClient = nil
		}
	}

	// 桥接客户端
	bridgeClient := bridge.NewClient(bridge.Config{
		BaseURL:      cfg.Bridge.BaseURL,
		APIKey:       cfg.Bridge.APIKey,
		Timeout:      cfg.Bridge.Timeout,
		ProbeTimeout: cfg.Bridge.ProbeTimeout,
	})

	// 仓库、服务、处理器
	repos := repository.NewRepositories(db)
	services := service.NewServices(service.Dependencies{
		Repos:       repos,
		Bridge:      bridgeClient,
		Redis:       rdb,
		Minio:       minioClient,
		MinioBucket: cfg.MinIO.Bucket,
		Logger:      zapLogger,
	})
	handlers := handler.NewHandlers(services)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 注册路由
	registerRoutes(router, handlers, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable for SSE long-lived connections
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	// 等待在途桥接镜像调用结束
	services.Mirror.Wait()

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": Version})
	})

	v1 := r.Group("/api/v1")
	{
		// 桥接回调：X-Bridge-Token认证
		callbacks := v1.Group("/cnc/callbacks")
		callbacks.Use(middleware.BridgeAuth(cfg.Bridge.CallbackToken))
		{
			callbacks.POST("/machining/tick", h.Callback.Tick)
			callbacks.POST("/machining/complete", h.Callback.Complete)
			callbacks.POST("/machining/fail", h.Callback.Fail)
			callbacks.POST("/machining-completed", h.Callback.LegacyCompleted)
			callbacks.POST("/manual-card/complete", h.Callback.ManualComplete)
		}

		// 操作端API：JWT认证
		cnc := v1.Group("/cnc")
		cnc.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			cnc.GET("/stream", h.SSE.Stream)

			machines := cnc.Group("/machines")
			{
				machines.GET("", h.Machine.List)
				machines.GET("/bridge-status", h.Machine.BridgeStatuses)
				machines.GET("/:machineId", h.Machine.Get)
				machines.GET("/:machineId/program/active", h.Machine.ActiveProgram)
				machines.GET("/:machineId/records", h.Machine.ListRecords)
				machines.GET("/:machineId/records/export", h.Machine.ExportRecords)
				machines.GET("/:machineId/events", h.Machine.ListEvents)

				machines.GET("/:machineId/queue", h.Queue.List)
				machines.PUT("/:machineId/queue/order", h.Queue.Reorder)
				machines.POST("/:machineId/queue/batch", h.Queue.ApplyBatch)
				machines.POST("/:machineId/queue/:jobId/consume", h.Queue.Consume)
				machines.PATCH("/:machineId/queue/:jobId/qty", h.Queue.UpdateQty)
				machines.PATCH("/:machineId/queue/:jobId/pause", h.Queue.UpdatePause)
				machines.GET("/:machineId/queue/:jobId/file-url", h.Machine.JobFileURL)

				machines.POST("/:machineId/smart/upload", h.Dispatch.Upload)
				machines.POST("/:machineId/smart/enqueue", h.Dispatch.Enqueue)
				machines.POST("/:machineId/smart/dequeue", h.Dispatch.Dequeue)
				machines.POST("/:machineId/smart/replace", h.Dispatch.Replace)
				machines.POST("/:machineId/smart/start", h.Dispatch.Start)
				machines.GET("/:machineId/smart/status", h.Dispatch.Status)
				machines.GET("/:machineId/smart/jobs/:jobId", h.Dispatch.JobResult)

				machines.POST("/:machineId/continuous/enqueue", h.Dispatch.ContinuousEnqueue)
				machines.GET("/:machineId/continuous/state", h.Dispatch.ContinuousState)

				machines.GET("/:machineId/manual-card", h.ManualCard.Status)
				machines.POST("/:machineId/manual-card/upload", h.ManualCard.Upload)
				machines.POST("/:machineId/manual-card/preload", h.ManualCard.Preload)
				machines.POST("/:machineId/manual-card/complete", h.ManualCard.Complete)
				machines.POST("/:machineId/manual-card/:itemId/play", h.ManualCard.Play)

				machines.PUT("/:machineId/material", h.Material.Update)
			}
		}
	}
}
