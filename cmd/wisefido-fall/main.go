package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-fall/internal/config"
	httpapi "wisefido-fall/internal/http"
	"wisefido-fall/internal/logger"
	"wisefido-fall/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-fall")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	fallService, err := service.NewFallService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create fall service",
			zap.Error(err),
		)
	}
	defer fallService.Stop()

	// 4. HTTP 接口 + websocket 推送
	hub := httpapi.NewHub(fallService.AlertState, log)
	fallService.OnAlertChanged(hub.OnAlertChanged)
	fallService.OnHelpRequested(hub.OnHelpRequested)

	router := httpapi.NewRouter(log)
	router.RegisterFallRoutes(httpapi.NewFallHandler(fallService, log))
	router.RegisterHub(hub)
	server := service.NewServer(cfg.HTTP.Addr, router, log)

	// 5. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. 启动服务（在 goroutine 中）
	errChan := make(chan error, 2)
	go func() {
		if err := fallService.Start(ctx); err != nil {
			errChan <- err
		}
	}()
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	// 7. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case err := <-errChan:
		log.Error("Service error, shutting down",
			zap.Error(err),
		)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop HTTP server", zap.Error(err))
	}

	log.Info("Fall detection service stopped")
}
