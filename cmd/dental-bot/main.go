package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dental-bot/internal/config"
	"dental-bot/internal/logger"
	"dental-bot/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置（缺少 TELEGRAM_TOKEN 直接退出）
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "dental-bot")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. 创建服务
	botService, err := service.NewBotService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create bot service", zap.Error(err))
	}
	defer botService.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- botService.Start(ctx)
	}()

	// 5. 等待信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		if err := <-serviceErrChan; err != nil {
			log.Error("Service stopped with error", zap.Error(err))
		}
	case err := <-serviceErrChan:
		if err != nil {
			log.Error("Service error", zap.Error(err))
		}
	}

	log.Info("Dental bot stopped")
}
