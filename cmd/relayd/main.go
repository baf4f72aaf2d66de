package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/roundtable/relay/internal/api/ws"
	"github.com/roundtable/relay/internal/config"
	"github.com/roundtable/relay/internal/logger"
	"github.com/roundtable/relay/internal/registry"
	"github.com/roundtable/relay/internal/repository/postgres"
	"github.com/roundtable/relay/internal/service"
	storage "github.com/roundtable/relay/internal/storage/minio"
	"github.com/roundtable/relay/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)

	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to initialize storage", "error", err)
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)
	messageRepo := postgres.NewMessageRepository(db)
	friendRepo := postgres.NewFriendRepository(db)
	tokenManager := token.NewJWT(cfg.JWT.Secret)

	minioClient, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal("failed to create minio client", "error", err)
	}
	avatarStore, err := storage.NewClient(ctx, minioClient, cfg.Storage.Bucket, cfg.Storage.PublicURL)
	if err != nil {
		logger.Fatal("failed to initialize avatar storage", "error", err)
	}

	reg := registry.New()
	authService := service.NewAuth(userRepo, tokenManager, logger)
	routerService := service.NewRouter(reg, messageRepo, userRepo, logger)
	friendsService := service.NewFriends(reg, friendRepo, userRepo, logger)
	presenceService := service.NewPresence(reg, userRepo, logger)

	handler := ws.NewHandler(reg, authService, routerService, friendsService, presenceService, userRepo, logger, cfg.HTTP.HeartbeatInterval)
	server := ws.NewServer(fmt.Sprintf(":%s", cfg.HTTP.Port), handler, avatarStore, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting server on", "address", server.Address())
		if err := server.Start(); err != nil {
			logger.Error("failed to start server", "error", err)
			stop()
		}
	}()

	logAppVersion(logger)

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err, "address", server.Address())
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

func logAppVersion(l *logger.Logger) {
	l.Info("build info",
		"version", buildVersion,
		"date", buildDate,
		"commit", buildCommit,
	)
}
