package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexflow/backend/internal/bot"
	"github.com/lexflow/backend/internal/config"
	"github.com/lexflow/backend/internal/handler"
	"github.com/lexflow/backend/internal/model"
	"github.com/lexflow/backend/internal/notify"
	"github.com/lexflow/backend/internal/router"
	"github.com/lexflow/backend/internal/service"
	"github.com/lexflow/backend/internal/sse"
	"github.com/lexflow/backend/internal/store"
	"github.com/lexflow/backend/pkg/feishu"
	"github.com/lexflow/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	if err := run(cfg, zl); err != nil {
		zl.Error("server exited", zap.Error(err))
		_ = zl.Sync()
		os.Exit(1)
	}
	_ = zl.Sync()
}

// run owns every resource opened after the logger so its deferred cleanup
// completes before main decides the exit code.
func run(cfg *config.Config, zl *zap.Logger) error {
	db, err := store.Open(cfg.Database, zl)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	hub := sse.NewHub(rdb, time.Duration(cfg.Redis.EventTTLHours)*time.Hour)

	// Notifications
	var (
		botClient *feishu.BotClient
		notifier  notify.Notifier = notify.NoopNotifier{}
	)
	if cfg.Feishu.Bot.Enabled {
		botClient = feishu.NewBotClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
		notifier = notify.NewFeishuNotifier(botClient, zl)
	}
	dispatcher := notify.NewDispatcher(notifier, cfg.Notify.Workers, cfg.Notify.QueueSize, zl)
	defer dispatcher.Close()

	// Services
	dir := service.NewDirectory(db, cfg.Permissions.Roles, cfg.Permissions.ElevatedRoles)
	activity := service.NewActivity(hub, dispatcher, zl)
	lifecycle := service.NewLifecycle()
	permService := service.NewPermissionService(db, dir, activity, zl)
	docService := service.NewDocumentService(db, permService, lifecycle, activity, zl)
	sigService := service.NewSignatureService(db, permService, lifecycle, activity, cfg.Encrypt.AESKey, zl)
	varService := service.NewVariableService(db, permService, activity, zl)
	relService := service.NewRelationshipService(db, permService, activity, zl)
	auditService := service.NewAuditService(db)

	// Feishu Bot (WebSocket long-connection)
	if cfg.Feishu.Bot.Enabled {
		feishuBot := bot.New(bot.Deps{
			AppID:             cfg.Feishu.AppID,
			AppSecret:         cfg.Feishu.AppSecret,
			EncryptKey:        cfg.Feishu.Bot.EncryptKey,
			VerificationToken: cfg.Feishu.Bot.VerificationToken,
			Replier:           botClient,
			Users:             dir,
			Documents:         docService,
			Signatures:        sigService,
			Log:               zl,
		})
		go feishuBot.Start()
		defer feishuBot.Stop()
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	router.Setup(r, router.Deps{
		DB:                  db,
		JWTSecret:           cfg.JWT.Secret,
		Logger:              zl,
		UserHandler:         handler.NewUserHandler(dir, cfg.JWT.Secret, cfg.JWT.ExpireHours, zl),
		DocumentHandler:     handler.NewDocumentHandler(docService, varService, zl),
		SignatureHandler:    handler.NewSignatureHandler(sigService, zl),
		PermissionHandler:   handler.NewPermissionHandler(permService, zl),
		RelationshipHandler: handler.NewRelationshipHandler(relService, zl),
		VariableHandler:     handler.NewVariableHandler(varService, zl),
		EventHandler:        handler.NewEventHandler(docService, hub, zl),
		AuditHandler:        handler.NewAuditHandler(auditService, zl),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	serveErr := make(chan error, 1)
	go func() {
		zl.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server run: %w", err)
	case sig := <-quit:
		zl.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
