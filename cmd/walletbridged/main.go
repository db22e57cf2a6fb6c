package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"WalletBridge/internal/api"
	"WalletBridge/internal/config"
	xerrors "WalletBridge/internal/errors"
	"WalletBridge/internal/event"
	"WalletBridge/internal/observability/alerting"
	"WalletBridge/internal/observability/metrics"
	"WalletBridge/internal/session"
	"WalletBridge/internal/storage/mysql"
	"WalletBridge/internal/storage/redis"
	"WalletBridge/internal/wallet"
	"WalletBridge/internal/web3/provider"
	"WalletBridge/pkg/logger"
)

// main 是 WalletBridge 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("walletbridged 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("WALLETBRIDGE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "walletbridge.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit:       logger.AuditConfig{Path: cfg.Logging.AuditPath},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("walletbridged")

	store, closeStore, err := openSessionStore(ctx, cfg.Session)
	if err != nil {
		return err
	}
	defer closeStore()

	bus, err := event.New(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("关闭事件总线失败", slog.Any("error", err))
		}
	}()

	// 没有可用的 provider 时仍然启动，连接与提交会返回 PROVIDER_UNAVAILABLE。
	opts := wallet.Options{
		Store:           store,
		Events:          bus,
		ExpectedChainID: cfg.Web3.ExpectedChainID,
		ConfirmTimeout:  cfg.Web3.ConfirmTimeout(),
		Alerts:          newAlerts(cfg.Alerts),
	}
	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	switch {
	case err == nil:
		defer chainRegistry.Close()
		opts.Provider = chainRegistry.Provider()
		opts.Binder = chainRegistry.Bind
		log.Info("wallet provider ready", slog.Any("chains", chainRegistry.Chains()))
	case xerrors.IsCode(err, xerrors.CodeProviderUnavailable):
		log.Warn("wallet provider unavailable", slog.Any("error", err))
	default:
		return err
	}

	loc, err := cfg.History.Location()
	if err != nil {
		return err
	}
	opts.History = wallet.NewHistoryLoader(loc, cfg.History.Layout)

	manager := wallet.NewManager(opts)
	defer manager.Close()
	if err := manager.Start(ctx); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, manager, bus)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openSessionStore 根据配置选择会话持久化后端，返回的关闭函数总是非空。
func openSessionStore(ctx context.Context, cfg config.SessionConfig) (session.Store, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case "memory":
		return session.NewMemoryStore(), noop, nil
	case "", "file":
		store, err := session.NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "redis":
		store, err := redis.NewSessionStore(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "mysql":
		store, err := mysql.NewSessionStore(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.MySQL.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的会话存储驱动 %s", cfg.Driver))
	}
}

func newAlerts(cfg config.AlertsConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.WebhookURL,
			Client: &http.Client{Timeout: cfg.Timeout()},
		})
	}
	return alerting.NewFanout(notifiers...)
}
