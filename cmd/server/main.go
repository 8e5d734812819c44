package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/job-portal/internal/api"
	"github.com/d60-Lab/job-portal/internal/api/handler"
	"github.com/d60-Lab/job-portal/internal/auth"
	"github.com/d60-Lab/job-portal/internal/cache"
	"github.com/d60-Lab/job-portal/internal/config"
	"github.com/d60-Lab/job-portal/internal/gateway"
	"github.com/d60-Lab/job-portal/internal/mailer"
	"github.com/d60-Lab/job-portal/internal/model"
	"github.com/d60-Lab/job-portal/internal/repository"
	"github.com/d60-Lab/job-portal/internal/service"
	"github.com/d60-Lab/job-portal/pkg/besteffort"
	"github.com/d60-Lab/job-portal/pkg/logger"
	"github.com/d60-Lab/job-portal/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.String("config", os.Getenv("APP_CONFIG"), "config file (yaml)")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.L()
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	sentryOn := cfg.Sentry.DSN != ""
	if sentryOn {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// 缓存层全部 fail-open，redis 不可用时仍然启动
		log.Warn("redis unavailable, continuing without cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	store := cache.NewStore(rdb)

	var hook besteffort.Hook
	if sentryOn {
		hook = func(name string, err error) {
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("side_effect", name)
				sentry.CaptureException(err)
			})
		}
	}
	runner := besteffort.New(log, hook)

	tokens := auth.NewManager(auth.Options{
		Secret:        cfg.JWT.Secret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		GuestTTL:      cfg.JWT.GuestTTL,
	})

	presence := cache.NewPresence(store, 2*cfg.WebSocket.PingInterval)
	gw := gateway.New(gateway.Options{
		MaxConnections: cfg.WebSocket.MaxConnections,
		ConnectTimeout: cfg.WebSocket.ConnectTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		MaxPayload:     cfg.WebSocket.MaxPayload,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		FrameRate:      cfg.WebSocket.FrameRate,
		FrameBurst:     cfg.WebSocket.FrameBurst,
	}, tokens, log,
		gateway.WithChannelAuthorizer(gateway.GuestChannelAuthorizer),
		gateway.WithHooks(
			func(c *gateway.Conn) {
				runner.Go(ctx, "presence.online", func(ctx context.Context) error {
					return presence.SetOnline(ctx, c.UserID(), c.ID())
				})
			},
			func(c *gateway.Conn) {
				runner.Go(ctx, "presence.offline", func(ctx context.Context) error {
					return presence.SetOffline(ctx, c.UserID(), c.ID())
				})
			},
		),
		// 巡检结果是 online_users 的权威快照：续期长连接，清掉乱序留下的条目
		gateway.WithSweepHook(func(live []*gateway.Conn) {
			online := make(map[string]string, len(live))
			for _, c := range live {
				online[c.UserID()] = c.ID()
			}
			runner.Go(ctx, "presence.refresh", func(ctx context.Context) error {
				return presence.Refresh(ctx, online)
			})
		}),
	)
	gw.Start()

	stopBridge, err := gateway.NewBridge(rdb, gw, cfg.WebSocket.BridgePatterns, log).Start(ctx)
	if err != nil {
		log.Warn("pubsub bridge disabled", zap.Error(err))
		stopBridge = func(context.Context) error { return nil }
	}

	var sender mailer.Sender = mailer.NewLogSender(log)
	if cfg.Mail.Enabled {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
		})
	}
	dispatcher := mailer.NewDispatcher(sender, cfg.Mail.QueueSize, log)
	stopMail := dispatcher.Start(cfg.Mail.Workers)
	composer := mailer.NewComposer(cfg.Mail.From, cfg.Mail.AdminAddress, cfg.FrontendURL)

	requests := repository.NewRequestRepository(db)
	sessions := cache.NewSessionStore(store, cfg.Cache.SessionTTL)
	limiter := cache.NewRateLimiter(store)
	events := cache.NewNotifier(store)

	h := handler.New(handler.Options{
		Messaging: service.NewMessagingService(service.MessagingDeps{
			Requests: requests,
			Messages: repository.NewMessageRepository(db),
			Cache:    cache.NewMessageCache(store, cfg.Cache.MessageTTL, cfg.Cache.ConversationTTL),
			Unread:   cache.NewUnreadTracker(store, cfg.Cache.UnreadTTL),
			Events:   events,
			Limiter:  limiter,
			Pusher:   gw,
			Composer: composer,
			Mail:     dispatcher,
			Runner:   runner,
			Limits: service.MessagingLimits{
				Admin:    limitOf(cfg.RateLimit.AdminMessages),
				Employer: limitOf(cfg.RateLimit.EmployerMessages),
			},
		}),
		Requests: service.NewRequestService(requests, events, gw, runner),
		Security: service.NewSecurityService(service.SecurityDeps{
			Users:    repository.NewUserRepository(db),
			Requests: requests,
			Tokens:   tokens,
			Sessions: sessions,
			Limiter:  limiter,
			Composer: composer,
			Mail:     dispatcher,
			Runner:   runner,
			Limits: service.SecurityLimits{
				PasswordReset: limitOf(cfg.RateLimit.PasswordResets),
				GuestToken:    limitOf(cfg.RateLimit.GuestTokens),
			},
		}),
		Settings:  service.NewSettingsService(sessions, defaultSettings(cfg)),
		Realtime:  gw,
		Presence:  presence,
		MailQueue: dispatcher,
		UploadDir: cfg.Upload.Dir,
	})

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(api.RouterOptions{
			Handler:     h,
			Verifier:    tokens,
			Gateway:     gw,
			WSPath:      cfg.WebSocket.Path,
			ServiceName: cfg.Tracing.ServiceName,
			Logger:      log,
			Sentry:      sentryOn,
			Tracing:     cfg.Tracing.Enabled,
			Swagger:     cfg.Server.Mode != gin.ReleaseMode,
		}),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("ws_path", cfg.WebSocket.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// 先关网关：已劫持的 websocket 连接不受 http.Server.Shutdown 管理
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Warn("gateway shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := stopBridge(shutdownCtx); err != nil {
		log.Warn("bridge shutdown", zap.Error(err))
	}
	if err := stopMail(shutdownCtx); err != nil {
		log.Warn("mail drain", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

func openDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		dialector = sqlite.Open(cfg.DSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	return db, nil
}

func limitOf(l config.Limit) service.Limit {
	return service.Limit{Limit: l.Limit, Window: l.Window}
}

func defaultSettings(cfg *config.Config) service.Settings {
	return service.Settings{
		System: service.SystemSettings{
			Name:                "Job Portal",
			Version:             "1.0.0",
			RegistrationEnabled: true,
			EmailNotifications:  cfg.Mail.Enabled,
			MaxFileSize:         10 << 20,
			MaxUploadsPerUser:   5,
		},
		Email: service.EmailSettings{
			SMTPHost:  cfg.Mail.Host,
			SMTPPort:  cfg.Mail.Port,
			FromEmail: cfg.Mail.From,
			ReplyTo:   cfg.Mail.AdminAddress,
		},
		Security: service.SecuritySettings{
			SessionTimeout:    int(cfg.JWT.AccessTTL / time.Second),
			MaxLoginAttempts:  5,
			PasswordMinLength: 6,
		},
		Features: service.FeatureSettings{
			FileUploads:       true,
			RealTimeMessaging: true,
			SearchSuggestions: true,
			Analytics:         true,
		},
	}
}
