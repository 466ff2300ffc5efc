package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmchat/internal/chat"
	"github.com/dmchat/internal/config"
	"github.com/dmchat/internal/handler"
	"github.com/dmchat/internal/idgen"
	"github.com/dmchat/internal/logger"
	"github.com/dmchat/internal/notify"
	"github.com/dmchat/internal/presence"
	"github.com/dmchat/internal/push"
	"github.com/dmchat/internal/repository"
	"github.com/dmchat/internal/startup"
	"github.com/dmchat/internal/storage"
	"github.com/dmchat/internal/storage/memory"
	"github.com/dmchat/internal/upload"
	"github.com/dmchat/internal/ws"
	"github.com/dmchat/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep rooms and messages in memory (no database)")
	flag.Parse()

	logger.Info("starting chat API")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *inMemory {
		cfg.Store = config.StoreMemory
	}
	ctx := context.Background()

	var store storage.Store
	if cfg.Store == config.StoreMemory {
		logger.Info("store: in-memory, data is lost on restart")
		store = memory.New()
	} else {
		if *dev {
			embeddedDB, err := startEmbeddedPostgres(cfg)
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}
		pool, err := connectPostgres(ctx, cfg)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		defer pool.Close()
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = migrations.Apply(migrateCtx, pool)
		cancel()
		if err != nil {
			logger.Errorf("migrations: %v", err)
			os.Exit(1)
		}
		logger.Info("database connected, migrations applied")
		if *migrate && !*dev {
			return
		}
		store = repository.NewStore(pool)
	}

	subs, err := subscriptionStore(ctx, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer subs.Close()

	adapter, vapidPublic, err := pushAdapter(cfg, subs)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if c, ok := adapter.(io.Closer); ok {
		defer c.Close()
	}
	logger.Infof("push adapter: %s", adapter.Name())
	// В режиме service подписки хранит сам push-сервис.
	handlerSubs := subs
	if s, ok := adapter.(storage.SubscriptionStore); ok {
		handlerSubs = s
	}

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	// Хаб и сервис ссылаются друг на друга: публикатор подключается после создания хаба.
	dispatcher := notify.NewDispatcher(store, adapter, nil, cfg.PushTimeout())
	svc := chat.NewService(store, idgen.New(), presence.NewTracker(), dispatcher, nil)
	hub := ws.NewHub(svc, cfg.WS.MaxConnections, ws.Hooks{
		OnConnect:    func(userID string) { logger.Debugf("ws connected user=%s", userID) },
		OnDisconnect: func(userID string) { logger.Debugf("ws disconnected user=%s", userID) },
	})
	svc.SetPublisher(hub)
	dispatcher.SetPublisher(hub)

	hubCtx, hubCancel := context.WithCancel(ctx)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	router := handler.NewRouter(handler.Routes{
		Chat:   handler.NewChatHandler(svc),
		Files:  handler.NewFileHandler(svc, uploader, cfg.MaxUploadSize()),
		Push:   handler.NewPushHandler(handlerSubs),
		Config: handler.NewConfigHandler(handler.PushConfig{Mode: adapter.Name(), VAPIDPublicKey: vapidPublic}),
		WS: handler.NewWSHandler(hub, cfg.CORSAllowedOrigins, ws.Limits{
			MaxMessageSize: int64(cfg.WS.MaxMessageSize),
			SendBuffer:     cfg.WS.SendBufferSize,
			PongWait:       cfg.WSPongWait(),
		}),
		AuthServiceURL:     cfg.AuthServiceURL,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerIP:     cfg.RateLimitPerIP,
		RateLimitPerUser:   cfg.RateLimitPerUser,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
		IdleTimeout:  cfg.IdleTimeoutDuration(),
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	dispatcher.Wait()
	logger.Info("pending pushes finished")
	srvWg.Wait()
}

func connectPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MinConns = 2
	return startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second)
}

// subscriptionStore: Redis, если задан redis_url, иначе память процесса.
func subscriptionStore(ctx context.Context, cfg *config.Config) (storage.SubscriptionStore, error) {
	if cfg.RedisURL == "" {
		logger.Info("push subscriptions: in-memory (redis_url not set)")
		return memory.NewSubscriptions(), nil
	}
	client, err := startup.ConnectRedisWithRetry(ctx, cfg.RedisURL, 30*time.Second)
	if err != nil {
		return nil, err
	}
	logger.Info("push subscriptions: redis")
	return client, nil
}

// pushAdapter собирает адаптер; VAPID-ключи нужны только режиму webpush.
func pushAdapter(cfg *config.Config, subs storage.SubscriptionStore) (push.Adapter, string, error) {
	mode, err := push.ParseMode(cfg.Push.Mode)
	if err != nil {
		return nil, "", err
	}
	var keys *push.VAPIDKeys
	if mode == push.ModeWebPush {
		resolved, err := push.ResolveVAPIDKeys(push.VAPIDKeys{
			PublicKey:  cfg.Push.VAPIDPublicKey,
			PrivateKey: cfg.Push.VAPIDPrivateKey,
		}, cfg.Push.VAPIDKeysFile)
		if err != nil {
			return nil, "", fmt.Errorf("vapid keys: %w", err)
		}
		keys = &resolved
	}
	adapter, err := push.New(push.Options{
		Mode:          mode,
		Subscriptions: subs,
		VAPID:         keys,
		Subscriber:    cfg.Push.VAPIDSubscriber,
		ServiceURL:    cfg.Push.ServiceURL,
		KafkaBrokers:  cfg.Push.KafkaBrokers,
		KafkaTopic:    cfg.Push.KafkaTopic,
	})
	if err != nil {
		return nil, "", err
	}
	public := cfg.Push.VAPIDPublicKey
	if keys != nil {
		public = keys.PublicKey
	}
	return adapter, public, nil
}

func newUploader(ctx context.Context, cfg *config.Config) (upload.Uploader, error) {
	if cfg.Upload.Mode == upload.ModeS3 {
		s3cfg := cfg.Upload.S3
		u, err := upload.NewS3(upload.S3Config{
			Endpoint:  s3cfg.Endpoint,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			UseSSL:    s3cfg.UseSSL,
			Bucket:    s3cfg.Bucket,
			PublicURL: s3cfg.PublicURL,
		}, cfg.MaxUploadSize())
		if err != nil {
			return nil, err
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := u.EnsureBucket(bucketCtx); err != nil {
			return nil, fmt.Errorf("s3 bucket: %w", err)
		}
		return u, nil
	}
	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload dir: %w", err)
	}
	return upload.NewLocal(cfg.Upload.Dir, cfg.Upload.BaseURL, cfg.MaxUploadSize()), nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "dmchat"
		password = "dmchat_secret"
		database = "dmchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
