package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"passe/internal/config"
	apphttp "passe/internal/http"
	"passe/internal/service"
	"passe/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persistence, err := buildPersistence(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}
	if c, ok := persistence.(storage.Closer); ok {
		defer c.Close()
	}

	users, err := service.NewUserDB(ctx, persistence, service.UserDBOptions{
		Iterations: cfg.Auth.Iterations,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("open user database: %v", err)
	}
	domains := service.NewDomainDB(persistence, logger)

	janitor := service.NewJanitor(users, cfg.Janitor.Interval, logger)
	janitor.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(users, domains, apphttp.Options{
		RateLimit:      cfg.RateLimit.RPS,
		RateBurst:      cfg.RateLimit.Burst,
		TrustedProxies: cfg.Server.TrustedProxies,
		Logger:         logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := janitor.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("flush user database: %v", err)
	}

	logger.Info("bye")
}

func buildPersistence(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Persistence, error) {
	switch cfg.Storage.Driver {
	case config.DriverFile:
		logger.Infof("using file storage in %s", cfg.Storage.Dir)
		return storage.NewFileStore(cfg.Storage.Dir)

	case config.DriverSQLite, config.DriverPostgres:
		return buildSQL(ctx, cfg, logger)

	case config.DriverBolt:
		logger.Infof("using bolt storage at %s", cfg.Storage.Path)
		return storage.OpenBoltStore(cfg.Storage.Path)

	case config.DriverRedis:
		logger.Infof("using redis storage at %s (db %d)", cfg.Redis.Addr, cfg.Redis.DB)
		return storage.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)

	case config.DriverS3:
		return buildS3(ctx, cfg, logger)

	case config.DriverMemory:
		logger.Warn("using in-memory storage, nothing survives a restart")
		return storage.NewMemory(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func buildSQL(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Persistence, error) {
	var (
		store *storage.SQLStore
		err   error
	)
	if cfg.Storage.Driver == config.DriverPostgres {
		db, openErr := storage.OpenPostgres(ctx, cfg.Storage.DSN)
		if openErr != nil {
			return nil, openErr
		}
		store, err = storage.NewSQLStore(db, storage.DialectPostgres)
		logger.Info("using postgres storage")
	} else {
		db, openErr := storage.OpenSQLite(cfg.Storage.Path)
		if openErr != nil {
			return nil, openErr
		}
		store, err = storage.NewSQLStore(db, storage.DialectSQLite)
		logger.Infof("using sqlite storage at %s", cfg.Storage.Path)
	}
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func buildS3(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Persistence, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Store(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix)
}
