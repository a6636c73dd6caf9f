package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/scheduler/internal/clock"
	"qms/scheduler/internal/config"
	"qms/scheduler/internal/httpapi"
	"qms/scheduler/internal/logging"
	"qms/scheduler/internal/notify"
	"qms/scheduler/internal/scheduler"
	"qms/scheduler/internal/store"
	"qms/scheduler/internal/store/memory"
	"qms/scheduler/internal/store/postgres"
	"qms/scheduler/internal/telemetry"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const serviceName = "scheduler-service"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Fatal("scheduler-service stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTracing := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint, cfg.OTLPInsecure)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("tracer shutdown")
		}
	}()

	loc, err := clock.LoadLocation(cfg.OfficeTimezone)
	if err != nil {
		return fmt.Errorf("office timezone: %w", err)
	}
	policy, err := config.LoadPolicy(cfg.PolicyFile, cfg.SlotCapacity)
	if err != nil {
		return err
	}

	st, ready, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, closeSink, err := openSink(cfg.Notify)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSink.Close(); err != nil {
			logrus.WithError(err).Warn("notification sink close")
		}
	}()
	trigger := notify.NewTrigger(sink, notify.Options{
		Buffer:  cfg.Notify.Buffer,
		Timeout: cfg.Notify.Timeout(),
		Logger:  logrus.WithField("component", "notify"),
	})

	svc := scheduler.New(scheduler.Deps{
		Store:    st,
		Clock:    clock.Real(loc),
		Policy:   policy,
		Notifier: trigger,
		Logger:   logrus.WithField("component", "scheduler"),
	})

	handler := httpapi.NewHandler(svc, httpapi.Options{Ready: ready})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.RateLimitPerMinute,
		IPBurst:       cfg.RateLimitBurst,
		UserPerMinute: cfg.UserRateLimitPerMinute,
		UserBurst:     cfg.UserRateLimitBurst,
	})
	auth := httpapi.NewAuthenticator(cfg.JWTSecret)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(auth.Middleware(limiter.Middleware(handler.Routes()))), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return trigger.Run(gctx)
	})
	g.Go(func() error {
		logrus.WithFields(logrus.Fields{
			"addr":   server.Addr,
			"store":  cfg.StoreDriver,
			"notify": sink.Name(),
		}).Info("scheduler-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(context.Context) error, func(), error) {
	if cfg.StoreDriver == "memory" {
		logrus.Warn("using in-memory store, data is lost on restart")
		return memory.NewStore(), nil, func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db connect: %w", err)
	}
	st := postgres.NewStore(pool)
	if err := st.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("db ping: %w", err)
	}
	return st, st.Ping, pool.Close, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openSink(cfg config.Notify) (notify.Sink, io.Closer, error) {
	switch cfg.Sink {
	case "webhook":
		return notify.NewWebhookSink(cfg.WebhookURL, cfg.WebhookToken, cfg.Timeout()), nopCloser{}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return &notify.RedisSink{Client: rdb, Channel: cfg.RedisChannel}, rdb, nil
	case "stream":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: rdb},
			logging.NewWatermill(logrus.WithField("component", "watermill")),
		)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("stream publisher: %w", err)
		}
		return &notify.StreamSink{Publisher: publisher, Topic: cfg.StreamTopic}, closers{publisher, rdb}, nil
	default:
		return notify.LogSink{Logger: logrus.WithField("component", "notify")}, nopCloser{}, nil
	}
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, closer := range c {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
