package main

import (
	"context"
	"expvar"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/workshop-queue/internal/config"
	"qms/workshop-queue/internal/dispatcher"
	"qms/workshop-queue/internal/httpapi"
	"qms/workshop-queue/internal/hub"
	"qms/workshop-queue/internal/notify"
	"qms/workshop-queue/internal/store"
	"qms/workshop-queue/internal/store/memory"
	"qms/workshop-queue/internal/store/postgres"
	"qms/workshop-queue/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "workshop-queue"

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	shutdownTelemetry := telemetry.Setup(serviceName, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	var dayStore store.DayStore
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		dayStore = postgres.NewStore(pool, postgres.Options{})
	} else {
		logger.Warn("DB_DSN not set, queue state is kept in memory only")
		dayStore = memory.NewStore(memory.Options{})
	}

	realtime := hub.New(logger)
	notifiers := []notify.Notifier{realtime}
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := notify.NewRedisClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Error("redis connect", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		notifiers = append(notifiers, notify.NewRedis(client, notify.RedisOptions{ChannelPattern: cfg.RedisChannelPattern}))
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := notify.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.Error("kafka connect", "error", err)
			os.Exit(1)
		}
		kafka := notify.NewKafka(producer, notify.KafkaOptions{Topic: cfg.KafkaTopic, Logger: logger})
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("kafka close", "error", err)
			}
		}()
		notifiers = append(notifiers, kafka)
	}

	queue := dispatcher.New(dayStore, notify.Multi(notifiers...), dispatcher.Options{
		MaxPrioritySlots:      cfg.MaxPrioritySlots,
		DefaultServiceMinutes: cfg.DefaultServiceMinutes,
		Location:              cfg.Location(),
		Logger:                logger,
		PublishTimeout:        cfg.PublishTimeout,
	})
	handler := httpapi.NewHandler(queue, httpapi.Options{Logger: logger})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle(httpapi.RealtimePrefix+"/", httpapi.NewRealtimeHandler(realtime, logger))
	handler.Register(mux)

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, mux), serviceName)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("workshop-queue listening", "addr", server.Addr, "timezone", cfg.Location().String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
