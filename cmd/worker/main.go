package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"biosummit.app/concierge/common/id"
	"biosummit.app/concierge/common/logger"
	"biosummit.app/concierge/common/otel"
	"biosummit.app/concierge/core/config"
	"biosummit.app/concierge/core/db"
	"biosummit.app/concierge/internal/llm"
	"biosummit.app/concierge/internal/notify"
	"biosummit.app/concierge/internal/queue"
	"biosummit.app/concierge/internal/session"
	"biosummit.app/concierge/internal/store"
	"biosummit.app/concierge/internal/transport"
	"biosummit.app/concierge/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "concierge worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Different node ID than the server so IDs never collide.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:         cfg.Pipeline.RedisStream,
		Group:          cfg.Pipeline.RedisGroup,
		Consumer:       cfg.Pipeline.RedisConsumer,
		DLQStream:      cfg.Pipeline.RedisDLQStream,
		BatchSize:      cfg.Worker.BatchSize,
		Block:          cfg.Worker.Block,
		MaxAttempts:    cfg.Worker.MaxAttempts,
		RetryBaseDelay: cfg.Worker.RetryBaseDelay,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	responder, err := llm.New(llm.Config{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}

	transcriber, err := llm.NewTranscriber(llm.TranscriberConfig{
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.TranscribeModel,
		Timeout:  cfg.LLM.Timeout,
		MaxBytes: cfg.LLM.MaxAudioBytes,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create transcriber", "error", err)
		os.Exit(1)
	}

	tp, err := transport.NewHTTP(transport.Config{
		BaseURL: cfg.Transport.BaseURL,
		APIKey:  cfg.Transport.APIKey,
		Timeout: cfg.Transport.Timeout,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create transport", "error", err)
		os.Exit(1)
	}

	participants := store.NewParticipantStore(database)
	notifier := notify.NewEmailNotifier(notify.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})

	processor := worker.NewProcessor(
		session.NewDeduper(redisClient, cfg.Session.DedupTTL),
		worker.NewSessionLocker(session.NewLocker(redisClient, cfg.Session.LockLease)),
		session.NewStore(redisClient, cfg.Session.SessionTTL, cfg.Session.MaxStoredTurns),
		participants,
		responder,
		transcriber,
		notifier,
		tp,
	)

	w := worker.New(consumer, processor, tp, worker.Config{
		Concurrency:      cfg.Worker.Concurrency,
		MaxAttempts:      cfg.Worker.MaxAttempts,
		ContentionMaxAge: cfg.Worker.ContentionMaxAge,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   cfg.Worker.ReclaimMinIdle,
		Interval:  cfg.Worker.ReclaimEvery,
		BatchSize: cfg.Worker.BatchSize,
	}, consumer, func(ctx context.Context, msg queue.Message) error {
		w.Handle(ctx, msg)
		return nil
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running",
		"concurrency", cfg.Worker.Concurrency,
		"max_attempts", cfg.Worker.MaxAttempts)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop reclaimer first (quick), then drain in-flight jobs.
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}
