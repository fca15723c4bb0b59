package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/clock"
	"gatekeeper/internal/config"
	"gatekeeper/internal/engine"
	"gatekeeper/internal/gate"
	"gatekeeper/internal/notifier"
	"gatekeeper/internal/origin"
	"gatekeeper/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// run's defers flush queued ban events before we exit.
	err = run(cfg, logger)
	if err != nil {
		logger.Error("gatekeeper failed", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	opts := []gate.Option{
		gate.WithClock(clock.Real{}),
		gate.WithLogger(logger.Named("gate")),
	}

	if cfg.Redis.URL != "" {
		n, err := notifier.New(notifier.Config{
			URL:     cfg.Redis.URL,
			Channel: cfg.Redis.Channel,
			Logger:  logger.Named("notifier"),
		})
		if err != nil {
			return err
		}
		defer n.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := n.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable at startup", zap.Error(err))
		}
		pingCancel()

		opts = append(opts, gate.WithNotifier(n))
	}

	g, err := gate.New(gate.Config{
		MaxFailedAttempts: cfg.Gate.MaxFailedAttempts,
		BanDuration:       cfg.Gate.BanDuration.Duration(),
		Username:          cfg.Auth.Username,
		Password:          cfg.Auth.Password,
		PasswordHash:      []byte(cfg.Auth.PasswordHash),
		AttemptTTL:        cfg.Gate.AttemptTTL.Duration(),
	}, opts...)
	if err != nil {
		return err
	}
	go g.Run(ctx, cfg.Gate.SweepInterval.Duration())

	var issuer *auth.Issuer
	if cfg.Session.Secret != "" {
		issuer, err = auth.NewIssuer(cfg.Session.Secret, cfg.Session.TTL.Duration(), clock.Real{})
		if err != nil {
			return err
		}
	}

	api := engine.NewAPI(engine.Config{
		Gate:       g,
		Origins:    origin.NewValidator(cfg.Server.AllowedOrigins),
		Issuer:     issuer,
		TrustProxy: cfg.Server.TrustProxy,
		Logger:     logger.Named("http"),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- api.Start(cfg.Addr())
	}()

	logger.Info("gatekeeper started",
		zap.String("addr", cfg.Addr()),
		zap.Int("max_failed_attempts", cfg.Gate.MaxFailedAttempts),
		zap.Duration("ban_duration", cfg.Gate.BanDuration.Duration()),
		zap.Bool("session_tokens", issuer != nil),
		zap.Bool("ban_events", cfg.Redis.URL != ""),
	)

	select {
	case <-sigCh:
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return api.Shutdown(shutdownCtx)
}
