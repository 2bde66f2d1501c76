package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gitlab.com/audioparty/backend/internal/auth"
	"gitlab.com/audioparty/backend/internal/config"
	"gitlab.com/audioparty/backend/internal/db"
	"gitlab.com/audioparty/backend/internal/history"
	"gitlab.com/audioparty/backend/internal/notify"
	"gitlab.com/audioparty/backend/internal/ratelimit"
	"gitlab.com/audioparty/backend/internal/rooms"
	"gitlab.com/audioparty/backend/internal/signaling"
	"gitlab.com/audioparty/backend/internal/storage"
	"gitlab.com/audioparty/backend/pkg/handlers"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port     string
		capacity int
		logLevel string
	)

	cmd := &cobra.Command{
		Use:          "audioparty-server",
		Short:        "Room and signaling server for audio listening parties",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			// Flags override the environment
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("capacity") {
				cfg.RoomCapacity = capacity
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.SetupLogging(); err != nil {
				return err
			}

			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", config.DefaultPort, "HTTP listen port")
	cmd.Flags().IntVarP(&capacity, "capacity", "c", config.DefaultCapacity, "maximum participants per room, host included")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(newHashPasswordCmd())
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func run(cfg *config.Config) error {
	log := logrus.WithField("component", "server")
	log.Info("Starting audio party server...")

	database, err := db.NewDB(cfg.DatabaseURL, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.RunMigrations("migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	limiter := ratelimit.NewLimiter(database.Redis, map[string]ratelimit.Limit{
		signaling.ActionCreateRoom: ratelimit.PerMinute(cfg.CreatesPerMinute),
		signaling.ActionJoinRoom:   ratelimit.PerMinute(cfg.JoinsPerMinute),
	})
	opts := []signaling.Option{signaling.WithRateLimiter(limiter)}

	var historyStore *history.Store
	if database.Postgres != nil {
		historyStore = history.NewStore(database.Postgres)
		opts = append(opts, signaling.WithRecorder(historyStore))
	}

	var (
		asynqClient *asynq.Client
		worker      *notify.WorkerServer
	)
	if cfg.RedisURL != "" && cfg.NotifyWebhookURL != "" {
		redisOpt, err := notify.RedisConnOpt(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("Invalid REDIS_URL for notifications (notifications disabled)")
		} else {
			asynqClient = asynq.NewClient(redisOpt)
			defer asynqClient.Close()

			worker = notify.NewWorkerServer(redisOpt, notify.NewWebhookHandler(cfg.NotifyWebhookURL, nil))
			if err := worker.Start(); err != nil {
				log.WithError(err).Warn("Failed to start notification worker (notifications disabled)")
				worker = nil
			} else {
				opts = append(opts, signaling.WithNotifier(notify.NewNotifier(asynqClient, cfg.PublicURL)))
			}
		}
	}

	var archiver handlers.Archiver
	if cfg.S3Endpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		storageService, err := storage.NewService(ctx, storage.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		cancel()
		if err != nil {
			log.WithError(err).Warn("Failed to initialize storage service (sample archive disabled)")
		} else {
			archiver = storageService
		}
	}

	registry := rooms.NewRegistry(cfg.RoomCapacity)
	signalingService := signaling.NewService(registry, opts...)

	server := NewServer(cfg, database, signalingService, historyStore, archiver)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":     httpServer.Addr,
			"capacity": cfg.RoomCapacity,
		}).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		signalingService.Close()
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	// Hijacked websocket connections are not covered by Shutdown
	signalingService.Close()

	if worker != nil {
		worker.Shutdown()
	}

	log.Info("Server exited gracefully")
	return nil
}
