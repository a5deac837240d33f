// Package server wires the storage, classification, alerting and ingestion
// components together and manages the process lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"procodus.dev/aquamon/internal/alert"
	"procodus.dev/aquamon/internal/api"
	"procodus.dev/aquamon/internal/classify"
	"procodus.dev/aquamon/internal/mqingest"
	"procodus.dev/aquamon/internal/pipeline"
	"procodus.dev/aquamon/internal/store"
	"procodus.dev/aquamon/pkg/metrics"
	"procodus.dev/aquamon/pkg/toggles"
)

// Server represents the aquamon process: HTTP API, background loops and the
// optional MQ ingestion consumer sharing one database.
type Server struct {
	logger   *slog.Logger
	config   *Config
	db       *gorm.DB
	consumer *mqingest.Consumer
}

// Config holds the configuration for the Server.
type Config struct {
	Logger *slog.Logger

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// HTTP API configuration
	HTTPPort int

	// RabbitMQ ingestion; empty URL disables the consumer.
	RabbitMQURL string
	QueueName   string

	// External classifier; empty endpoint means rules only.
	PredictorURL     string
	PredictorTimeout time.Duration

	// Mail provider; empty domain disables outbound mail (dispatches fail
	// closed and recipients stay eligible).
	MailBaseURL string
	MailDomain  string
	MailAPIKey  string
	MailFrom    string

	// Rate limit and loop intervals.
	RateLimitWindow   time.Duration
	ResolverInterval  time.Duration
	GeneratorInterval time.Duration

	// Initial toggle values.
	NotificationsEnabled bool
	WebhookEnabled       bool
	GeneratorEnabled     bool

	// SeedNodes fabricates this many demo nodes on startup.
	SeedNodes int

	// EnableMetrics registers Prometheus collectors.
	EnableMetrics bool
}

// New creates a new Server instance.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}

	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}

	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}

	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.RabbitMQURL != "" && cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty when rabbitmq is configured")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts every component and blocks until shutdown.
func (s *Server) Run(ctx context.Context) (runErr error) {
	s.logger.Info("starting aquamon server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	var (
		pipelineMetrics *metrics.PipelineMetrics
		alertMetrics    *metrics.AlertMetrics
		apiMetrics      *metrics.APIMetrics
		mqMetrics       *metrics.MQMetrics
	)
	if s.config.EnableMetrics {
		pipelineMetrics = metrics.NewPipelineMetrics("aquamon")
		alertMetrics = metrics.NewAlertMetrics("aquamon")
		apiMetrics = metrics.NewAPIMetrics("aquamon")
		if s.config.RabbitMQURL != "" {
			mqMetrics = metrics.NewMQMetrics("aquamon")
		}
	}

	db, err := store.NewDB(&store.DBConfig{
		Logger:   s.logger,
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	// Every exit below this point releases the consumer and the pool.
	defer func() {
		if err := s.shutdown(); err != nil {
			if runErr != nil {
				runErr = fmt.Errorf("%w; shutdown error: %w", runErr, err)
			} else {
				runErr = err
			}
		}
	}()

	if s.config.SeedNodes > 0 {
		if err := pipeline.SeedNodes(ctx, db, s.logger, s.config.SeedNodes); err != nil {
			return fmt.Errorf("failed to seed demo nodes: %w", err)
		}
	}

	cell := toggles.New(
		s.config.NotificationsEnabled,
		s.config.WebhookEnabled,
		s.config.GeneratorEnabled,
	)

	classifier, err := s.buildClassifier(pipelineMetrics)
	if err != nil {
		return err
	}

	gate, err := s.buildGate(db, alertMetrics)
	if err != nil {
		return err
	}

	pipe, err := pipeline.New(&pipeline.Config{
		Logger:     s.logger,
		DB:         db,
		Classifier: classifier,
		Gate:       gate,
		Toggles:    cell,
		Metrics:    pipelineMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	resolver, err := pipeline.NewResolver(&pipeline.ResolverConfig{
		Logger:     s.logger.With(slog.String("component", "resolver")),
		DB:         db,
		Classifier: classifier,
		Gate:       gate,
		Toggles:    cell,
		Interval:   s.config.ResolverInterval,
		Metrics:    pipelineMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize resolver: %w", err)
	}

	generator, err := pipeline.NewGenerator(&pipeline.GeneratorConfig{
		Logger:   s.logger.With(slog.String("component", "generator")),
		DB:       db,
		Toggles:  cell,
		Interval: s.config.GeneratorInterval,
		Metrics:  pipelineMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}

	apiServer, err := api.NewServer(&api.ServerConfig{
		Logger:          s.logger.With(slog.String("component", "api")),
		DB:              db,
		Pipeline:        pipe,
		Toggles:         cell,
		HTTPPort:        s.config.HTTPPort,
		Metrics:         apiMetrics,
		PipelineMetrics: pipelineMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	if s.config.RabbitMQURL != "" {
		consumer, err := mqingest.NewConsumer(&mqingest.ConsumerConfig{
			Logger:      s.logger.With(slog.String("component", "mq-consumer")),
			Pipeline:    pipe,
			RabbitMQURL: s.config.RabbitMQURL,
			QueueName:   s.config.QueueName,
			Metrics:     pipelineMetrics,
			MQMetrics:   mqMetrics,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize mq consumer: %w", err)
		}
		s.consumer = consumer

		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mq consumer: %w", err)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return apiServer.Start(groupCtx)
	})
	group.Go(func() error {
		resolver.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		generator.Run(groupCtx)
		return nil
	})

	s.logger.Info("aquamon server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-groupCtx.Done():
		s.logger.Info("component stopped, shutting down")
		cancel()
	}

	return group.Wait()
}

// buildClassifier assembles the fallback chain, optionally over the remote
// predictor. A bad predictor endpoint is not fatal: the chain degrades to
// rules only.
func (s *Server) buildClassifier(m *metrics.PipelineMetrics) (classify.Classifier, error) {
	var primary classify.Classifier
	if s.config.PredictorURL != "" {
		remote, err := classify.NewRemote(&classify.RemoteConfig{
			BaseURL: s.config.PredictorURL,
			Timeout: s.config.PredictorTimeout,
		})
		if err != nil {
			s.logger.Warn("remote classifier unavailable, using rules only",
				"error", err,
			)
		} else {
			primary = remote
		}
	}

	chain, err := classify.NewFallback(&classify.FallbackConfig{
		Logger:  s.logger.With(slog.String("component", "classifier")),
		Primary: primary,
		Metrics: m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}
	return chain, nil
}

// buildGate assembles the notification gate over the configured mailer. With
// no mail domain configured a null sender is used that always fails, which
// keeps recipients eligible rather than silently dropping alerts.
func (s *Server) buildGate(db *gorm.DB, m *metrics.AlertMetrics) (*alert.Gate, error) {
	var sender alert.Sender
	if s.config.MailDomain != "" {
		mailer, err := alert.NewMailer(&alert.MailerConfig{
			BaseURL: s.config.MailBaseURL,
			Domain:  s.config.MailDomain,
			APIKey:  s.config.MailAPIKey,
			From:    s.config.MailFrom,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize mailer: %w", err)
		}
		sender = mailer
	} else {
		s.logger.Warn("no mail domain configured, alert dispatches will fail")
		sender = unconfiguredSender{}
	}

	gate, err := alert.NewGate(&alert.GateConfig{
		Logger:  s.logger.With(slog.String("component", "gate")),
		DB:      db,
		Sender:  sender,
		Window:  s.config.RateLimitWindow,
		Metrics: m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gate: %w", err)
	}
	return gate, nil
}

// shutdown stops the consumer and closes the database.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down aquamon server")

	var shutdownErr error

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop mq consumer", "error", err)
			shutdownErr = fmt.Errorf("consumer shutdown error: %w", err)
		}
	}

	if s.db != nil {
		if err := store.CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; database close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("database close error: %w", err)
			}
		}
	}

	if shutdownErr != nil {
		return shutdownErr
	}

	s.logger.Info("aquamon server shutdown completed successfully")
	return nil
}

// unconfiguredSender fails every dispatch so recipients remain eligible
// until a real mail provider is configured.
type unconfiguredSender struct{}

func (unconfiguredSender) Send(context.Context, string, string, classify.Status) error {
	return errors.New("mail provider not configured")
}
