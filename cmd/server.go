package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/aquamon/internal/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the monitoring server",
	Long: `Run the monitoring server that:
- Serves the HTTP ingestion and control API
- Consumes measurement batches from RabbitMQ (optional)
- Classifies readings and stores them in PostgreSQL
- Sweeps unclassified readings in the background
- Dispatches rate-limited alert emails`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	serverCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	serverCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	serverCmd.Flags().String("db-password", "", "PostgreSQL password")
	serverCmd.Flags().String("db-name", "aquamon", "PostgreSQL database name")
	serverCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	serverCmd.Flags().Int("http-port", 8080, "HTTP API port")
	serverCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL (empty disables MQ ingestion)")
	serverCmd.Flags().String("queue-name", "sensor-data", "RabbitMQ queue name for measurement batches")
	serverCmd.Flags().String("predictor-url", "", "prediction service endpoint (empty uses threshold rules only)")
	serverCmd.Flags().Duration("predictor-timeout", 0, "prediction call timeout")
	serverCmd.Flags().String("mail-base-url", "", "mail provider API root")
	serverCmd.Flags().String("mail-domain", "", "mail sending domain")
	serverCmd.Flags().String("mail-api-key", "", "mail provider API key")
	serverCmd.Flags().String("mail-from", "", "alert sender address")
	serverCmd.Flags().Duration("rate-limit-window", 0, "minimum interval between notifications to one recipient")
	serverCmd.Flags().Duration("resolver-interval", 0, "status resolver sweep interval")
	serverCmd.Flags().Duration("generator-interval", 0, "synthetic load generator interval")
	serverCmd.Flags().Bool("notifications-enabled", true, "initial notifications toggle")
	serverCmd.Flags().Bool("webhook-enabled", true, "initial webhook ingestion toggle")
	serverCmd.Flags().Bool("generator-enabled", false, "initial synthetic generator toggle")
	serverCmd.Flags().Int("seed-nodes", 0, "number of demo nodes to fabricate on startup")
	serverCmd.Flags().Bool("metrics-enabled", true, "register Prometheus collectors")

	// Bind flags to viper
	_ = viper.BindPFlag("server.db.host", serverCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("server.db.port", serverCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("server.db.user", serverCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("server.db.password", serverCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("server.db.name", serverCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("server.db.sslmode", serverCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("server.http.port", serverCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("server.rabbitmq.url", serverCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("server.rabbitmq.queue_name", serverCmd.Flags().Lookup("queue-name"))
	_ = viper.BindPFlag("server.predictor.url", serverCmd.Flags().Lookup("predictor-url"))
	_ = viper.BindPFlag("server.predictor.timeout", serverCmd.Flags().Lookup("predictor-timeout"))
	_ = viper.BindPFlag("server.mail.base_url", serverCmd.Flags().Lookup("mail-base-url"))
	_ = viper.BindPFlag("server.mail.domain", serverCmd.Flags().Lookup("mail-domain"))
	_ = viper.BindPFlag("server.mail.api_key", serverCmd.Flags().Lookup("mail-api-key"))
	_ = viper.BindPFlag("server.mail.from", serverCmd.Flags().Lookup("mail-from"))
	_ = viper.BindPFlag("server.alert.rate_limit_window", serverCmd.Flags().Lookup("rate-limit-window"))
	_ = viper.BindPFlag("server.resolver.interval", serverCmd.Flags().Lookup("resolver-interval"))
	_ = viper.BindPFlag("server.generator.interval", serverCmd.Flags().Lookup("generator-interval"))
	_ = viper.BindPFlag("server.toggles.notifications", serverCmd.Flags().Lookup("notifications-enabled"))
	_ = viper.BindPFlag("server.toggles.webhook", serverCmd.Flags().Lookup("webhook-enabled"))
	_ = viper.BindPFlag("server.toggles.generator", serverCmd.Flags().Lookup("generator-enabled"))
	_ = viper.BindPFlag("server.seed_nodes", serverCmd.Flags().Lookup("seed-nodes"))
	_ = viper.BindPFlag("server.metrics.enabled", serverCmd.Flags().Lookup("metrics-enabled"))
}

func runServer(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting aquamon service")

	// Create server configuration from viper
	config := &server.Config{
		Logger:               logger,
		DBHost:               viper.GetString("server.db.host"),
		DBPort:               viper.GetInt("server.db.port"),
		DBUser:               viper.GetString("server.db.user"),
		DBPassword:           viper.GetString("server.db.password"),
		DBName:               viper.GetString("server.db.name"),
		DBSSLMode:            viper.GetString("server.db.sslmode"),
		HTTPPort:             viper.GetInt("server.http.port"),
		RabbitMQURL:          viper.GetString("server.rabbitmq.url"),
		QueueName:            viper.GetString("server.rabbitmq.queue_name"),
		PredictorURL:         viper.GetString("server.predictor.url"),
		PredictorTimeout:     viper.GetDuration("server.predictor.timeout"),
		MailBaseURL:          viper.GetString("server.mail.base_url"),
		MailDomain:           viper.GetString("server.mail.domain"),
		MailAPIKey:           viper.GetString("server.mail.api_key"),
		MailFrom:             viper.GetString("server.mail.from"),
		RateLimitWindow:      viper.GetDuration("server.alert.rate_limit_window"),
		ResolverInterval:     viper.GetDuration("server.resolver.interval"),
		GeneratorInterval:    viper.GetDuration("server.generator.interval"),
		NotificationsEnabled: viper.GetBool("server.toggles.notifications"),
		WebhookEnabled:       viper.GetBool("server.toggles.webhook"),
		GeneratorEnabled:     viper.GetBool("server.toggles.generator"),
		SeedNodes:            viper.GetInt("server.seed_nodes"),
		EnableMetrics:        viper.GetBool("server.metrics.enabled"),
	}

	srv, err := server.New(config)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return err
	}

	logger.Info("server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"http_port", config.HTTPPort,
		"rabbitmq_url", config.RabbitMQURL,
		"queue", config.QueueName,
		"predictor_url", config.PredictorURL,
		"mail_domain", config.MailDomain,
	)

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}
