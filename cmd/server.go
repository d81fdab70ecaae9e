package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/emovision/internal/analysis"
	"procodus.dev/emovision/internal/api"
	"procodus.dev/emovision/internal/classifier"
	"procodus.dev/emovision/pkg/events"
	"procodus.dev/emovision/pkg/metrics"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the analysis server",
	Long: `Run the analysis server that:
- Accepts device photo uploads over HTTP
- Forwards images to the external emotion-classification service
- Persists analyses and their linked records
- Serves CRUD retrieval endpoints and Prometheus metrics`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().Int("http-port", 8080, "HTTP API port")
	serverCmd.Flags().String("db-driver", "postgres", "database driver (postgres, sqlite)")
	serverCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	serverCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	serverCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	serverCmd.Flags().String("db-password", "", "PostgreSQL password")
	serverCmd.Flags().String("db-name", "emovision", "PostgreSQL database name")
	serverCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	serverCmd.Flags().String("db-path", "emovision.db", "SQLite database file")
	serverCmd.Flags().String("classifier-url", "http://localhost:8000/emotion", "emotion classification service endpoint")
	serverCmd.Flags().Duration("classifier-timeout", 30*time.Second, "classification request timeout")
	serverCmd.Flags().String("events-url", "", "RabbitMQ URL for analysis events (empty disables publishing)")
	serverCmd.Flags().String("events-queue", "analysis-events", "RabbitMQ queue name for analysis events")

	// Bind flags to viper
	_ = viper.BindPFlag("server.http.port", serverCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("server.db.driver", serverCmd.Flags().Lookup("db-driver"))
	_ = viper.BindPFlag("server.db.host", serverCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("server.db.port", serverCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("server.db.user", serverCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("server.db.password", serverCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("server.db.name", serverCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("server.db.sslmode", serverCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("server.db.path", serverCmd.Flags().Lookup("db-path"))
	_ = viper.BindPFlag("server.classifier.url", serverCmd.Flags().Lookup("classifier-url"))
	_ = viper.BindPFlag("server.classifier.timeout", serverCmd.Flags().Lookup("classifier-timeout"))
	_ = viper.BindPFlag("server.events.url", serverCmd.Flags().Lookup("events-url"))
	_ = viper.BindPFlag("server.events.queue", serverCmd.Flags().Lookup("events-queue"))
}

func runServer(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting analysis server")

	db, err := analysis.NewDB(&analysis.DBConfig{
		Logger:   logger,
		Driver:   viper.GetString("server.db.driver"),
		Host:     viper.GetString("server.db.host"),
		Port:     viper.GetInt("server.db.port"),
		User:     viper.GetString("server.db.user"),
		Password: viper.GetString("server.db.password"),
		DBName:   viper.GetString("server.db.name"),
		SSLMode:  viper.GetString("server.db.sslmode"),
		Path:     viper.GetString("server.db.path"),
	})
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if err := analysis.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	pipelineMetrics := metrics.NewPipelineMetrics("emovision")
	apiMetrics := metrics.NewAPIMetrics("emovision")

	client, err := classifier.NewClient(&classifier.ClientConfig{
		Logger:      logger.With(slog.String("component", "classifier")),
		EndpointURL: viper.GetString("server.classifier.url"),
		Timeout:     viper.GetDuration("server.classifier.timeout"),
		Metrics:     pipelineMetrics,
	})
	if err != nil {
		logger.Error("failed to create classifier client", "error", err)
		return err
	}

	var publisher events.PublisherInterface
	if url := viper.GetString("server.events.url"); url != "" {
		eventsMetrics := metrics.NewEventsMetrics("emovision")
		p := events.New(viper.GetString("server.events.queue"), url, logger)
		p.SetMetrics(eventsMetrics)
		publisher = p
		defer func() {
			if err := p.Close(); err != nil {
				logger.Error("failed to close event publisher", "error", err)
			}
		}()
	}

	service, err := analysis.NewService(&analysis.ServiceConfig{
		Logger:     logger,
		DB:         db,
		Classifier: client,
		Publisher:  publisher,
		Metrics:    pipelineMetrics,
	})
	if err != nil {
		logger.Error("failed to create analysis service", "error", err)
		return err
	}

	server, err := api.NewServer(&api.ServerConfig{
		Logger:   logger,
		HTTPPort: viper.GetInt("server.http.port"),
		Service:  service,
		Metrics:  apiMetrics,
	})
	if err != nil {
		logger.Error("failed to create api server", "error", err)
		return err
	}

	logger.Info("analysis server configuration",
		"http_port", viper.GetInt("server.http.port"),
		"db_driver", viper.GetString("server.db.driver"),
		"classifier_url", viper.GetString("server.classifier.url"),
		"events_enabled", publisher != nil,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("analysis server error", "error", err)
		return err
	}

	logger.Info("analysis server stopped")
	return nil
}
