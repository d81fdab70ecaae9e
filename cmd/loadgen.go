package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/emovision/internal/loadgen"
	"procodus.dev/emovision/pkg/metrics"
)

var loadgenCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Run the synthetic upload generator",
	Long: `Run the synthetic upload generator that:
- Generates fake device identities and image payloads
- Posts multipart uploads against a running analysis server
- Supports multiple concurrent workers`,
	RunE: runLoadgen,
}

func init() {
	rootCmd.AddCommand(loadgenCmd)

	// Loadgen-specific flags
	loadgenCmd.Flags().String("target-url", "http://localhost:8080/analyses/upload", "upload endpoint of a running server")
	loadgenCmd.Flags().Int("worker-count", 5, "number of concurrent upload workers")
	loadgenCmd.Flags().Duration("interval", 5*time.Second, "interval between uploads per worker")

	// Bind flags to viper
	_ = viper.BindPFlag("loadgen.target_url", loadgenCmd.Flags().Lookup("target-url"))
	_ = viper.BindPFlag("loadgen.worker_count", loadgenCmd.Flags().Lookup("worker-count"))
	_ = viper.BindPFlag("loadgen.interval", loadgenCmd.Flags().Lookup("interval"))
}

func runLoadgen(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting load generator")

	config := &loadgen.ServerConfig{
		Logger:      logger,
		TargetURL:   viper.GetString("loadgen.target_url"),
		WorkerCount: viper.GetInt("loadgen.worker_count"),
		Interval:    viper.GetDuration("loadgen.interval"),
		Metrics:     metrics.NewLoadgenMetrics("emovision"),
	}

	server, err := loadgen.NewServer(config)
	if err != nil {
		logger.Error("failed to create load generator", "error", err)
		return err
	}

	logger.Info("load generator configuration",
		"target_url", config.TargetURL,
		"worker_count", config.WorkerCount,
		"interval", config.Interval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("load generator error", "error", err)
		return err
	}

	logger.Info("load generator stopped")
	return nil
}
