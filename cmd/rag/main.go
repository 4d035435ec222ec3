package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"sparkrag/internal/config"
	"sparkrag/internal/telemetry"
)

var (
	cfgFile string
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "rag",
	Short:         "Retrieval-augmented answers from the Spark inference service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file (default ./config.yaml or ~/.config/sparkrag/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "path to .env file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads .env and the config, builds the logger and starts tracing.
// Logs and spans go to logOut so they never mix with answers on stdout.
func setup(logOut io.Writer) (*config.AppConfig, *slog.Logger, func(context.Context) error, error) {
	_ = godotenv.Load(envFile)

	var (
		cfg *config.AppConfig
		err error
	)
	if cfgFile == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgFile)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	shutdown := func(context.Context) error { return nil }
	if cfg.Telemetry.Enabled {
		shutdown, err = telemetry.InitTracer(cfg.Telemetry.ServiceName, logOut, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init tracing: %w", err)
		}
	}
	return cfg, logger, shutdown, nil
}
