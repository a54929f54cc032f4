package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/fakebackend"
	"github.com/spf13/cobra"
)

const errLoggerKey = "error"

type rootFlags struct {
	configPath string
	port       string
	delay      time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "fakebackend",
		Short: "Run an in-memory chat backend",
		Long: `fakebackend serves the chat backend HTTP API from memory. Replies echo the user
by default; configure an llm provider to answer with OpenAI or Ollama instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, cfg.logger(cmd.ErrOrStderr()))
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&flags.port, "port", "", "port to listen on, overrides the config")
	cmd.Flags().DurationVar(&flags.delay, "delay", 0, "delay between streamed fragments, overrides the config")

	return cmd
}

func loadConfig(cmd *cobra.Command, flags rootFlags) (config, error) {
	cfg := defaultConfig()
	if flags.configPath != "" {
		cfgFile, err := os.Open(flags.configPath)
		if err != nil {
			return config{}, fmt.Errorf("error opening config file: %w", err)
		}
		defer cfgFile.Close()

		if err := decodeConfig(cfgFile, &cfg); err != nil {
			return config{}, err
		}
	}
	if flags.port != "" {
		cfg.Port = flags.port
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	if cmd.Flags().Changed("delay") {
		cfg.chunkDelay = flags.delay
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg config, logger *slog.Logger) error {
	opts, err := cfg.options(logger)
	if err != nil {
		return fmt.Errorf("invalid llm config: %w", err)
	}
	backend := fakebackend.New(cfg.Prefix, opts, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           backend,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr), slog.String("prefix", cfg.Prefix))
		serverErrors <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("Server error", slog.String(errLoggerKey, err.Error()))
		return err

	case <-ctx.Done():
		logger.Info("Start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
			return err
		}
	}
	return nil
}
