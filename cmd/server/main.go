package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/meet-server/internal/app"
	"github.com/vovakirdan/meet-server/internal/config"
	"github.com/vovakirdan/meet-server/internal/log"
	"github.com/vovakirdan/meet-server/internal/roomname"
)

type options struct {
	configPath string
	addr       string
	logLevel   string
}

func main() {
	// Variables from .env never override the real environment.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "meet-server",
		Short:         "Issues LiveKit access tokens and provisions meeting rooms",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&opts.addr, "addr", "", "HTTP listen address")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	roomNameCmd := &cobra.Command{
		Use:   "room-name",
		Short: "Print a freshly generated room name",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			validator, err := roomname.New(cfg.Rooms.NameSegments)
			if err != nil {
				return err
			}
			name, err := validator.Generate()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, roomNameCmd)
	return rootCmd
}

// loadConfig resolves configuration: defaults < file < env < flags.
func loadConfig(opts *options) (config.Config, error) {
	// Config warnings go to stderr so room-name output stays clean.
	bootstrap := log.NewWithWriter(os.Stderr, "warn", "console")

	cfg, _, err := config.Load(bootstrap, opts.configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	cfg.UpdateFrom(config.Config{
		Addr:     opts.addr,
		LogLevel: opts.logLevel,
	})
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(parent context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := log.New(cfg.LogLevel, cfg.LogFormat)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(&cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("room_name_segments", cfg.Rooms.NameSegments).Msg("starting meet server")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
