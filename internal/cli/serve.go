package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"circdesk/internal/clock"
	"circdesk/internal/config"
	"circdesk/internal/telemetry"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "path to a TOML config file")
	serveCmd.Flags().String("port", "", "listen port, overrides the config file and PORT")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the circulation server",
	Long: `Run the circulation server. Settings come from the config file, then the
environment (PORT, DATABASE_DRIVER, DATABASE_URL, JWT_SECRET, REQUIRE_AUTH,
LOG_LEVEL, OTEL_EXPORTER_OTLP_ENDPOINT), then flags.

Without a database URL everything is kept in memory.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Server.Port = port
	}

	logger, err := newLogger(cfg.Telemetry.LogLevel, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx := cmd.Context()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracer shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger, clock.System{})
	if err != nil {
		return err
	}
	defer a.close()

	ln, err := net.Listen("tcp", ":"+cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.Server.Port, err)
	}
	return a.run(ctx, ln)
}
