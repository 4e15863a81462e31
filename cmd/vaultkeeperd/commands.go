package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"VaultKeeper-Claude/internal/api"
	"VaultKeeper-Claude/internal/config"
	"VaultKeeper-Claude/internal/dispatch"
	xerrors "VaultKeeper-Claude/internal/errors"
	"VaultKeeper-Claude/internal/llm/anthropic"
	"VaultKeeper-Claude/internal/observability/alerting"
	"VaultKeeper-Claude/internal/observability/metrics"
	"VaultKeeper-Claude/pkg/logger"
)

const configEnv = "VAULTKEEPER_CONFIG"

var errDegraded = errors.New("upstream is degraded")

type app struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	client  *anthropic.Client
	svc     *dispatch.Service
	server  *api.Server
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vaultkeeperd",
		Short:         "HTTP gateway forwarding agent tasks to Claude",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(configEnv), "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Probe the upstream once and print the health report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(configPath)
			if err != nil {
				return reportErr(cmd, err)
			}
			defer logger.Sync()
			report := a.server.Health(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if report.Status != "healthy" {
				return errDegraded
			}
			return nil
		},
	})
	return root
}

func runServe(ctx context.Context, configPath string) error {
	a, err := setup(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vaultkeeperd: %v\n", err)
		return err
	}
	defer logger.Sync()

	log := logger.Named("main")
	log.Info("starting VaultKeeper Claude Integration",
		slog.String("addr", a.cfg.Server.Address()),
		slog.String("model", a.client.Model()),
		slog.Bool("api_key_configured", a.cfg.Anthropic.APIKey != ""),
	)

	err = a.server.Start(ctx)
	a.svc.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info("shutdown complete")
		return nil
	}
	if err != nil {
		log.Error("server stopped", slog.Any("error", err))
	}
	return err
}

// setup loads configuration and wires the client, dispatcher and server.
func setup(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Path != "",
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	m := metrics.New()
	client, err := anthropic.NewClient(anthropic.Config{
		APIKey:       cfg.Anthropic.APIKey,
		BaseURL:      cfg.Anthropic.BaseURL,
		APIVersion:   cfg.Anthropic.APIVersion,
		Model:        cfg.Anthropic.Model,
		MaxTokens:    cfg.Anthropic.MaxTokens,
		Timeout:      cfg.Anthropic.Timeout(),
		ProbeTimeout: cfg.Anthropic.HealthTimeout(),
		Transport:    m.InstrumentTransport(nil),
	})
	if err != nil {
		return nil, err
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}

	svc := dispatch.New(client,
		dispatch.WithMetrics(m),
		dispatch.WithAlerter(alerting.NewFanout(xerrors.Severity(cfg.Alerting.Threshold), notifiers...)),
		dispatch.WithMaxTokens(cfg.Anthropic.MaxTokens),
	)
	server := api.NewServer(cfg.Server.Address(), svc,
		api.WithProber(client, cfg.Anthropic.APIKey != ""),
		api.WithProbeTimeout(cfg.Anthropic.HealthTimeout()),
		api.WithMetrics(m),
	)
	return &app{cfg: cfg, metrics: m, client: client, svc: svc, server: server}, nil
}

func reportErr(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "vaultkeeperd: %v\n", err)
	return err
}
