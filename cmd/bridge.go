package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/USA-RedDragon/rtz-link/internal/bridge"
	"github.com/USA-RedDragon/rtz-link/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBridgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Relay NATS requests over the link",
		Args:  cobra.NoArgs,
		RunE:  runBridge,
	}
}

func runBridge(cmd *cobra.Command, _ []string) error {
	slog.Info("rtz-link", "version", cmd.Root().Annotations["version"], "commit", cmd.Root().Annotations["commit"])

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.NATS.Enabled {
		return config.ErrNATSNotEnabled
	}

	m, reg := newMetrics(cfg)
	metricsServer := startMetricsServer(cfg, reg)

	client, l, err := dialLink(cmd.Context(), cfg, m)
	if err != nil {
		return err
	}

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("rtz-link"))
	if err != nil {
		l.Close()
		_ = client.Close()
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS connection established", "url", cfg.NATS.URL)

	b := bridge.New(nc, l, bridge.Options{
		Subject: cfg.NATS.Subject,
		Queue:   cfg.NATS.Queue,
		Logger:  slog.Default(),
		Metrics: m,
	})
	if err := b.Start(); err != nil {
		nc.Close()
		l.Close()
		_ = client.Close()
		return err
	}

	stop := func(_ os.Signal) {
		slog.Info("Shutting down")

		errGrp := errgroup.Group{}
		errGrp.Go(func() error {
			return b.Stop()
		})
		if metricsServer != nil {
			errGrp.Go(func() error {
				if err := metricsServer.Shutdown(context.Background()); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
		}

		err := errGrp.Wait()
		if err != nil {
			slog.Error("Shutdown error", "error", err.Error())
		}
		nc.Close()
		l.Close()
		_ = client.Close()
		slog.Info("Shutdown complete")
	}
	waitForShutdown(cmd, stop)

	return nil
}
