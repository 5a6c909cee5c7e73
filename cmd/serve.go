package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/USA-RedDragon/rtz-link/internal/codec"
	"github.com/USA-RedDragon/rtz-link/internal/peer"
	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultTickInterval = time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a peer that answers link requests",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

// registerProcedures installs the procedures `serve` exposes.
func registerProcedures(p *peer.Peer) {
	p.Query("echo", func(_ context.Context, input any) (any, error) {
		return input, nil
	})
	p.Query("time", func(_ context.Context, _ any) (any, error) {
		return time.Now().UTC().Format(time.RFC3339Nano), nil
	})
	p.Mutation("echo", func(_ context.Context, input any) (any, error) {
		return input, nil
	})
	p.Subscription("ticks", func(ctx context.Context, input any, emit func(any) error) error {
		interval := defaultTickInterval
		if opts, ok := input.(map[string]any); ok {
			if ms, ok := opts["interval_ms"].(float64); ok && ms > 0 {
				interval = time.Duration(ms) * time.Millisecond
			}
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := emit(i); err != nil {
					return nil
				}
			}
		}
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	slog.Info("rtz-link", "version", cmd.Root().Annotations["version"], "commit", cmd.Root().Annotations["commit"])

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	c, err := codec.ByName(config.Link.Codec)
	if err != nil {
		return err
	}
	p := peer.New(peer.Options{
		Serializer:     protocol.NewSerializer(c, nil),
		Logger:         slog.Default(),
		AllowedOrigins: config.Peer.AllowedOrigins,
		WriteBuffer:    config.Link.WriteBuffer,
	})
	registerProcedures(p)

	slog.Info("Starting peer server")
	server := peer.NewServer(config, p, prometheus.DefaultGatherer)
	err = server.Start()
	if err != nil {
		return fmt.Errorf("failed to start peer server: %w", err)
	}

	stop := func(_ os.Signal) {
		slog.Info("Shutting down")

		errGrp := errgroup.Group{}
		errGrp.Go(func() error {
			return server.Stop()
		})

		err := errGrp.Wait()
		if err != nil {
			slog.Error("Shutdown error", "error", err.Error())
		}
		slog.Info("Shutdown complete")
	}
	waitForShutdown(cmd, stop)

	return nil
}
