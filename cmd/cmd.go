package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/USA-RedDragon/rtz-link/internal/codec"
	"github.com/USA-RedDragon/rtz-link/internal/config"
	"github.com/USA-RedDragon/rtz-link/internal/link"
	"github.com/USA-RedDragon/rtz-link/internal/metrics"
	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/USA-RedDragon/rtz-link/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/ztrue/shutdown"
)

const testingVersion = "testing"

func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rtz-link",
		Short:   "Multiplex JSON-RPC calls and subscriptions over one websocket",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(cmd)
	cmd.AddCommand(
		newCallCommand(),
		newSubscribeCommand(),
		newServeCommand(),
		newBridgeCommand(),
		newTokenCommand(),
	)
	return cmd
}

func isTesting(cmd *cobra.Command) bool {
	return cmd.Root().Annotations["version"] == testingVersion
}

// loadConfig loads and validates the config and installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	config, err := config.LoadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	err = config.Validate()
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.SlogLevel()})))
	return config, nil
}

// newMetrics returns nil when metrics are disabled; every recorder is
// nil-safe.
func newMetrics(config *config.Config) (*metrics.Metrics, *prometheus.Registry) {
	if !config.Metrics.Enabled {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	return metrics.NewMetrics(reg), reg
}

func startMetricsServer(config *config.Config, reg *prometheus.Registry) *http.Server {
	if reg == nil {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	metricsRouter := gin.New()
	metricsRouter.Use(gin.Recovery())
	metricsRouter.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	server := &http.Server{
		Addr:              config.Metrics.Address,
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           metricsRouter,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server error", "error", err.Error())
		}
	}()
	slog.Info("Metrics server started", "address", config.Metrics.Address)
	return server
}

// dialLink connects to the configured peer and waits for the connection to
// open.
func dialLink(ctx context.Context, config *config.Config, m *metrics.Metrics) (*websocket.Client, *link.Link, error) {
	c, err := codec.ByName(config.Link.Codec)
	if err != nil {
		return nil, nil, err
	}
	serializer := protocol.NewSerializer(c, nil)

	header := http.Header{}
	if config.Link.AuthToken != "" {
		header.Set("Authorization", "Bearer "+config.Link.AuthToken)
	}

	client := websocket.NewClient(websocket.Options{
		URL:              config.Link.URL,
		Header:           header,
		HandshakeTimeout: config.Link.HandshakeTimeout,
		WriteBuffer:      config.Link.WriteBuffer,
		Binary:           c.Binary(),
		Logger:           slog.Default(),
		Metrics:          m,
	})
	l := link.New(client,
		link.WithSerializer(serializer),
		link.WithLogger(slog.Default()),
		link.WithMetrics(m),
	)

	waitCtx, cancel := context.WithTimeout(ctx, config.Link.ConnectTimeout)
	defer cancel()
	if err := client.WaitOpen(waitCtx); err != nil {
		l.Close()
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", config.Link.URL, err)
	}
	return client, l, nil
}

// waitForShutdown blocks until a signal arrives, then runs stop. Under the
// testing version it stops after a short sleep instead.
func waitForShutdown(cmd *cobra.Command, stop func(os.Signal)) {
	if isTesting(cmd) {
		doneChannel := make(chan struct{})
		go func() {
			slog.Info("Sleeping for 1 second")
			time.Sleep(time.Second)
			slog.Info("Sending SIGTERM")
			stop(syscall.SIGTERM)
			doneChannel <- struct{}{}
		}()
		<-doneChannel
		return
	}
	shutdown.AddWithParam(stop)
	shutdown.Listen(syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}
