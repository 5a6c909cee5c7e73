package peer

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/USA-RedDragon/rtz-link/internal/config"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const defTimeout = 120 * time.Second

// Server exposes a Peer over HTTP, plus an optional metrics listener.
type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	stopped       atomic.Bool
	config        *config.Config
}

func NewServer(config *config.Config, peer *Peer, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)
	if config.Peer.PProf.Enabled {
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if config.Peer.PProf.Enabled {
		pprof.Register(r)
	}
	applyRoutes(r, config, peer)

	var metricsServer *http.Server
	if config.Metrics.Enabled {
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		metricsRouter := gin.New()
		metricsRouter.Use(gin.Recovery())
		metricsRouter.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
		metricsServer = &http.Server{
			Addr:              config.Metrics.Address,
			ReadHeaderTimeout: defTimeout,
			WriteTimeout:      defTimeout,
			Handler:           metricsRouter,
		}
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              config.Peer.Address,
			ReadHeaderTimeout: defTimeout,
			Handler:           r,
		},
		metricsServer: metricsServer,
		config:        config,
	}
}

func applyRoutes(r *gin.Engine, config *config.Config, peer *Peer) {
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	if config.Peer.JWTSecret != "" {
		r.GET("/rpc", requireAuth(config.Peer.JWTSecret), peer.Handler())
	} else {
		r.GET("/rpc", peer.Handler())
	}

	r.NoRoute(func(c *gin.Context) {
		slog.Warn("Not Found", "path", c.Request.URL.Path)
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	})
}

// Handler is the peer's HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !s.stopped.Load() {
			slog.Error("HTTP server error", "error", err.Error())
		}
	}()
	slog.Info("Peer server started", "address", listener.Addr().String())

	if s.metricsServer != nil {
		metricsListener, err := net.Listen("tcp", s.metricsServer.Addr)
		if err != nil {
			return err
		}
		go func() {
			if err := s.metricsServer.Serve(metricsListener); err != nil && !s.stopped.Load() {
				slog.Error("Metrics server error", "error", err.Error())
			}
		}()
		slog.Info("Metrics server started", "address", metricsListener.Addr().String())
	}
	return nil
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.stopped.Store(true)

	errGrp := errgroup.Group{}
	errGrp.Go(func() error {
		return s.httpServer.Shutdown(ctx)
	})
	if s.metricsServer != nil {
		errGrp.Go(func() error {
			return s.metricsServer.Shutdown(ctx)
		})
	}

	return errGrp.Wait()
}
