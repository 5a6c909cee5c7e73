// Package router correlates inbound frames with pending requests.
package router

import (
	"log/slog"

	"github.com/USA-RedDragon/rtz-link/internal/metrics"
	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/USA-RedDragon/rtz-link/internal/registry"
	"github.com/USA-RedDragon/rtz-link/internal/subject"
)

const (
	DropMalformed = "malformed"
	DropUnmatched = "unmatched"
)

type Router struct {
	registry   *registry.Registry
	serializer *protocol.Serializer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func New(registry *registry.Registry, serializer *protocol.Serializer, logger *slog.Logger, metrics *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:   registry,
		serializer: serializer,
		logger:     logger,
		metrics:    metrics,
	}
}

// Attach routes every frame published on messages until the returned
// func is called or messages completes.
func (r *Router) Attach(messages *subject.Subject[[]byte], onDone func()) func() {
	return messages.Subscribe(func(frame []byte) {
		r.Route(frame)
	}, onDone)
}

// Route delivers one frame. Undecodable frames and frames for ids that are
// not pending are dropped; it reports whether the frame was delivered.
func (r *Router) Route(frame []byte) bool {
	resp, err := r.serializer.DecodeResponse(frame)
	if err != nil {
		r.metrics.IncrementFramesDropped(DropMalformed)
		r.logger.Debug("Dropping malformed frame", "error", err, "size", len(frame))
		return false
	}
	if !r.registry.Deliver(*resp.ID, *resp.Result) {
		r.metrics.IncrementFramesDropped(DropUnmatched)
		r.logger.Debug("Dropping frame for unknown request", "id", *resp.ID)
		return false
	}
	return true
}
