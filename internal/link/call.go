package link

import (
	"context"

	"github.com/USA-RedDragon/rtz-link/internal/protocol"
	"github.com/USA-RedDragon/rtz-link/internal/rpcerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/USA-RedDragon/rtz-link/internal/link")

type outcome struct {
	data any
	err  *rpcerror.Error
}

// Call runs a query or mutation and waits for its first result. The
// operation is torn down before Call returns.
func (l *Link) Call(ctx context.Context, typ protocol.OperationType, path string, input any) (any, error) {
	ctx, span := tracer.Start(ctx, "link.Call", trace.WithAttributes(
		attribute.String("rpc.type", string(typ)),
		attribute.String("rpc.path", path),
	))
	defer span.End()

	results := make(chan outcome, 1)
	deliver := func(o outcome) {
		select {
		case results <- o:
		default:
		}
	}
	req, err := l.Execute(ctx, Operation{Type: typ, Path: path, Input: input}, Observer{
		OnNext:  func(data any) { deliver(outcome{data: data}) },
		OnError: func(err *rpcerror.Error) { deliver(outcome{err: err}) },
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer req.Destroy()
	span.SetAttributes(attribute.Int64("rpc.id", req.ID()))

	select {
	case res := <-results:
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, res.err.Error())
			return nil, res.err
		}
		return res.data, nil
	case <-ctx.Done():
		err := rpcerror.From(ctx.Err(), map[string]any{"id": req.ID(), "path": path})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
}

// Subscribe starts a subscription. Destroy the returned request, or cancel
// ctx, to stop it.
func (l *Link) Subscribe(ctx context.Context, path string, input any, observer Observer) (*Request, error) {
	return l.Execute(ctx, Operation{Type: protocol.OperationSubscription, Path: path, Input: input}, observer)
}
