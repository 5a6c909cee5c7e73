package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/USA-RedDragon/rtz-link/internal/protocol"
)

// Resolver answers a query or mutation once.
type Resolver func(ctx context.Context, input any) (any, error)

// Streamer produces subscription results with emit until ctx is done or it
// returns. emit fails once the subscriber stopped.
type Streamer func(ctx context.Context, input any, emit func(data any) error) error

type procedure struct {
	typ     protocol.OperationType
	resolve Resolver
	stream  Streamer
}

func procedureKey(typ protocol.OperationType, path string) string {
	return string(typ) + ":" + path
}

// Error lets a procedure choose the code it fails with.
type Error struct {
	Code    int
	Message string
	Data    any
}

func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// shapeOf turns a procedure failure into the error shape sent to the client.
func shapeOf(err error, path string) protocol.Result {
	var procErr *Error
	if errors.As(err, &procErr) {
		data := procErr.Data
		if data == nil {
			data = map[string]any{"code": protocol.CodeName(procErr.Code), "path": path}
		}
		return protocol.Failure(procErr.Code, procErr.Message, data)
	}
	return protocol.Failure(protocol.CodeInternalServerError, err.Error(), map[string]any{
		"code": protocol.CodeName(protocol.CodeInternalServerError),
		"path": path,
	})
}
