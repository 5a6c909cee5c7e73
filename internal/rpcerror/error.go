// Package rpcerror provides the single error type callers of a link see,
// whatever the failure originated from.
package rpcerror

import (
	"errors"
	"fmt"
	"maps"

	"github.com/USA-RedDragon/rtz-link/internal/protocol"
)

const UnknownMessage = "Unknown error"

type Error struct {
	Message string
	// Shape is the structured error reported by the peer, nil for local failures.
	Shape *protocol.ErrorShape
	Data  any
	Cause error
	Meta  map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the peer's error code when the error came from the peer.
func (e *Error) Code() (int, bool) {
	if e.Shape == nil {
		return 0, false
	}
	return e.Shape.Code, true
}

// UnknownCause retains a failure value that is not an error.
type UnknownCause struct {
	Value any
}

func (u *UnknownCause) Error() string {
	return fmt.Sprintf("%v", u.Value)
}

// FromShape builds an error from a peer's structured error.
func FromShape(shape *protocol.ErrorShape, meta map[string]any) *Error {
	return &Error{
		Message: shape.Message,
		Shape:   shape,
		Data:    shape.Data,
		Meta:    meta,
	}
}

// From converts any failure value into an *Error. An existing *Error in the
// chain is returned as-is with meta merged into it.
func From(cause any, meta map[string]any) *Error {
	switch c := cause.(type) {
	case protocol.Result:
		if !c.OK && c.Error != nil {
			return FromShape(c.Error, meta)
		}
	case *protocol.ErrorShape:
		if c != nil {
			return FromShape(c, meta)
		}
	case protocol.ErrorShape:
		return FromShape(&c, meta)
	case error:
		var existing *Error
		if errors.As(c, &existing) {
			if meta != nil {
				if existing.Meta == nil {
					existing.Meta = make(map[string]any, len(meta))
				}
				maps.Copy(existing.Meta, meta)
			}
			return existing
		}
		return &Error{
			Message: c.Error(),
			Cause:   c,
			Meta:    meta,
		}
	}
	return &Error{
		Message: UnknownMessage,
		Cause:   &UnknownCause{Value: cause},
		Meta:    meta,
	}
}
