// Package protocol defines the JSON-RPC 2.0 envelopes exchanged over a link
// and the serializer that turns them into frames.
package protocol

import (
	"fmt"

	"github.com/go-errors/errors"
)

const JSONRPCVersion = "2.0"

type OperationType string

const (
	OperationQuery        OperationType = "query"
	OperationMutation     OperationType = "mutation"
	OperationSubscription OperationType = "subscription"
)

// MethodStop asks the peer to stop producing results for an id.
const MethodStop = "stop"

var (
	ErrMissingID       = errors.New("response has no id")
	ErrMissingResult   = errors.New("response has no result")
	ErrMalformedResult = errors.New("malformed result")
	ErrUnknownType     = errors.New("unknown operation type")
)

func (t OperationType) Valid() bool {
	switch t {
	case OperationQuery, OperationMutation, OperationSubscription:
		return true
	}
	return false
}

func ParseOperationType(s string) (OperationType, error) {
	t := OperationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

type Params struct {
	Input any    `json:"input"`
	Path  string `json:"path"`
}

type Request struct {
	ID             int64   `json:"id"`
	Method         string  `json:"method"`
	Params         *Params `json:"params,omitempty"`
	JSONRPCVersion string  `json:"jsonrpc"`
}

func NewRequest(id int64, typ OperationType, path string, input any) Request {
	return Request{
		ID:     id,
		Method: string(typ),
		Params: &Params{
			Input: input,
			Path:  path,
		},
		JSONRPCVersion: JSONRPCVersion,
	}
}

func NewStop(id int64) Request {
	return Request{
		ID:             id,
		Method:         MethodStop,
		JSONRPCVersion: JSONRPCVersion,
	}
}

func (r Request) IsStop() bool {
	return r.Method == MethodStop
}

// ErrorShape is the structured error a peer reports for a request.
type ErrorShape struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Result is either a success carrying Data or a failure carrying Error,
// discriminated by OK.
type Result struct {
	OK    bool        `json:"ok"`
	Data  any         `json:"data,omitempty"`
	Error *ErrorShape `json:"error,omitempty"`
}

func Success(data any) Result {
	return Result{OK: true, Data: data}
}

func Failure(code int, message string, data any) Result {
	return Result{
		Error: &ErrorShape{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

func (r Result) Validate() error {
	if r.OK && r.Error != nil {
		return fmt.Errorf("%w: ok result carries an error", ErrMalformedResult)
	}
	if !r.OK && r.Error == nil {
		return fmt.Errorf("%w: failed result carries no error", ErrMalformedResult)
	}
	return nil
}

type Response struct {
	ID             *int64  `json:"id"`
	JSONRPCVersion string  `json:"jsonrpc,omitempty"`
	Result         *Result `json:"result"`
}

func NewResponse(id int64, result Result) Response {
	return Response{
		ID:             &id,
		JSONRPCVersion: JSONRPCVersion,
		Result:         &result,
	}
}

// Validate checks that the response can be routed.
func (r Response) Validate() error {
	if r.ID == nil {
		return ErrMissingID
	}
	if r.Result == nil {
		return ErrMissingResult
	}
	return r.Result.Validate()
}
