package protocol_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/USA-RedDragon/rtz-link/internal/codec"
	"github.com/USA-RedDragon/rtz-link/internal/protocol"
)

// wrapTransformer nests every envelope under a "json" key, the way payload
// transformers that carry type metadata do.
type wrapTransformer struct{}

var errNotWrapped = errors.New("not wrapped")

func (wrapTransformer) Serialize(v any) (any, error) {
	return map[string]any{"json": v}, nil
}

func (wrapTransformer) Deserialize(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errNotWrapped
	}
	inner, ok := m["json"]
	if !ok {
		return nil, errNotWrapped
	}
	return inner, nil
}

func serializers(t *testing.T) map[string]*protocol.Serializer {
	t.Helper()
	cborCodec, err := codec.CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	return map[string]*protocol.Serializer{
		"json":             protocol.NewSerializer(codec.JSON(), nil),
		"json+transformer": protocol.NewSerializer(codec.JSON(), wrapTransformer{}),
		"cbor":             protocol.NewSerializer(cborCodec, nil),
		"cbor+transformer": protocol.NewSerializer(cborCodec, wrapTransformer{}),
	}
}

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()
	requests := []protocol.Request{
		protocol.NewRequest(1, protocol.OperationQuery, "post.byId", "abc"),
		protocol.NewRequest(2, protocol.OperationSubscription, "post.onAdd", map[string]any{"room": "lobby"}),
		protocol.NewRequest(3, protocol.OperationMutation, "post.add", nil),
		protocol.NewStop(4),
	}
	for name, s := range serializers(t) {
		name, s := name, s
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			for _, req := range requests {
				data, err := s.EncodeRequest(req)
				if err != nil {
					t.Fatalf("encode: %v", err)
				}
				got, err := s.DecodeRequest(data)
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				if !reflect.DeepEqual(got, req) {
					t.Errorf("roundtrip mismatch: got %#v, want %#v", got, req)
				}
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	t.Parallel()
	responses := []protocol.Response{
		protocol.NewResponse(1, protocol.Success("x")),
		protocol.NewResponse(2, protocol.Failure(-1, "boom", nil)),
	}
	for name, s := range serializers(t) {
		name, s := name, s
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			for _, resp := range responses {
				data, err := s.EncodeResponse(resp)
				if err != nil {
					t.Fatalf("encode: %v", err)
				}
				got, err := s.DecodeResponse(data)
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				if !reflect.DeepEqual(got, resp) {
					t.Errorf("roundtrip mismatch: got %#v, want %#v", got, resp)
				}
			}
		})
	}
}

func TestStopOmitsParams(t *testing.T) {
	t.Parallel()
	s := protocol.NewSerializer(codec.JSON(), nil)
	data, err := s.EncodeRequest(protocol.NewStop(9))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"id":9,"method":"stop","jsonrpc":"2.0"}` {
		t.Errorf("unexpected stop frame: %s", data)
	}
}

func TestDecodeWireResponse(t *testing.T) {
	t.Parallel()
	s := protocol.NewSerializer(nil, nil)

	resp, err := s.DecodeResponse([]byte(`{"id":1,"result":{"ok":true,"data":"x"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *resp.ID != 1 || !resp.Result.OK || resp.Result.Data != "x" {
		t.Errorf("unexpected response: %#v", resp)
	}

	resp, err = s.DecodeResponse([]byte(`{"id":1,"result":{"ok":false,"error":{"code":-1,"message":"boom","data":{"why":"x"}}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Result.OK || resp.Result.Error.Code != -1 || resp.Result.Error.Message != "boom" {
		t.Errorf("unexpected response: %#v", resp)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()
	s := protocol.NewSerializer(nil, nil)

	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"missing id", `{"result":{"ok":true}}`, protocol.ErrMissingID},
		{"missing result", `{"id":1}`, protocol.ErrMissingResult},
		{"failure without error", `{"id":1,"result":{"ok":false}}`, protocol.ErrMalformedResult},
		{"ok with error", `{"id":1,"result":{"ok":true,"error":{"code":1,"message":"x"}}}`, protocol.ErrMalformedResult},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := s.DecodeResponse([]byte(tt.frame)); !errors.Is(err, tt.want) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	if _, err := s.DecodeResponse([]byte("not json")); err == nil {
		t.Error("expected error for garbage frame")
	}
}

func TestParseOperationType(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"query", "mutation", "subscription"} {
		if _, err := protocol.ParseOperationType(s); err != nil {
			t.Errorf("unexpected error for %q: %v", s, err)
		}
	}
	if _, err := protocol.ParseOperationType("stop"); !errors.Is(err, protocol.ErrUnknownType) {
		t.Errorf("unexpected error: %v", err)
	}
}
