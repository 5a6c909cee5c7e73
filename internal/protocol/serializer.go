package protocol

import (
	"fmt"
	"reflect"

	"github.com/USA-RedDragon/rtz-link/internal/codec"
)

// Transformer converts envelopes to and from the form the codec sees.
// Serialize followed by Deserialize must yield an equivalent value.
type Transformer interface {
	Serialize(v any) (any, error)
	Deserialize(v any) (any, error)
}

type Serializer struct {
	codec       codec.Codec
	transformer Transformer
}

// NewSerializer pairs a codec with an optional transformer. A nil
// transformer passes envelopes through untouched.
func NewSerializer(c codec.Codec, t Transformer) *Serializer {
	if c == nil {
		c = codec.JSON()
	}
	return &Serializer{codec: c, transformer: t}
}

func (s *Serializer) Codec() codec.Codec {
	return s.codec
}

func (s *Serializer) EncodeRequest(req Request) ([]byte, error) {
	return s.encode(req)
}

func (s *Serializer) EncodeResponse(resp Response) ([]byte, error) {
	return s.encode(resp)
}

func (s *Serializer) DecodeRequest(data []byte) (Request, error) {
	var req Request
	err := s.decode(data, &req)
	return req, err
}

// DecodeResponse decodes and validates an inbound response frame.
func (s *Serializer) DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := s.decode(data, &resp); err != nil {
		return resp, err
	}
	if err := resp.Validate(); err != nil {
		return resp, err
	}
	return resp, nil
}

func (s *Serializer) encode(v any) ([]byte, error) {
	var err error
	if s.transformer != nil {
		v, err = s.transformer.Serialize(v)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize envelope: %w", err)
		}
	}
	data, err := s.codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

func (s *Serializer) decode(data []byte, out any) error {
	if s.transformer == nil {
		if err := s.codec.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to unmarshal envelope: %w", err)
		}
		return nil
	}

	var raw any
	if err := s.codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	v, err := s.transformer.Deserialize(raw)
	if err != nil {
		return fmt.Errorf("failed to deserialize envelope: %w", err)
	}

	target := reflect.ValueOf(out).Elem()
	if v != nil {
		if rv := reflect.ValueOf(v); rv.Type().AssignableTo(target.Type()) {
			target.Set(rv)
			return nil
		}
	}

	// Round-trip through the codec to land the generic value in the typed envelope.
	intermediate, err := s.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to re-marshal envelope: %w", err)
	}
	if err := s.codec.Unmarshal(intermediate, out); err != nil {
		return fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return nil
}
