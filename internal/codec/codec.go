// Package codec holds the wire codecs envelopes are encoded with.
package codec

import (
	"fmt"
	"strings"

	"github.com/go-errors/errors"
)

// Codec marshals envelopes to frame payloads. Implementations must be
// deterministic so that encode then decode yields an equivalent value.
type Codec interface {
	Name() string
	ContentType() string
	// Binary reports whether frames should be sent as binary messages.
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

const (
	NameJSON = "json"
	NameCBOR = "cbor"
)

var ErrUnknownCodec = errors.New("unknown codec")

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", NameJSON:
		return JSON(), nil
	case NameCBOR:
		return CBOR()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
}
