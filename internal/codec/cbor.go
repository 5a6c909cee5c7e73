package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a canonical CBOR codec. Maps decode with string keys so that
// decoded envelopes look the same as their JSON counterparts.
func CBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build CBOR encoder: %w", err)
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build CBOR decoder: %w", err)
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (cborCodec) Name() string                         { return NameCBOR }
func (cborCodec) ContentType() string                  { return "application/cbor" }
func (cborCodec) Binary() bool                         { return true }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
