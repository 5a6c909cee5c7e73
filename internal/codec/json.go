package codec

import (
	"encoding/json"
)

type jsonCodec struct{}

// JSON returns the default codec. Frames are sent as text messages.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string                       { return NameJSON }
func (jsonCodec) ContentType() string                { return "application/json" }
func (jsonCodec) Binary() bool                       { return false }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
