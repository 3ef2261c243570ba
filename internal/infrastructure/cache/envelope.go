package cache

import (
	"encoding/json"
	"sync"

	"github.com/klauspost/compress/zstd"

	cerrors "storefront-backend/internal/errors"
)

// Envelope is the stored form of every cached value. TypeTag names the data
// type the payload was written for, so a reader never decodes a payload into
// the wrong shape.
type Envelope struct {
	TypeTag    string `json:"t"`
	Compressed bool   `json:"c,omitempty"`
	Payload    []byte `json:"p"`
}

// Codec encodes values into envelopes and back. zstd encoders and decoders are
// created lazily and shared; EncodeAll/DecodeAll are safe for concurrent use.
type Codec struct {
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

// NewCodec creates a codec.
func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) init() error {
	c.once.Do(func() {
		c.encoder, c.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if c.initErr != nil {
			return
		}
		c.decoder, c.initErr = zstd.NewReader(nil)
	})
	return c.initErr
}

// Encode marshals value as JSON and wraps it in an envelope tagged typeTag.
func (c *Codec) Encode(typeTag string, value any, compress bool) ([]byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, cerrors.Serialization(cerrors.CodePayloadEncode, "failed to marshal value").
			WithDetails(typeTag).WithCause(err).Build()
	}
	return c.Wrap(typeTag, payload, compress)
}

// Wrap envelopes an already-serialized JSON payload.
func (c *Codec) Wrap(typeTag string, payload []byte, compress bool) ([]byte, error) {
	env := Envelope{TypeTag: typeTag, Payload: payload}
	if compress {
		if err := c.init(); err != nil {
			return nil, cerrors.Serialization(cerrors.CodePayloadEncode, "zstd unavailable").WithCause(err).Build()
		}
		env.Payload = c.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
		env.Compressed = true
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, cerrors.Serialization(cerrors.CodePayloadEncode, "failed to marshal envelope").WithCause(err).Build()
	}
	return data, nil
}

// Unwrap opens an envelope and returns the JSON payload. expectedTag must match
// the envelope's tag.
func (c *Codec) Unwrap(data []byte, expectedTag string) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, cerrors.Serialization(cerrors.CodePayloadDecode, "malformed envelope").WithCause(err).Build()
	}
	if env.TypeTag != expectedTag {
		return nil, cerrors.Serialization(cerrors.CodeTypeTagMismatch, "unexpected type tag").
			WithDetails(env.TypeTag + " != " + expectedTag).Build()
	}
	if !env.Compressed {
		return env.Payload, nil
	}
	if err := c.init(); err != nil {
		return nil, cerrors.Serialization(cerrors.CodePayloadDecode, "zstd unavailable").WithCause(err).Build()
	}
	payload, err := c.decoder.DecodeAll(env.Payload, nil)
	if err != nil {
		return nil, cerrors.Serialization(cerrors.CodePayloadDecode, "failed to decompress payload").WithCause(err).Build()
	}
	return payload, nil
}

// Decode opens an envelope and unmarshals its payload into dst.
func (c *Codec) Decode(data []byte, expectedTag string, dst any) error {
	payload, err := c.Unwrap(data, expectedTag)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return cerrors.Serialization(cerrors.CodePayloadDecode, "failed to unmarshal payload").
			WithDetails(expectedTag).WithCause(err).Build()
	}
	return nil
}
