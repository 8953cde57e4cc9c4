// Package serializer implements C2: JSON/MessagePack encode/decode with
// size-triggered compression framing.
package serializer

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"marketdatagw/internal/errs"
	"marketdatagw/internal/models"
)

// CompressedPrefix is the literal framing token written before compressed
// bytes. Kept here rather than importing internal/fingerprint to avoid a
// cross-package dependency for a single shared constant.
const CompressedPrefix = "COMPRESSED::"

// Serializer encodes and decodes arbitrary values. Implementations never
// return partial data on failure — they return a SerializationError instead.
type Serializer interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte, out interface{}) error
	Encoding() models.Encoding
}

// New returns the codec for encodingType ("json" or "msgpack").
func New(encodingType string) (Serializer, error) {
	switch encodingType {
	case "", "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, errs.E(errs.SerializationError, "serializer.New", fmt.Errorf("unknown encoding %q", encodingType))
	}
}

type jsonCodec struct{}

func (jsonCodec) Encoding() models.Encoding { return models.EncodingJSON }

func (jsonCodec) Encode(value interface{}) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, errs.E(errs.SerializationError, "serializer.jsonCodec.Encode", err)
	}
	return b, nil
}

func (jsonCodec) Decode(data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return errs.E(errs.SerializationError, "serializer.jsonCodec.Decode", err)
	}
	return nil
}

type msgpackCodec struct{}

func (msgpackCodec) Encoding() models.Encoding { return models.EncodingMsgPack }

func (msgpackCodec) Encode(value interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(value)
	if err != nil {
		return nil, errs.E(errs.SerializationError, "serializer.msgpackCodec.Encode", err)
	}
	return b, nil
}

func (msgpackCodec) Decode(data []byte, out interface{}) error {
	if err := msgpack.Unmarshal(data, out); err != nil {
		return errs.E(errs.SerializationError, "serializer.msgpackCodec.Decode", err)
	}
	return nil
}

// CompressingSerializer decorates a Serializer, gzip-compressing encoded
// payloads that exceed ThresholdBytes and prefixing them with
// CompressedPrefix. Decode detects the prefix and decompresses
// transparently.
type CompressingSerializer struct {
	Inner         Serializer
	ThresholdBytes int
}

func (c CompressingSerializer) Encoding() models.Encoding { return c.Inner.Encoding() }

// EncodeEntry returns (payload, compressed, error). Compression is applied only
// when the encoded size strictly exceeds ThresholdBytes: exactly at
// threshold is not compressed, one byte larger is.
func (c CompressingSerializer) EncodeEntry(value interface{}) (payload []byte, compressed bool, err error) {
	raw, err := c.Inner.Encode(value)
	if err != nil {
		return nil, false, err
	}
	if len(raw) <= c.ThresholdBytes {
		return raw, false, nil
	}

	var buf bytes.Buffer
	buf.WriteString(CompressedPrefix)
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, false, errs.E(errs.SerializationError, "serializer.CompressingSerializer.Encode", err)
	}
	if err := gw.Close(); err != nil {
		return nil, false, errs.E(errs.SerializationError, "serializer.CompressingSerializer.Encode", err)
	}
	return buf.Bytes(), true, nil
}

// Encode implements Serializer by always routing through EncodeEntry and
// discarding the compressed flag (callers that need it should call
// EncodeEntry directly; this exists so CompressingSerializer satisfies the
// plain Serializer interface too).
func (c CompressingSerializer) Encode(value interface{}) ([]byte, error) {
	b, _, err := c.EncodeEntry(value)
	return b, err
}

// Decode detects the CompressedPrefix, decompresses if present, and decodes
// via the inner codec.
func (c CompressingSerializer) Decode(data []byte, out interface{}) error {
	if bytes.HasPrefix(data, []byte(CompressedPrefix)) {
		rest := data[len(CompressedPrefix):]
		gr, err := gzip.NewReader(bytes.NewReader(rest))
		if err != nil {
			return errs.E(errs.SerializationError, "serializer.CompressingSerializer.Decode", err)
		}
		defer gr.Close()
		raw, err := io.ReadAll(gr)
		if err != nil {
			return errs.E(errs.SerializationError, "serializer.CompressingSerializer.Decode", err)
		}
		return c.Inner.Decode(raw, out)
	}
	return c.Inner.Decode(data, out)
}

// IsCompressed reports whether raw carries the compression framing prefix.
func IsCompressed(raw []byte) bool {
	return strings.HasPrefix(string(raw), CompressedPrefix)
}
