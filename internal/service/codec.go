package service

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
)

// Codec converts cache values to and from the bytes kept in the disk cache.
type Codec[V any] interface {
	Encode(value V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// BlobCodec stores byte slices as they are.
type BlobCodec struct{}

// Encode implements Codec.
func (BlobCodec) Encode(value []byte) ([]byte, error) {
	return value, nil
}

// Decode implements Codec.
func (BlobCodec) Decode(data []byte) ([]byte, error) {
	return data, nil
}

// StringCodec stores strings as their UTF-8 bytes.
type StringCodec struct{}

// Encode implements Codec.
func (StringCodec) Encode(value string) ([]byte, error) {
	return []byte(value), nil
}

// Decode implements Codec.
func (StringCodec) Decode(data []byte) (string, error) {
	return string(data), nil
}

// MsgpackCodec encodes arbitrary values with MessagePack.
type MsgpackCodec[V any] struct{}

// Encode implements Codec.
func (MsgpackCodec[V]) Encode(value V) ([]byte, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidationFailed, "failed to encode value", err).
			WithComponent("codec")
	}
	return data, nil
}

// Decode implements Codec.
func (MsgpackCodec[V]) Decode(data []byte) (V, error) {
	var v V
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return v, errors.Wrap(errors.ErrCodeDiskCacheCorrupt, "failed to decode value", err).
			WithComponent("codec")
	}
	return v, nil
}
