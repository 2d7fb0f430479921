package cache

import (
	"encoding/base64"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
)

// MaxBlobSize bounds the decoded size of a blob. Index entries claiming
// more are treated as corrupt.
const MaxBlobSize = 16 << 30

// maxPrealloc caps the buffer reserved up front from an index entry's
// original size; larger blobs grow the buffer while decoding.
const maxPrealloc = 64 << 20

// Shared zstd encoder and decoder. Only EncodeAll and DecodeAll are used,
// which are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if zstdEncoder, err = zstd.NewWriter(nil); err != nil {
		panic(err)
	}
	if zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBlobSize)); err != nil {
		panic(err)
	}
}

// EncodeInline renders a small value for storage in the index.
func EncodeInline(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeInline reverses EncodeInline.
func DecodeInline(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Compress returns the zstd encoding of data.
func Compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// Decompress decodes a zstd blob whose decoded length is expected to be
// originalSize.
func Decompress(blob []byte, originalSize int64) ([]byte, error) {
	if originalSize < 0 || originalSize > MaxBlobSize {
		return nil, fmt.Errorf("invalid original size %d", originalSize)
	}
	return zstdDecoder.DecodeAll(blob, make([]byte, 0, min(originalSize, maxPrealloc)))
}

// Checksum is the CRC32 (IEEE) used to verify blobs.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// WriteBlob compresses data into path and returns the checksum of the
// uncompressed bytes.
func WriteBlob(path string, data []byte) (uint32, error) {
	if err := os.WriteFile(path, Compress(data), 0o640); err != nil {
		return 0, errors.Wrap(errors.ErrCodeDiskCacheWrite, "failed to write blob", err).
			WithContext("path", path)
	}
	return Checksum(data), nil
}

// ReadBlob loads the blob at path and verifies it against the recorded
// original size and checksum.
func ReadBlob(path string, originalSize int64, checksum uint32) ([]byte, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiskCacheRead, "failed to read blob", err).
			WithContext("path", path)
	}
	data, err := Decompress(compressed, originalSize)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDiskCacheCorrupt, "failed to decompress blob", err).
			WithContext("path", path)
	}
	if int64(len(data)) != originalSize {
		return nil, errors.NewError(errors.ErrCodeDiskCacheCorrupt,
			fmt.Sprintf("decompressed size %d, expected %d", len(data), originalSize)).
			WithContext("path", path)
	}
	if sum := Checksum(data); sum != checksum {
		return nil, errors.NewError(errors.ErrCodeDiskCacheCorrupt,
			fmt.Sprintf("crc32 %08x, expected %08x", sum, checksum)).
			WithContext("path", path)
	}
	return data, nil
}
