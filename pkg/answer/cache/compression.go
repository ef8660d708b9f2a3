package cache

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstd frame magic number
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Maximum decompressed size to prevent decompression bombs
const maxDecompressedSize = 16 * 1024 * 1024

// Codec compresses payloads above a size threshold
type Codec struct {
	encoder      *zstd.Encoder
	decoder      *zstd.Decoder
	minSizeBytes int
}

// NewCodec creates a zstd codec. Payloads shorter than minSizeBytes are
// stored as-is.
func NewCodec(minSizeBytes int) (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder, minSizeBytes: minSizeBytes}, nil
}

// Encode returns the stored representation of data, whether it was
// compressed, and the compressed/original size ratio (1 when not compressed).
func (c *Codec) Encode(data []byte) ([]byte, bool, float64) {
	if len(data) < c.minSizeBytes || len(data) == 0 {
		return data, false, 1
	}
	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	// Return original if compression didn't help
	if len(compressed) >= len(data) {
		return data, false, 1
	}
	return compressed, true, float64(len(compressed)) / float64(len(data))
}

// Decode reverses Encode for a compressed payload
func (c *Codec) Decode(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return nil, fmt.Errorf("%w: missing zstd frame header", ErrDecompressionFailed)
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	return out, nil
}

// Close releases encoder and decoder resources
func (c *Codec) Close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}
