package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// CompressPayload gzips data when it is large enough to be worth the CPU.
// It returns the (possibly unchanged) bytes and the compression marker to
// carry in the Data payload. Payloads below CompressionThreshold, and
// payloads that gzip fails to shrink, pass through unchanged.
func CompressPayload(data []byte) ([]byte, uint8) {
	if len(data) < CompressionThreshold {
		return data, CompressionNone
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return data, CompressionNone
	}
	if err := zw.Close(); err != nil {
		return data, CompressionNone
	}

	if buf.Len() >= len(data) {
		return data, CompressionNone
	}
	return buf.Bytes(), CompressionGzip
}

// DecompressPayload reverses CompressPayload according to the marker.
func DecompressPayload(data []byte, compression uint8) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: bad gzip payload: %v", ErrInvalidFrame, err)
		}
		defer zr.Close()

		out, err := io.ReadAll(io.LimitReader(zr, MaxPayloadSize+1))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip decompress: %v", ErrInvalidFrame, err)
		}
		if len(out) > MaxPayloadSize {
			return nil, ErrFrameTooLarge
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidFrame, compression)
	}
}
