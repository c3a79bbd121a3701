package session

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Idempotency records start with one tag byte naming the encoding of the
// response bytes that follow.
const (
	tagRaw  byte = 0
	tagZstd byte = 1
)

var errEmptyRecord = errors.New("session: empty idempotency record")

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("session: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("session: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeRecord frames body for storage. Bodies longer than threshold are
// zstd-compressed when that makes them smaller; threshold <= 0 disables
// compression.
func encodeRecord(body []byte, threshold int) []byte {
	if threshold > 0 && len(body) > threshold {
		compressed := zstdEncoder.EncodeAll(body, make([]byte, 1, len(body)/2+1))
		if len(compressed)-1 < len(body) {
			compressed[0] = tagZstd
			return compressed
		}
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, tagRaw)
	return append(out, body...)
}

// decodeRecord returns the exact bytes passed to encodeRecord.
func decodeRecord(record []byte) ([]byte, error) {
	if len(record) == 0 {
		return nil, errEmptyRecord
	}
	switch record[0] {
	case tagRaw:
		return record[1:], nil
	case tagZstd:
		body, err := zstdDecoder.DecodeAll(record[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("session: unknown record tag %d", record[0])
	}
}
