package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"obsidion/internal/domain"
)

// deflate zlib-compresses data.
func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("deflating params: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflating params: %w", err)
	}
	return buf.Bytes(), nil
}

// inflate decompresses a zlib stream. An invalid zlib header is reported as
// errNotCompressed so callers can take the legacy uncompressed path; any
// other failure, including input too short to hold a header, is fatal.
func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		if err == zlib.ErrHeader {
			return nil, errNotCompressed
		}
		return nil, fmt.Errorf("%w: inflating params: %v", domain.ErrCrypto, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: inflating params: %v", domain.ErrCrypto, err)
	}
	return out, nil
}
