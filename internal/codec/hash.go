package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// chunkSize is the buffer size HashStream reads with, so hashing a stream
// never materializes the whole stream in memory.
const chunkSize = 4096

// HashStream computes the SHA-256 digest of r, reading in fixed-size chunks.
func HashStream(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the SHA-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
