package codec

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// CompressionLevel matches the predecessor's choice: a balance of ratio and
// throughput rather than maximum compression.
const CompressionLevel = 6

// Compress writes gzip(r) to w at CompressionLevel. On any failure the
// caller is expected to fall back to Identity and record compressed=false;
// Compress itself never falls back, it only reports the error.
func Compress(w io.Writer, r io.Reader) error {
	gz, err := gzip.NewWriterLevel(w, CompressionLevel)
	if err != nil {
		return err
	}
	if _, err := io.Copy(gz, r); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// Decompress writes the inflated contents of r (a gzip stream) to w. It
// fails loudly: a corrupt or truncated stream is always an error, never a
// silent partial result.
func Decompress(w io.Writer, r io.Reader) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()
	_, err = io.Copy(w, gz)
	return err
}

// Identity copies r to w unmodified. Used as the fallback path when
// Compress fails.
func Identity(w io.Writer, r io.Reader) error {
	_, err := io.Copy(w, r)
	return err
}
