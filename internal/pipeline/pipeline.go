// Package pipeline orchestrates the version-store write path (hash →
// dedup lookup → compress → encrypt → persist → index) and its inverse,
// the restore path.
package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/killianrms/vstore/internal/catalog"
	"github.com/killianrms/vstore/internal/codec"
	"github.com/killianrms/vstore/internal/crypto"
	"github.com/killianrms/vstore/internal/metrics"
	"github.com/killianrms/vstore/internal/store"
)

// Flags select which pipeline stages run. §9: "encode as three
// independent booleans ... no polymorphism required."
type Flags struct {
	Dedup      bool
	Compress   bool
	Encrypt    bool
}

// Pipeline is the write-side (F) and read-side (G) orchestrator, sharing
// one object store, catalog, and envelope.
type Pipeline struct {
	layout   store.Layout
	blobs    *store.BlobStore
	cat      *catalog.Catalog
	envelope *crypto.Envelope
	flags    Flags
	ts       *timestampAllocator
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func New(layout store.Layout, blobs *store.BlobStore, cat *catalog.Catalog, envelope *crypto.Envelope, flags Flags, mx *metrics.Metrics, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		layout:   layout,
		blobs:    blobs,
		cat:      cat,
		envelope: envelope,
		flags:    flags,
		ts:       newTimestampAllocator(),
		metrics:  mx,
		log:      log,
	}
}

// runForwardPipeline applies compress → encrypt (each iff enabled) to
// plaintext and returns the resulting bytes plus the flags that were
// actually applied (compression can fall back to identity, logged at Warn).
func (p *Pipeline) runForwardPipeline(plaintext []byte) (out []byte, compressed bool, encrypted bool, nonce string, err error) {
	out = plaintext

	if p.flags.Compress {
		var buf bytes.Buffer
		if cerr := codec.Compress(&buf, bytes.NewReader(out)); cerr != nil {
			p.log.Warn().Err(cerr).Msg("compression failed, falling back to identity copy")
			compressed = false
		} else {
			out = buf.Bytes()
			compressed = true
		}
	}

	if p.flags.Encrypt {
		sealed, eerr := crypto.EncryptBlob(out, p.envelope.MasterKey())
		if eerr != nil {
			return nil, false, false, "", fmt.Errorf("pipeline: encrypt: %w", eerr)
		}
		out = sealed
		encrypted = true
		nonce = "" // nonce is embedded in the sealed buffer itself (§4.B layout)
	}

	return out, compressed, encrypted, nonce, nil
}

// runInversePipeline applies decrypt → decompress (each iff the flags
// say it was applied on write) and returns the recovered plaintext.
func runInversePipeline(stored []byte, compressed, encrypted bool, masterKey []byte) ([]byte, error) {
	data := stored

	if encrypted {
		plain, err := crypto.DecryptBlob(data, masterKey)
		if err != nil {
			return nil, err
		}
		data = plain
	}

	if compressed {
		var buf bytes.Buffer
		if err := codec.Decompress(&buf, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("pipeline: decompress: %w", err)
		}
		data = buf.Bytes()
	}

	return data, nil
}

// readAllFile reads a whole file into memory. The pipeline buffers whole
// objects because the cipher layer seals one AEAD frame per object
// (§4.B); very large corpora would want a chunked cipher framing instead,
// out of scope for this engine.
func readAllFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
