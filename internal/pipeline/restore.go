package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/killianrms/vstore/internal/catalog"
	"github.com/killianrms/vstore/internal/codec"
	"github.com/killianrms/vstore/internal/vserr"
)

// Restore implements §4.G: read the version record (following dedup_ref
// if present), decrypt/decompress, write to destPath, and verify the
// recovered bytes hash to the recorded plaintext_hash.
func (p *Pipeline) Restore(ctx context.Context, path, timestamp, destPath string) error {
	v, err := p.cat.GetVersion(ctx, path, timestamp)
	if err != nil {
		return err
	}

	blobPath := v.BlobPath
	compressed := v.Compressed
	encrypted := v.Encrypted

	if v.IsDeduped() {
		d, err := p.cat.DedupLookup(ctx, v.DedupRef)
		if err != nil {
			return err
		}
		blobPath = d.BlobPath
		compressed = d.Compressed
		encrypted = d.Encrypted
	}

	stored, err := os.ReadFile(p.layout.Abs(blobPath))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", vserr.ErrBlobMissing, blobPath)
	}
	if err != nil {
		return fmt.Errorf("pipeline: read blob: %w", err)
	}

	plaintext, err := runInversePipeline(stored, compressed, encrypted, p.envelope.MasterKey())
	if err != nil {
		return err
	}

	gotHash := codec.HashBytes(plaintext)
	if gotHash != v.PlaintextHash {
		_ = os.Remove(destPath)
		return fmt.Errorf("%w: expected %s got %s", vserr.ErrCorruptionDetected, v.PlaintextHash, gotHash)
	}

	if err := os.WriteFile(destPath, plaintext, 0o644); err != nil {
		return fmt.Errorf("pipeline: write destination: %w", err)
	}
	return nil
}

// materializeVersion is the shared implementation behind BaselineProvider
// when the latest version must be reconstructed from the object store
// rather than read from the current/ shadow directly (the shadow file is
// missing).
func (p *Pipeline) materializeVersion(ctx context.Context, v *catalog.FileVersion) (string, func(), error) {
	tmp, err := os.CreateTemp("", "baseline-*")
	if err != nil {
		return "", nil, fmt.Errorf("pipeline: create baseline temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := p.Restore(ctx, v.Path, v.Timestamp, tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", nil, err
	}
	return tmpPath, func() { os.Remove(tmpPath) }, nil
}
