package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/killianrms/vstore/internal/catalog"
	"github.com/killianrms/vstore/internal/codec"
	"github.com/killianrms/vstore/internal/vserr"
)

// SaveVersion implements §4.F. sourcePath is a temporary file holding the
// candidate new content; relPath must already have passed
// store.ValidatePath. Returns the inserted version, or nil if the save
// was a no-change no-op.
func (p *Pipeline) SaveVersion(ctx context.Context, relPath, sourcePath string) (*catalog.FileVersion, error) {
	plaintext, err := readAllFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read source: %w", err)
	}
	newHash := codec.HashBytes(plaintext)
	newSize := int64(len(plaintext))

	if unchanged, err := p.currentMatches(relPath, newHash); err != nil {
		return nil, err
	} else if unchanged {
		return nil, nil
	}

	timestamp := p.ts.Next()

	existing, err := p.cat.VersionsForPath(ctx, relPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list existing versions: %w", err)
	}
	action := catalog.ActionModified
	if len(existing) == 0 {
		action = catalog.ActionCreated
	}

	v := &catalog.FileVersion{
		Path:          relPath,
		Timestamp:     timestamp,
		Action:        action,
		PlaintextSize: newSize,
		PlaintextHash: newHash,
		CreatedAt:     time.Now().UTC(),
	}

	if p.flags.Dedup {
		if err := p.saveDeduped(ctx, v, plaintext); err != nil {
			return nil, err
		}
	} else {
		if err := p.saveDirect(ctx, v, plaintext, timestamp, relPath); err != nil {
			return nil, err
		}
	}

	if err := p.cat.WithTx(ctx, func(tx *sql.Tx) error {
		return catalog.InsertVersion(ctx, tx, v)
	}); err != nil {
		return nil, err
	}

	if err := p.blobs.WriteCurrent(ctx, relPath, bytes.NewReader(plaintext)); err != nil {
		return nil, fmt.Errorf("pipeline: update current shadow: %w", err)
	}

	return v, nil
}

// currentMatches implements the no-change fast path: if current/<path>
// exists and its hash equals newHash, the save is a no-op success.
func (p *Pipeline) currentMatches(relPath, newHash string) (bool, error) {
	f, err := p.blobs.OpenCurrent(relPath)
	if err != nil {
		return false, nil // missing shadow: not a match, proceed with save
	}
	defer f.Close()
	existingHash, err := codec.HashStream(f)
	if err != nil {
		return false, fmt.Errorf("pipeline: hash current shadow: %w", err)
	}
	return existingHash == newHash, nil
}

// saveDeduped implements step 4 of §4.F: dedup hit increments ref_count
// and reuses the existing blob; a miss runs compress→encrypt→persist into
// the content-addressed path and inserts a fresh dedup record.
func (p *Pipeline) saveDeduped(ctx context.Context, v *catalog.FileVersion, plaintext []byte) error {
	existing, err := p.cat.DedupLookup(ctx, v.PlaintextHash)
	switch {
	case err == nil:
		p.metrics.RecordDedupLookup(true)
		v.DedupRef = v.PlaintextHash
		v.Compressed = existing.Compressed
		v.Encrypted = existing.Encrypted
		v.EncryptionAlgorithm = existing.EncryptionAlgorithm
		return p.cat.WithTx(ctx, func(tx *sql.Tx) error {
			return catalog.IncrementDedupRef(ctx, tx, v.PlaintextHash)
		})
	case !errors.Is(err, vserr.ErrNotFound):
		return fmt.Errorf("pipeline: dedup lookup: %w", err)
	}
	p.metrics.RecordDedupLookup(false)

	stored, compressed, encrypted, _, perr := p.runForwardPipeline(plaintext)
	if perr != nil {
		return perr
	}

	finalPath := p.layout.DedupBlobPath(v.PlaintextHash, compressed, encrypted)
	written, werr := p.blobs.WriteBlob(ctx, finalPath, v.PlaintextHash, bytes.NewReader(stored))
	if werr != nil {
		return fmt.Errorf("pipeline: write dedup blob: %w", werr)
	}

	v.DedupRef = v.PlaintextHash
	v.Compressed = compressed
	v.Encrypted = encrypted
	if encrypted {
		v.EncryptionAlgorithm = "AES-256-GCM"
	}

	dedupRecord := &catalog.DedupObject{
		Hash:                v.PlaintextHash,
		BlobPath:            finalPath,
		OriginalSize:        v.PlaintextSize,
		StoredSize:          written,
		Compressed:          compressed,
		Encrypted:           encrypted,
		EncryptionAlgorithm: v.EncryptionAlgorithm,
		RefCount:            1,
		CreatedAt:           time.Now().UTC(),
	}
	// Failure semantics (§4.F): write blob, fsync (done by WriteBlob),
	// then commit catalog — never the reverse.
	return p.cat.WithTx(ctx, func(tx *sql.Tx) error {
		return catalog.InsertDedup(ctx, tx, dedupRecord)
	})
}

// saveDirect implements step 5: dedup disabled, run the same pipeline
// into versions/<timestamp>/....
func (p *Pipeline) saveDirect(ctx context.Context, v *catalog.FileVersion, plaintext []byte, timestamp, relPath string) error {
	stored, compressed, encrypted, _, perr := p.runForwardPipeline(plaintext)
	if perr != nil {
		return perr
	}

	finalPath := p.layout.VersionBlobPath(timestamp, relPath, compressed, encrypted)
	if _, err := p.blobs.WriteBlob(ctx, finalPath, relPath, bytes.NewReader(stored)); err != nil {
		return fmt.Errorf("pipeline: write version blob: %w", err)
	}

	v.BlobPath = finalPath
	v.Compressed = compressed
	v.Encrypted = encrypted
	if encrypted {
		v.EncryptionAlgorithm = "AES-256-GCM"
	}
	return nil
}

// DeleteFile implements §4.F's delete: archive a final pre-deletion
// version, then remove the shadow. A delete against a non-existent path
// is a no-op success.
func (p *Pipeline) DeleteFile(ctx context.Context, relPath string) error {
	exists, err := p.blobs.Exists(p.layout.CurrentPath(relPath))
	if err != nil {
		return fmt.Errorf("pipeline: check current shadow: %w", err)
	}
	if !exists {
		return nil
	}

	f, err := p.blobs.OpenCurrent(relPath)
	if err != nil {
		return fmt.Errorf("pipeline: open current shadow: %w", err)
	}
	plaintext, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("pipeline: read current shadow: %w", err)
	}

	timestamp := p.ts.Next()
	v := &catalog.FileVersion{
		Path:          relPath,
		Timestamp:     timestamp,
		Action:        catalog.ActionDeleted,
		PlaintextSize: int64(len(plaintext)),
		PlaintextHash: codec.HashBytes(plaintext),
		CreatedAt:     time.Now().UTC(),
	}

	if p.flags.Dedup {
		if err := p.saveDeduped(ctx, v, plaintext); err != nil {
			return err
		}
	} else {
		if err := p.saveDirect(ctx, v, plaintext, timestamp, relPath); err != nil {
			return err
		}
	}

	if err := p.cat.WithTx(ctx, func(tx *sql.Tx) error {
		return catalog.InsertVersion(ctx, tx, v)
	}); err != nil {
		return err
	}

	return p.blobs.RemoveCurrent(relPath)
}
