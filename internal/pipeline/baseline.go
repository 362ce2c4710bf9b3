package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/killianrms/vstore/internal/vserr"
)

// BaselineProvider materializes the latest plaintext version of a path as
// a local file, for the delta-sync commands (get_signature/save_delta) to
// read against. Breaking this out as an interface (§9) keeps
// internal/delta and internal/agent ignorant of whether the baseline came
// from the current/ shadow or had to be reconstructed through Restore.
type BaselineProvider interface {
	// MaterializeLatest returns a path to a temporary file holding the
	// latest plaintext content of relPath, and a cleanup func the caller
	// must invoke when done with it. Returns vserr.ErrNotFound if relPath
	// has no versions or its latest version is a deletion.
	MaterializeLatest(ctx context.Context, relPath string) (path string, cleanup func(), err error)
}

var _ BaselineProvider = (*Pipeline)(nil)

// MaterializeLatest prefers the current/ shadow (already plaintext, no
// restore round-trip needed) and falls back to a full Restore of the
// latest catalog version when the shadow is absent. If that latest version
// is a deletion, there is no baseline and it returns vserr.ErrNotFound.
func (p *Pipeline) MaterializeLatest(ctx context.Context, relPath string) (string, func(), error) {
	if path, cleanup, ok := p.tryCurrentShadow(relPath); ok {
		return path, cleanup, nil
	}

	v, err := p.cat.LatestVersion(ctx, relPath)
	if err != nil {
		if errors.Is(err, vserr.ErrNotFound) {
			return "", nil, fmt.Errorf("pipeline: no baseline for %q: %w", relPath, vserr.ErrNotFound)
		}
		return "", nil, err
	}
	if v.Action == "deleted" {
		return "", nil, fmt.Errorf("pipeline: no baseline for %q: %w", relPath, vserr.ErrNotFound)
	}
	return p.materializeVersion(ctx, v)
}

// tryCurrentShadow copies current/<relPath> out to a temp file so the
// caller gets an independent handle that survives concurrent writes to
// the shadow itself.
func (p *Pipeline) tryCurrentShadow(relPath string) (string, func(), bool) {
	f, err := p.blobs.OpenCurrent(relPath)
	if err != nil {
		return "", nil, false
	}
	defer f.Close()

	tmp, err := tempCopy(f)
	if err != nil {
		return "", nil, false
	}
	return tmp, func() { removeTemp(tmp) }, true
}
