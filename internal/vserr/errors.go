// Package vserr defines the error taxonomy shared across the version store.
// Components return these sentinels (wrapped with context via fmt.Errorf
// and %w) rather than ad-hoc error strings, so callers can classify a
// failure with errors.Is/errors.As regardless of which layer produced it.
package vserr

import "errors"

var (
	// ErrPathUnsafe is returned when a logical path, after normalization,
	// would resolve outside the backup root. Always checked before any I/O.
	ErrPathUnsafe = errors.New("path escapes backup root")

	// ErrNotFound indicates the logical file or version is absent from the catalog.
	ErrNotFound = errors.New("not found")

	// ErrBlobMissing indicates a catalog entry exists but its blob is gone on disk.
	ErrBlobMissing = errors.New("blob missing")

	// ErrBadPassword indicates key-file unwrap failed authentication.
	ErrBadPassword = errors.New("bad password")

	// ErrCorruptionDetected indicates a restored plaintext's hash did not match
	// its recorded hash.
	ErrCorruptionDetected = errors.New("corruption detected")

	// ErrTransportClosed indicates the peer went away.
	ErrTransportClosed = errors.New("transport closed")

	// ErrProtocolError indicates a malformed frame, unknown command, or
	// oversized frame.
	ErrProtocolError = errors.New("protocol error")

	// ErrCatalogLocked indicates another writer holds the advisory lock.
	ErrCatalogLocked = errors.New("catalog locked")
)
