// Package catalog is the durable metadata index: file versions and dedup
// object records, with additive schema migration and an advisory
// cross-process lock on a sidecar file next to the catalog.
package catalog

import (
	"fmt"
	"time"
)

// Action classifies why a FileVersion exists.
type Action string

const (
	ActionCreated  Action = "created"
	ActionModified Action = "modified"
	ActionDeleted  Action = "deleted"
)

// timestampDateLayout is the non-fractional portion of the version
// timestamp format (§6): "YYYY-MM-DD_HH-MM-SS", with microseconds
// appended separately since Go's reference-time layout cannot express a
// hyphen-separated fractional suffix.
const timestampDateLayout = "2006-01-02_15-04-05"

// FormatTimestamp renders t as "YYYY-MM-DD_HH-MM-SS-ffffff", where
// lexicographic order equals chronological order.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%s-%06d", t.UTC().Format(timestampDateLayout), t.Nanosecond()/1000)
}

// ParseTimestamp parses a string produced by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	if len(s) < len(timestampDateLayout)+7 {
		return time.Time{}, fmt.Errorf("catalog: malformed timestamp %q", s)
	}
	datePart := s[:len(timestampDateLayout)]
	microPart := s[len(timestampDateLayout)+1:]
	t, err := time.Parse(timestampDateLayout, datePart)
	if err != nil {
		return time.Time{}, fmt.Errorf("catalog: parse timestamp %q: %w", s, err)
	}
	var micros int
	if _, err := fmt.Sscanf(microPart, "%06d", &micros); err != nil {
		return time.Time{}, fmt.Errorf("catalog: parse timestamp fraction %q: %w", s, err)
	}
	return t.Add(time.Duration(micros) * time.Microsecond), nil
}

// FileVersion is an immutable record of one version of one logical path.
type FileVersion struct {
	Path      string
	Timestamp string
	Action    Action

	PlaintextSize int64
	PlaintextHash string

	// Exactly one of DedupRef or BlobPath is set. BlobPath is relative to
	// the backup root (store.Layout.Abs resolves it), so the root can be
	// relocated without invalidating stored paths.
	DedupRef string
	BlobPath string

	Compressed bool
	Encrypted  bool

	// EncryptionAlgorithm is populated when Encrypted. The pipeline leaves
	// EncryptionNonce empty: the nonce is stored only at the head of the
	// sealed blob itself.
	EncryptionNonce     string
	EncryptionAlgorithm string

	CreatedAt time.Time
}

// DedupObject is the record for one unique plaintext hash in the dedup
// store.
type DedupObject struct {
	Hash string

	// BlobPath is relative to the backup root (store.Layout.Abs).
	BlobPath      string
	OriginalSize  int64
	StoredSize    int64
	Compressed    bool
	Encrypted     bool

	EncryptionNonce     string
	EncryptionAlgorithm string

	RefCount int64

	CreatedAt time.Time
}

// IsDeduped reports whether v points into the dedup store rather than
// carrying a direct blob path.
func (v *FileVersion) IsDeduped() bool {
	return v.DedupRef != ""
}
