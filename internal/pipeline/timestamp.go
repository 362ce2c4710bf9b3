package pipeline

import (
	"sync"
	"time"

	"github.com/killianrms/vstore/internal/catalog"
)

// timestampAllocator issues version timestamps that are strictly
// monotone even when the system clock's resolution is coarser than the
// microsecond precision §3 requires, or when two saves land in the same
// tick.
type timestampAllocator struct {
	mu   sync.Mutex
	last time.Time
}

func newTimestampAllocator() *timestampAllocator {
	return &timestampAllocator{}
}

// Next returns the next timestamp string, guaranteed strictly greater
// than every previous value this allocator has issued.
func (a *timestampAllocator) Next() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(a.last) {
		now = a.last.Add(time.Microsecond)
	}
	a.last = now
	return catalog.FormatTimestamp(now)
}
