package delta

import (
	"context"
	"fmt"
	"io"
)

// blockKey uniquely identifies a block by its (weak, strong) hash pair.
// Using both avoids false matches from weak-hash collisions while still
// letting the weak hash do the cheap first-pass filtering a real rolling
// hash would.
type blockKey struct {
	weak   uint32
	strong string
}

// Compute scans target block-aligned, matching each full block against
// sig's index. Matched blocks become OpCopy; everything else coalesces
// into a trailing OpLiteral. The final, possibly short, block is always
// literal per §4.C.
func (im *Impl) Compute(ctx context.Context, target io.Reader, sig *Signature) (*Delta, error) {
	index := make(map[blockKey]int, len(sig.Blocks))
	for _, b := range sig.Blocks {
		key := blockKey{weak: b.Weak, strong: b.Strong}
		// Tie-break: first matching block in index order. Since sig.Blocks
		// is already in index order, only record the first occurrence.
		if _, exists := index[key]; !exists {
			index[key] = b.Index
		}
	}

	var (
		ops          []Op
		literal      []byte
		literalStart int64
		position     int64
	)
	buf := make([]byte, im.blockSize)

	flush := func() {
		if len(literal) > 0 {
			ops = append(ops, Op{Type: OpLiteral, Position: literalStart, Data: literal})
			literal = nil
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(target, buf)
		if n > 0 {
			block := buf[:n]
			full := n == im.blockSize
			matched := false
			if full {
				key := blockKey{weak: weakHash(block), strong: strongHash(block)}
				if idx, ok := index[key]; ok {
					flush()
					ops = append(ops, Op{Type: OpCopy, Position: position, BlockNum: idx})
					position += int64(n)
					matched = true
				}
			}
			if !matched {
				if len(literal) == 0 {
					literalStart = position
				}
				literal = append(literal, block...)
				position += int64(n)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("delta: read target: %w", err)
		}
	}
	flush()

	return &Delta{Ops: ops}, nil
}
