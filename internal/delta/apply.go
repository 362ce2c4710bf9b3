package delta

import (
	"context"
	"fmt"
	"io"
)

// Apply replays d's operations in order against baseline, writing the
// reconstructed target to w. OpCopy reads the referenced block from the
// baseline; OpLiteral writes its bytes directly.
func (im *Impl) Apply(ctx context.Context, baseline io.ReaderAt, d *Delta, w io.Writer) error {
	buf := make([]byte, im.blockSize)
	for _, op := range d.Ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch op.Type {
		case OpCopy:
			offset := int64(op.BlockNum) * int64(im.blockSize)
			n, err := baseline.ReadAt(buf, offset)
			if err != nil && err != io.EOF {
				return fmt.Errorf("delta: read baseline block %d: %w", op.BlockNum, err)
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("delta: write copy op: %w", err)
			}
		case OpLiteral:
			if _, err := w.Write(op.Data); err != nil {
				return fmt.Errorf("delta: write literal op: %w", err)
			}
		default:
			return fmt.Errorf("delta: unknown op type %q", op.Type)
		}
	}
	return nil
}
