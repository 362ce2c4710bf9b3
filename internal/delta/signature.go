package delta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Impl is the default Signer/Computer/Applier implementation, using a
// fixed block size and the spec's compact rolling hash.
type Impl struct {
	blockSize int
}

var (
	_ Signer   = (*Impl)(nil)
	_ Computer = (*Impl)(nil)
	_ Applier  = (*Impl)(nil)
)

// NewImpl returns an Impl using BlockSize. A zero blockSize defaults to
// BlockSize.
func NewImpl(blockSize int) *Impl {
	if blockSize <= 0 {
		blockSize = BlockSize
	}
	return &Impl{blockSize: blockSize}
}

// weakHash is the compact rolling hash §4.C permits: sum(bytes) mod 2^32.
func weakHash(block []byte) uint32 {
	var sum uint32
	for _, b := range block {
		sum += uint32(b)
	}
	return sum
}

func strongHash(block []byte) string {
	sum := sha256.Sum256(block)
	return hex.EncodeToString(sum[:])
}

// Signature reads baseline sequentially, block by block, and returns the
// per-block weak/strong hashes plus the whole-file hash and size.
func (im *Impl) Signature(ctx context.Context, baseline io.Reader) (*Signature, error) {
	sig := &Signature{BlockSize: im.blockSize}
	fileHash := sha256.New()
	buf := make([]byte, im.blockSize)

	var index int
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(baseline, buf)
		if n > 0 {
			block := buf[:n]
			fileHash.Write(block)
			sig.Blocks = append(sig.Blocks, BlockSignature{
				Index:  index,
				Weak:   weakHash(block),
				Strong: strongHash(block),
				Size:   n,
			})
			index++
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("delta: read baseline: %w", err)
		}
	}

	sig.FileSize = total
	sig.BlockCount = len(sig.Blocks)
	sig.FileHash = hex.EncodeToString(fileHash.Sum(nil))
	return sig, nil
}
