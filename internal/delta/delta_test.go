package delta

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignatureComputeApplyRoundTrip(t *testing.T) {
	ctx := context.Background()
	im := NewImpl(BlockSize)

	baseline := bytes.Repeat([]byte("A"), BlockSize*3)
	sig, err := im.Signature(ctx, bytes.NewReader(baseline))
	require.NoError(t, err)
	require.Equal(t, 3, sig.BlockCount)
	require.Equal(t, int64(len(baseline)), sig.FileSize)

	// Target: first block unchanged, second block changed, third unchanged,
	// plus a short trailing literal.
	target := append([]byte{}, baseline...)
	copy(target[BlockSize:BlockSize+4], []byte("ZZZZ"))
	target = append(target, []byte("trailing bytes")...)

	d, err := im.Compute(ctx, bytes.NewReader(target), sig)
	require.NoError(t, err)
	require.NotEmpty(t, d.Ops)

	var out bytes.Buffer
	require.NoError(t, im.Apply(ctx, bytes.NewReader(baseline), d, &out))
	require.Equal(t, target, out.Bytes())
}

func TestComputeIdenticalFileIsAllCopyOps(t *testing.T) {
	ctx := context.Background()
	im := NewImpl(BlockSize)

	data := bytes.Repeat([]byte("B"), BlockSize*2)
	sig, err := im.Signature(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	d, err := im.Compute(ctx, bytes.NewReader(data), sig)
	require.NoError(t, err)

	for _, op := range d.Ops {
		require.Equal(t, OpCopy, op.Type)
	}

	var out bytes.Buffer
	require.NoError(t, im.Apply(ctx, bytes.NewReader(data), d, &out))
	require.Equal(t, data, out.Bytes())
}

func TestComputeEntirelyNewFileIsAllLiteral(t *testing.T) {
	ctx := context.Background()
	im := NewImpl(BlockSize)

	sig, err := im.Signature(ctx, bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, 0, sig.BlockCount)

	target := []byte(strings.Repeat("new content ", 500))
	d, err := im.Compute(ctx, bytes.NewReader(target), sig)
	require.NoError(t, err)

	for _, op := range d.Ops {
		require.Equal(t, OpLiteral, op.Type)
	}

	var out bytes.Buffer
	require.NoError(t, im.Apply(ctx, bytes.NewReader(nil), d, &out))
	require.Equal(t, target, out.Bytes())
}

func TestTransferSizeAndAdoptionGate(t *testing.T) {
	allCopy := &Delta{Ops: []Op{{Type: OpCopy, BlockNum: 0}, {Type: OpCopy, BlockNum: 1}}}
	require.Equal(t, int64(16), TransferSize(allCopy))

	literal := &Delta{Ops: []Op{{Type: OpLiteral, Data: make([]byte, 100)}}}
	require.Equal(t, int64(100), TransferSize(literal))

	// Small files never adopt a delta regardless of savings.
	require.False(t, AdoptionGate(4096, 1))
	require.False(t, AdoptionGate(100, 1))

	// Big file, tiny transfer: well over the 10% savings bar.
	require.True(t, AdoptionGate(1<<20, 1024))

	// Big file, transfer nearly as large as the original: under the bar.
	require.False(t, AdoptionGate(1<<20, (1<<20)-1))
}

func TestApplyRejectsUnknownOpType(t *testing.T) {
	ctx := context.Background()
	im := NewImpl(BlockSize)

	d := &Delta{Ops: []Op{{Type: "bogus"}}}
	var out bytes.Buffer
	err := im.Apply(ctx, bytes.NewReader(nil), d, &out)
	require.Error(t, err)
}
