package vserr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelsWrapAndUnwrap(t *testing.T) {
	cases := []error{
		ErrPathUnsafe,
		ErrNotFound,
		ErrBlobMissing,
		ErrBadPassword,
		ErrCorruptionDetected,
		ErrTransportClosed,
		ErrProtocolError,
		ErrCatalogLocked,
	}

	for _, sentinel := range cases {
		wrapped := fmt.Errorf("context: %w", sentinel)
		require.True(t, errors.Is(wrapped, sentinel))
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	require.False(t, errors.Is(ErrNotFound, ErrBlobMissing))
	require.False(t, errors.Is(ErrBadPassword, ErrCorruptionDetected))
}
