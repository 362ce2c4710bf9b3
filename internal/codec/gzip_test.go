package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"short", "hello\n"},
		{"repetitive", strings.Repeat("abcdefgh", 4096)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var compressed bytes.Buffer
			require.NoError(t, Compress(&compressed, strings.NewReader(tc.in)))

			var out bytes.Buffer
			require.NoError(t, Decompress(&out, bytes.NewReader(compressed.Bytes())))
			require.Equal(t, tc.in, out.String())
		})
	}
}

func TestDecompressRejectsCorruptStream(t *testing.T) {
	var out bytes.Buffer
	err := Decompress(&out, strings.NewReader("not a gzip stream"))
	require.Error(t, err)
}

func TestIdentity(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Identity(&out, strings.NewReader("passthrough")))
	require.Equal(t, "passthrough", out.String())
}
