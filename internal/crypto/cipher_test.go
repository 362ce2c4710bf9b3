package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptBlobRoundTrip(t *testing.T) {
	key, err := GenerateMasterKey()
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	sealed, err := EncryptBlob(plaintext, key)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	recovered, err := DecryptBlob(sealed, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, recovered)
}

func TestEncryptBlobUsesFreshNonce(t *testing.T) {
	key, err := GenerateMasterKey()
	require.NoError(t, err)

	a, err := EncryptBlob([]byte("same plaintext"), key)
	require.NoError(t, err)
	b, err := EncryptBlob([]byte("same plaintext"), key)
	require.NoError(t, err)

	require.NotEqual(t, a, b, "two seals of identical plaintext must differ (fresh nonce)")
}

func TestDecryptBlobRejectsWrongKey(t *testing.T) {
	key1, err := GenerateMasterKey()
	require.NoError(t, err)
	key2, err := GenerateMasterKey()
	require.NoError(t, err)

	sealed, err := EncryptBlob([]byte("secret"), key1)
	require.NoError(t, err)

	_, err = DecryptBlob(sealed, key2)
	require.Error(t, err)
}

func TestDecryptBlobRejectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateMasterKey()
	require.NoError(t, err)

	sealed, err := EncryptBlob([]byte("secret data"), key)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = DecryptBlob(sealed, key)
	require.Error(t, err)
}

func TestDecryptBlobRejectsShortBuffer(t *testing.T) {
	key, err := GenerateMasterKey()
	require.NoError(t, err)

	_, err = DecryptBlob([]byte("short"), key)
	require.Error(t, err)
}
