package crypto

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/killianrms/vstore/internal/vserr"
)

func TestRawEnvelopeInitAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")

	env, err := InitRaw(path)
	require.NoError(t, err)
	require.Len(t, env.MasterKey(), KeySize)

	loaded, err := Load(path, "")
	require.NoError(t, err)
	require.Equal(t, env.MasterKey(), loaded.MasterKey())
}

func TestWrappedEnvelopeInitAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")

	env, err := InitWrapped(path, "correct horse battery staple")
	require.NoError(t, err)

	loaded, err := Load(path, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, env.MasterKey(), loaded.MasterKey())
}

func TestWrappedEnvelopeBadPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")

	_, err := InitWrapped(path, "right password")
	require.NoError(t, err)

	_, err = Load(path, "wrong password")
	require.Error(t, err)
	require.True(t, errors.Is(err, vserr.ErrBadPassword))
}

func TestEnvelopeRotatePreservesMasterKeyAndDecryptability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")

	env, err := InitWrapped(path, "old password")
	require.NoError(t, err)

	sealed, err := EncryptBlob([]byte("payload sealed before rotation"), env.MasterKey())
	require.NoError(t, err)

	require.NoError(t, env.Rotate(path, "new password"))

	reloaded, err := Load(path, "new password")
	require.NoError(t, err)
	require.Equal(t, env.MasterKey(), reloaded.MasterKey())

	plaintext, err := DecryptBlob(sealed, reloaded.MasterKey())
	require.NoError(t, err)
	require.Equal(t, "payload sealed before rotation", string(plaintext))

	_, err = Load(path, "old password")
	require.True(t, errors.Is(err, vserr.ErrBadPassword))
}
