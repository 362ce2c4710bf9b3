package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/killianrms/vstore/internal/vserr"
)

// PBKDF2Iterations is the iteration count for deriving the wrapping key
// (KEK) from a password. §4.B mandates 100,000 PBKDF2-HMAC-SHA-256 rounds.
const PBKDF2Iterations = 100_000

// SaltSize is the size, in bytes, of the PBKDF2 salt.
const SaltSize = 16

// keyFileVersion is the on-disk format tag (§6 "Key file").
const keyFileVersion = "3.0"

// Mode selects whether the key file stores a raw master key or one wrapped
// under a password-derived key.
type Mode string

const (
	ModeRaw     Mode = "raw"
	ModeWrapped Mode = "wrapped"
)

// keyFile is the exact on-disk JSON shape described in §6: "single record:
// {version, algorithm, mode, salt, nonce, key}".
type keyFile struct {
	Version   string `json:"version"`
	Algorithm string `json:"algorithm"`
	Mode      Mode   `json:"mode"`
	Salt      string `json:"salt,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Key       string `json:"key"`
}

// Envelope is a loaded key file together with its master key handle. The
// master key is never returned to the caller directly; it is threaded
// through pipeline/restore as the capability this type represents (§9:
// "model it as an explicit capability handle ... not a singleton").
type Envelope struct {
	masterKey []byte
}

// MasterKey exposes the 256-bit master key for use by EncryptBlob/DecryptBlob.
func (e *Envelope) MasterKey() []byte {
	return e.masterKey
}

// deriveKEK derives a key-encrypting-key from password and salt.
func deriveKEK(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// InitRaw creates a new key file with an unwrapped master key (no-password
// mode) and writes it to path with owner-only permissions.
func InitRaw(path string) (*Envelope, error) {
	masterKey, err := GenerateMasterKey()
	if err != nil {
		return nil, err
	}
	kf := keyFile{
		Version:   keyFileVersion,
		Algorithm: Algorithm,
		Mode:      ModeRaw,
		Key:       base64.StdEncoding.EncodeToString(masterKey),
	}
	if err := writeKeyFile(path, &kf); err != nil {
		return nil, err
	}
	return &Envelope{masterKey: masterKey}, nil
}

// InitWrapped creates a new key file whose master key is wrapped under
// password, and writes it to path.
func InitWrapped(path, password string) (*Envelope, error) {
	masterKey, err := GenerateMasterKey()
	if err != nil {
		return nil, err
	}
	kf, err := wrap(masterKey, password)
	if err != nil {
		return nil, err
	}
	if err := writeKeyFile(path, kf); err != nil {
		return nil, err
	}
	return &Envelope{masterKey: masterKey}, nil
}

// wrap builds a keyFile record that wraps masterKey under password with a
// fresh salt and nonce.
func wrap(masterKey []byte, password string) (*keyFile, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	kek := deriveKEK(password, salt)
	sealed, err := EncryptBlob(masterKey, kek)
	if err != nil {
		return nil, err
	}
	// sealed is nonce‖ciphertext_and_tag; the key file stores the nonce
	// separately per §6's shape, so split it back out.
	nonce, wrapped := sealed[:NonceSize], sealed[NonceSize:]
	return &keyFile{
		Version:   keyFileVersion,
		Algorithm: Algorithm,
		Mode:      ModeWrapped,
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
		Key:       base64.StdEncoding.EncodeToString(wrapped),
	}, nil
}

// Load reads the key file at path and, if it is in wrapped mode, unwraps
// the master key using password (ignored in raw mode). An incorrect
// password in wrapped mode surfaces as vserr.ErrBadPassword.
func Load(path, password string) (*Envelope, error) {
	kf, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}

	switch kf.Mode {
	case ModeRaw:
		masterKey, err := base64.StdEncoding.DecodeString(kf.Key)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode key: %w", err)
		}
		return &Envelope{masterKey: masterKey}, nil

	case ModeWrapped:
		masterKey, err := unwrap(kf, password)
		if err != nil {
			return nil, err
		}
		return &Envelope{masterKey: masterKey}, nil

	default:
		return nil, fmt.Errorf("crypto: unknown key file mode %q", kf.Mode)
	}
}

func unwrap(kf *keyFile, password string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode nonce: %w", err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(kf.Key)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode wrapped key: %w", err)
	}

	kek := deriveKEK(password, salt)
	sealed := append(append([]byte{}, nonce...), wrapped...)
	masterKey, err := DecryptBlob(sealed, kek)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vserr.ErrBadPassword, err)
	}
	return masterKey, nil
}

// Rotate rewraps the current master key under newPassword with a fresh
// salt and nonce, and writes the result to path. No stored ciphertext
// produced by EncryptBlob is touched: rotation only ever rewrites the key
// file, so §4.B's invariant (any ciphertext remains decryptable under the
// current password after any number of rotations) holds by construction.
func (e *Envelope) Rotate(path, newPassword string) error {
	kf, err := wrap(e.masterKey, newPassword)
	if err != nil {
		return err
	}
	return writeKeyFile(path, kf)
}

func readKeyFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Key == "" {
		return nil, errors.New("crypto: key file missing key material")
	}
	return &kf, nil
}

func writeKeyFile(path string, kf *keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("crypto: encode key file: %w", err)
	}
	// Owner-only permissions, per §6 "On-disk permissions must be
	// restricted to the owner."
	return os.WriteFile(path, data, 0o600)
}
