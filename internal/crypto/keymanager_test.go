package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	keyHex := strings.TrimPrefix(testPrivateKey, "0x")

	blob, err := EncryptKey(keyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	require.Equal(t, keyHex, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(strings.TrimPrefix(testPrivateKey, "0x"), "correct")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}

func TestEncryptKeyValidation(t *testing.T) {
	_, err := EncryptKey(strings.TrimPrefix(testPrivateKey, "0x"), "")
	require.Error(t, err)

	_, err = EncryptKey("deadbeef", "pw")
	require.Error(t, err)

	_, err = EncryptKey("not-hex", "pw")
	require.Error(t, err)
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: testPrivateKey})
	require.NoError(t, err)
	require.Equal(t, strings.TrimPrefix(testPrivateKey, "0x"), got)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "zz"})
	require.Error(t, err)
}

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	keyHex := strings.TrimPrefix(testPrivateKey, "0x")
	blob, err := EncryptKey(keyHex, "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "operator.key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	require.Equal(t, keyHex, got)
}

func TestLoadKeyNoSource(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	require.Error(t, err)
}
