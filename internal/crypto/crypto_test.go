package crypto

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	var sealed bytes.Buffer
	w, err := Encrypt(&sealed, identity.Recipient())
	require.NoError(t, err)
	_, err = w.Write([]byte("dump bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.NotContains(t, sealed.String(), "dump bytes")

	r, err := Decrypt(&sealed, identity)
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "dump bytes", string(plain))
}

func TestDecryptWrongIdentity(t *testing.T) {
	owner, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	var sealed bytes.Buffer
	w, err := Encrypt(&sealed, owner.Recipient())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = Decrypt(&sealed, other)
	assert.ErrorContains(t, err, "age decryption failed")
}

func TestBLAKE3File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.tgz")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	h := NewHasher()
	_, _ = h.Write([]byte("hello"))
	want := Sum(h)

	got, err := BLAKE3File(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, got, 64)

	require.NoError(t, VerifyFile(path, want))
	assert.ErrorContains(t, VerifyFile(path, "00"), "BLAKE3 mismatch")
}
