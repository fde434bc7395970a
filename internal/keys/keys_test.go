package keys

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWritesPrivateKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "mrb.key")
	var out bytes.Buffer

	require.NoError(t, Generate(context.Background(), &out, keyPath))

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.NotContains(t, out.String(), "AGE-SECRET-KEY-")

	identity, err := LoadIdentity(keyPath)
	require.NoError(t, err)
	assert.Contains(t, out.String(), identity.Recipient().String())
}

func TestGeneratePrintsPrivateKey(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Generate(context.Background(), &out, ""))
	assert.Contains(t, out.String(), "Private key: AGE-SECRET-KEY-")
}

func TestTest(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "mrb.key")
	require.NoError(t, os.WriteFile(keyPath, []byte(identity.String()+"\n"), 0o600))

	tests := []struct {
		name      string
		publicKey string
		keyPath   string
		wantErr   string
	}{
		{name: "matching", publicKey: identity.Recipient().String(), keyPath: keyPath},
		{name: "mismatch", publicKey: other.Recipient().String(), keyPath: keyPath, wantErr: "decryption failed"},
		{name: "no public key", keyPath: keyPath, wantErr: "no age_public_key"},
		{name: "bad public key", publicKey: "age1nope", keyPath: keyPath, wantErr: "failed to parse public key"},
		{name: "missing private key", publicKey: identity.Recipient().String(), keyPath: filepath.Join(t.TempDir(), "missing"), wantErr: "failed to read private key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := Test(context.Background(), &out, tt.publicKey, tt.keyPath)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(strings.TrimSpace(out.String()), "Content verification successful"))
		})
	}
}
