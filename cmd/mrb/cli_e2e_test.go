//go:build e2e

package main

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mrbBinary string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "mrb-e2e-*")
	if err != nil {
		panic(err)
	}
	mrbBinary = filepath.Join(dir, "mrb")
	if out, err := exec.Command("go", "build", "-o", mrbBinary, ".").CombinedOutput(); err != nil {
		panic("failed to build mrb: " + string(out))
	}

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func runMrb(t *testing.T, args ...string) (string, int) {
	t.Helper()
	out, err := exec.Command(mrbBinary, args...).CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode()
	}
	require.NoError(t, err)
	return string(out), 0
}

func extractKey(output, label string) string {
	for _, line := range strings.Split(output, "\n") {
		if v, ok := strings.CutPrefix(line, label); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func TestGenkeyCommand(t *testing.T) {
	out, code := runMrb(t, "genkey")
	require.Equal(t, 0, code, out)

	publicKey := extractKey(out, "Public key:")
	privateKey := extractKey(out, "Private key:")
	assert.True(t, strings.HasPrefix(publicKey, "age1"))
	assert.True(t, strings.HasPrefix(privateKey, "AGE-SECRET-KEY-"))
	// age1 + 58 chars, AGE-SECRET-KEY-1 + 58 chars
	assert.Len(t, publicKey, 62)
	assert.Len(t, privateKey, 74)
	assert.Contains(t, out, "Keep your private key secure")

	again, _ := runMrb(t, "genkey")
	assert.NotEqual(t, publicKey, extractKey(again, "Public key:"))
}

func TestGenkeyThenTestKeys(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "mrb.key")
	out, code := runMrb(t, "genkey", "--output", keyPath)
	require.Equal(t, 0, code, out)

	out, code = runMrb(t, "test-keys", "--age-public-key", extractKey(out, "Public key:"), "--private-key", keyPath)
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "Content verification successful")
}

func TestHelpExitsNonZero(t *testing.T) {
	for _, flag := range []string{"-h", "--help"} {
		out, code := runMrb(t, flag)
		assert.Equal(t, 1, code)
		assert.Contains(t, out, "--prefer-secondary")
	}
}

func TestInvalidConfigurationExitsBeforeSideEffects(t *testing.T) {
	backupDir := t.TempDir()

	tests := [][]string{
		{"-B", backupDir, "-b", "bkt", "-w", "8"},
		{"-B", backupDir, "-b", "bkt", "-m", "32"},
		{"-B", backupDir},
		{"--no-such-flag"},
	}
	for _, args := range tests {
		out, code := runMrb(t, args...)
		assert.Equal(t, 1, code, out)
		assert.Contains(t, out, "mrb failed")
		assert.NotContains(t, out, "interrupted")
	}

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDryRunNarratesEveryStep(t *testing.T) {
	backupDir := t.TempDir()

	out, code := runMrb(t, "-B", backupDir, "-b", "bkt", "-d", "mongo", "-n", "shop",
		"-u", "backup", "-p", "s3cret", "-r", "-w", "0", "-m", "0", "-D")
	require.Equal(t, 0, code, out)

	assert.Contains(t, out, "[dry-run] mongodump --host localhost --port 27017 --username backup --password REDACTED --out ")
	assert.Contains(t, out, "s3://bkt/mongo/daily/shop_")
	assert.Contains(t, out, "to s3://bkt/mongo/latest/shop_")
	assert.Contains(t, out, "delete objects under s3://bkt/mongo/latest/")
	assert.NotContains(t, out, "s3cret")

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
