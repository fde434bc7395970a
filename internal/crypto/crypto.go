package crypto

import (
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"

	"filippo.io/age"
	"github.com/zeebo/blake3"
)

// Encrypt wraps w so that everything written is age-encrypted to
// recipient. Close must be called to flush the final chunk; it does not
// close w.
func Encrypt(w io.Writer, recipient age.Recipient) (io.WriteCloser, error) {
	ew, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, fmt.Errorf("age encryption failed: %w", err)
	}
	return ew, nil
}

func Decrypt(r io.Reader, identity age.Identity) (io.Reader, error) {
	dr, err := age.Decrypt(r, identity)
	if err != nil {
		return nil, fmt.Errorf("age decryption failed: %w", err)
	}
	return dr, nil
}

// NewHasher returns a BLAKE3 hash to tee an upload stream through.
func NewHasher() hash.Hash {
	return blake3.New()
}

func Sum(h hash.Hash) string {
	return fmt.Sprintf("%x", h.Sum(nil))
}

// BLAKE3File computes the BLAKE3 hash of a file
func BLAKE3File(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}

	return Sum(hasher), nil
}

// VerifyFile checks a downloaded file against the hash recorded at upload.
func VerifyFile(filename, expectedBlake3 string) error {
	actual, err := BLAKE3File(filename)
	if err != nil {
		return fmt.Errorf("failed to calculate BLAKE3: %w", err)
	}
	if actual != expectedBlake3 {
		return fmt.Errorf("BLAKE3 mismatch: expected %s, got %s", expectedBlake3, actual)
	}
	slog.Info("BLAKE3 verified", "hash", actual)
	return nil
}
