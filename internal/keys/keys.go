package keys

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"filippo.io/age"

	"mrb/internal/crypto"
)

// Generate creates an age key pair. When privateKeyPath is set the private
// key is written there with owner-only permissions instead of being printed.
func Generate(_ context.Context, w io.Writer, privateKeyPath string) error {
	fmt.Fprintln(w, "Generating age public and private key pair...")

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}

	publicKey := identity.Recipient().String()
	privateKey := identity.String()

	fmt.Fprintln(w, "\n=== Age Key Pair Generated ===")
	fmt.Fprintf(w, "Public key:  %s\n", publicKey)
	if privateKeyPath != "" {
		if err := os.WriteFile(privateKeyPath, []byte(privateKey+"\n"), 0o600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		fmt.Fprintf(w, "Private key written to: %s\n", privateKeyPath)
	} else {
		fmt.Fprintf(w, "Private key: %s\n", privateKey)
	}
	fmt.Fprintln(w, "\n!! Keep your private key secure !!")

	return nil
}

func LoadIdentity(privateKeyPath string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return identity, nil
}

// Test checks that the private key at privateKeyPath decrypts data
// encrypted for publicKey.
func Test(_ context.Context, w io.Writer, publicKey, privateKeyPath string) error {
	fmt.Fprintln(w, "Testing age key pair compatibility...")

	if publicKey == "" {
		return fmt.Errorf("no age_public_key configured")
	}
	recipient, err := age.ParseX25519Recipient(publicKey)
	if err != nil {
		return fmt.Errorf("failed to parse public key from config: %w", err)
	}
	fmt.Fprintf(w, "Public key from config: %s\n", publicKey)

	identity, err := LoadIdentity(privateKeyPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Private key loaded from: %s\n", privateKeyPath)

	testContent := "Mongo Remote Backup - Key Pair Test - " + time.Now().Format(time.RFC3339)

	fmt.Fprintln(w, "\nEncrypting test data with public key...")
	var sealed bytes.Buffer
	enc, err := crypto.Encrypt(&sealed, recipient)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	if _, err := io.WriteString(enc, testContent); err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	fmt.Fprintln(w, "Encryption successful")

	fmt.Fprintln(w, "Decrypting test data with private key...")
	dec, err := crypto.Decrypt(&sealed, identity)
	if err != nil {
		return fmt.Errorf("decryption failed: %w\nThis means the private key does not match the public key in config", err)
	}
	decrypted, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("decryption failed: %w", err)
	}
	fmt.Fprintln(w, "Decryption successful")

	if string(decrypted) != testContent {
		return fmt.Errorf("content mismatch: decrypted content does not match original")
	}
	fmt.Fprintln(w, "Content verification successful")

	return nil
}
