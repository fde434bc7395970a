package util

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout renders as YYYY-MM-DD_HHhMMm.
const TimestampLayout = "2006-01-02_15h04m"

const (
	ArchiveExt   = ".tgz"
	EncryptedExt = ".age"
	ManifestExt  = ".manifest.yaml"
)

const (
	SlotDaily   = "daily"
	SlotWeekly  = "weekly"
	SlotMonthly = "monthly"
	SlotLatest  = "latest"
)

var Slots = []string{SlotDaily, SlotWeekly, SlotMonthly, SlotLatest}

func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func ArchiveName(basename string, t time.Time, encrypted bool) string {
	name := Timestamp(t) + ArchiveExt
	if basename != "" {
		name = basename + "_" + name
	}
	if encrypted {
		name += EncryptedExt
	}
	return name
}

// ArchiveMatcher matches archive names produced by ArchiveName for basename,
// encrypted or not, and nothing else.
func ArchiveMatcher(basename string) *regexp.Regexp {
	prefix := ""
	if basename != "" {
		prefix = regexp.QuoteMeta(basename) + "_"
	}
	return regexp.MustCompile(`^` + prefix + `\d{4}-\d{2}-\d{2}_\d{2}h\d{2}m` + regexp.QuoteMeta(ArchiveExt) + `(` + regexp.QuoteMeta(EncryptedExt) + `)?$`)
}

// Destination is the object path of name inside slot, relative to the
// bucket prefix. An empty slot places the object directly under the prefix.
func Destination(slot, name string) string {
	return path.Join(slot, name)
}

func ObjectURI(bucket, prefix, remotePath string) string {
	return "s3://" + path.Join(bucket, prefix, remotePath)
}

// LastBackupPath is where the record of the last successful run for
// basename is kept.
func LastBackupPath(backupDir, basename string) string {
	if basename == "" {
		basename = "default"
	}
	return path.Join(backupDir, fmt.Sprintf("last_backup_%s.yaml", basename))
}

func LockPath(backupDir, basename string) string {
	if basename == "" {
		basename = "default"
	}
	return path.Join(backupDir, fmt.Sprintf(".mrb_%s.lock", basename))
}

// NewScratchDir creates a uniquely named directory under parent. The
// returned release func removes it; calling it more than once is harmless.
func NewScratchDir(parent string) (string, func(), error) {
	dir, err := os.MkdirTemp(parent, "mrb-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		slog.Info("Removing scratch directory", "path", dir)
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove scratch directory", "path", dir, "error", err)
		}
	}

	return dir, release, nil
}

func SetupDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// RedactArgs masks the value following any --password argument.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out); i++ {
		switch {
		case out[i] == "--password" && i+1 < len(out):
			out[i+1] = "REDACTED"
			i++
		case strings.HasPrefix(out[i], "--password="):
			out[i] = "--password=REDACTED"
		}
	}
	return out
}
