package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mrb/internal/archive"
	"mrb/internal/config"
	"mrb/internal/crypto"
	"mrb/internal/dump"
	"mrb/internal/keys"
	"mrb/internal/list"
	"mrb/internal/manifest"
	"mrb/internal/remote"
	"mrb/internal/util"
)

type Options struct {
	// Slot limits the archive search to one slot ("primary", "daily",
	// "weekly", "monthly", "latest"). Empty searches all of them.
	Slot string
	// Archive selects an archive by name. Empty picks the newest.
	Archive        string
	Target         string
	PrivateKeyPath string
	Apply          bool
	Drop           bool
	DryRun         bool
}

// RestoreFunc loads an extracted dump into MongoDB.
type RestoreFunc func(ctx context.Context, opts dump.RestoreOptions) error

// Run downloads one archive of cfg.Basename, verifies and unpacks it into
// opts.Target and, with opts.Apply, feeds it to mongorestore.
func Run(ctx context.Context, w io.Writer, cfg *config.Config, backend remote.Backend, opts Options, restore RestoreFunc) error {
	slog.Info("Restore started", "basename", cfg.Basename, "slot", opts.Slot, "archive", opts.Archive, "target", opts.Target, "dryRun", opts.DryRun)

	if opts.Target == "" {
		return fmt.Errorf("restore target directory must be specified")
	}

	selected, err := selectArchive(ctx, backend, cfg.Basename, opts)
	if err != nil {
		return err
	}
	slog.Info("Archive selected", "uri", selected.URI)

	head, err := backend.Head(ctx, selected.Path)
	if err != nil {
		return fmt.Errorf("failed to inspect archive: %w", err)
	}
	if err := remote.ValidateStorageClass(head.StorageClass); err != nil {
		return fmt.Errorf("cannot restore %s: %w", selected.URI, err)
	}

	encrypted := strings.HasSuffix(selected.Archive, util.EncryptedExt)
	if encrypted && opts.PrivateKeyPath == "" {
		return fmt.Errorf("archive %s is encrypted, a private key is required", selected.Archive)
	}

	workDir, err := os.MkdirTemp(cfg.BackupDir, "mrb-restore-*")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		slog.Info("Cleaning up work directory", "path", workDir)
		if err := os.RemoveAll(workDir); err != nil {
			slog.Warn("Failed to remove work directory", "error", err)
		}
	}()

	m, err := fetchManifest(ctx, backend, selected, workDir)
	if err != nil {
		return err
	}

	restoreOpts := dump.RestoreOptions{
		Binary:       cfg.Mongo.Mongorestore,
		Host:         cfg.Mongo.Host,
		Port:         cfg.Mongo.Port,
		Username:     cfg.Mongo.Username,
		Password:     cfg.Mongo.Password,
		AuthDatabase: cfg.Mongo.AuthDatabase,
		Drop:         opts.Drop,
		OplogReplay:  m != nil && m.Oplog,
		Dir:          opts.Target,
	}

	if opts.DryRun {
		fmt.Fprintf(w, "\n=== DRY RUN MODE ===\n")
		fmt.Fprintf(w, "Would restore backup:\n")
		fmt.Fprintf(w, "  Archive:     %s\n", selected.URI)
		fmt.Fprintf(w, "  Slot:        %s\n", selected.Slot)
		fmt.Fprintf(w, "  Size:        %s\n", selected.SizeHuman)
		fmt.Fprintf(w, "  Encrypted:   %t\n", encrypted)
		if m != nil {
			fmt.Fprintf(w, "  Run ID:      %s\n", m.RunID)
			fmt.Fprintf(w, "  BLAKE3 Hash: %s\n", m.Blake3Hash)
		}
		fmt.Fprintf(w, "  Target:      %s\n", opts.Target)
		if opts.Apply {
			fmt.Fprintf(w, "  Command:     %s\n", restoreOpts.CommandLine())
		}
		fmt.Fprintf(w, "\nNo changes made.\n")
		return nil
	}

	localArchive := filepath.Join(workDir, selected.Archive)
	if err := backend.Download(ctx, selected.Path, localArchive); err != nil {
		return fmt.Errorf("failed to download archive: %w", err)
	}

	if m != nil {
		if err := crypto.VerifyFile(localArchive, m.Blake3Hash); err != nil {
			return err
		}
	} else {
		slog.Warn("No run manifest found, skipping BLAKE3 verification", "archive", selected.Archive)
	}

	if err := extract(localArchive, opts.Target, encrypted, opts.PrivateKeyPath); err != nil {
		return err
	}
	fmt.Fprintf(w, "Extracted %s to %s\n", selected.Archive, opts.Target)

	if opts.Apply {
		if err := restore(ctx, restoreOpts); err != nil {
			return fmt.Errorf("failed to restore database: %w", err)
		}
		fmt.Fprintf(w, "Restored %s into %s:%d\n", selected.Archive, cfg.Mongo.Host, cfg.Mongo.Port)
	}

	slog.Info("Restore completed successfully!")
	return nil
}

func selectArchive(ctx context.Context, backend remote.Backend, basename string, opts Options) (*list.Info, error) {
	infos, err := list.Archives(ctx, backend, basename)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if opts.Slot != "" && infos[i].Slot != opts.Slot {
			continue
		}
		if opts.Archive != "" && infos[i].Archive != opts.Archive {
			continue
		}
		return &infos[i], nil
	}

	what := "any archive"
	if opts.Archive != "" {
		what = "archive " + opts.Archive
	}
	if opts.Slot != "" {
		return nil, fmt.Errorf("%s not found in slot %s", what, opts.Slot)
	}
	return nil, fmt.Errorf("%s not found", what)
}

// fetchManifest looks for the run manifest next to the archive and next to
// the primary copy it was rotated from. A missing manifest is not an error.
func fetchManifest(ctx context.Context, backend remote.Backend, selected *list.Info, workDir string) (*manifest.Backup, error) {
	candidates := []string{
		selected.Path + util.ManifestExt,
		util.Destination(util.SlotDaily, selected.Archive) + util.ManifestExt,
		selected.Archive + util.ManifestExt,
	}

	seen := map[string]bool{}
	for _, candidate := range candidates {
		if seen[candidate] {
			continue
		}
		seen[candidate] = true

		local := filepath.Join(workDir, path.Base(candidate))
		err := backend.Download(ctx, candidate, local)
		if errors.Is(err, remote.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to download manifest: %w", err)
		}
		m, err := manifest.Read(local)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		if m.Archive != selected.Archive {
			return nil, fmt.Errorf("manifest %s describes %s, not %s", candidate, m.Archive, selected.Archive)
		}
		slog.Info("Manifest loaded", "path", candidate, "run_id", m.RunID, "blake3", m.Blake3Hash)
		return m, nil
	}
	return nil, nil
}

func extract(localArchive, target string, encrypted bool, privateKeyPath string) error {
	file, err := os.Open(localArchive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if encrypted {
		identity, err := keys.LoadIdentity(privateKeyPath)
		if err != nil {
			return err
		}
		r, err = crypto.Decrypt(file, identity)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	if err := archive.Extract(r, target); err != nil {
		return fmt.Errorf("failed to extract archive: %w", err)
	}
	return nil
}
