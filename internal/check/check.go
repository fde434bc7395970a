package check

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"mrb/internal/config"
	"mrb/internal/dump"
	"mrb/internal/remote"
	"mrb/internal/util"
)

type Pinger interface {
	Ping(ctx context.Context, addr string) error
}

// Run verifies that everything a backup run of cfg depends on is reachable,
// printing one line per check. It stops at the first failure.
func Run(ctx context.Context, w io.Writer, cfg *config.Config, pinger Pinger, backend remote.Backend) error {
	fmt.Fprintln(w, "config: OK")

	_, release, err := util.NewScratchDir(cfg.BackupDir)
	if err != nil {
		return fmt.Errorf("backup_dir %s: %w", cfg.BackupDir, err)
	}
	release()
	fmt.Fprintf(w, "backup_dir %s: OK\n", cfg.BackupDir)

	if _, err := exec.LookPath(cfg.Mongo.Mongodump); err != nil {
		return fmt.Errorf("mongodump: %w", err)
	}
	version, err := dump.Version(ctx, cfg.Mongo.Mongodump)
	if err != nil {
		return fmt.Errorf("mongodump: %w", err)
	}
	fmt.Fprintf(w, "mongodump (%s): OK\n", version)

	addr := fmt.Sprintf("%s:%d", cfg.Mongo.Host, cfg.Mongo.Port)
	if err := pinger.Ping(ctx, addr); err != nil {
		return fmt.Errorf("mongodb %s: %w", addr, err)
	}
	fmt.Fprintf(w, "mongodb %s: OK\n", addr)

	if err := backend.VerifyCredentials(ctx); err != nil {
		return fmt.Errorf("S3 credentials: %w", err)
	}
	fmt.Fprintf(w, "S3 bucket %s: OK\n", cfg.S3.Bucket)

	fmt.Fprintln(w, "all checks passed")
	return nil
}
