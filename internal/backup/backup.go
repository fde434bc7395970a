package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"filippo.io/age"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"mrb/internal/archive"
	"mrb/internal/config"
	"mrb/internal/crypto"
	"mrb/internal/dump"
	"mrb/internal/lock"
	"mrb/internal/manifest"
	"mrb/internal/metrics"
	"mrb/internal/remote"
	"mrb/internal/replica"
	"mrb/internal/rotation"
	"mrb/internal/util"
)

// Runner performs one backup run. Backend may be nil in dry-run mode, in
// which case pruning of latest copies is narrated by pattern.
type Runner struct {
	Config  *config.Config
	Clock   clock.Clock
	Prober  replica.Prober
	Dumper  dump.Dumper
	Backend remote.Backend
	Out     io.Writer
}

type Result struct {
	RunID      string
	Host       string
	Archive    string
	Primary    string
	Copies     []string
	Pruned     []string
	Blake3Hash string
	Size       int64
}

func (r *Runner) dryRun(format string, args ...any) {
	fmt.Fprintf(r.Out, "[dry-run] "+format+"\n", args...)
}

func (r *Runner) uri(remotePath string) string {
	if r.Backend != nil {
		return r.Backend.URI(remotePath)
	}
	return util.ObjectURI(r.Config.S3.Bucket, r.Config.S3.Prefix, remotePath)
}

func (r *Runner) Run(ctx context.Context) (result *Result, err error) {
	cfg := r.Config
	if !cfg.DryRun && r.Backend == nil {
		return nil, fmt.Errorf("no storage backend configured")
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("backup cancelled before start: %w", ctx.Err())
	}

	started := r.Clock.Now()
	runID := uuid.NewString()
	logger := slog.Default().With("run_id", runID)
	name := util.ArchiveName(cfg.Basename, started, cfg.AgePublicKey != "")
	logger.Info("Backup started", "archive", name, "dry_run", cfg.DryRun)

	if cfg.MetricsTextfile != "" && !cfg.DryRun {
		defer func() {
			run := metrics.Run{
				Basename: cfg.Basename,
				Started:  started,
				Finished: r.Clock.Now(),
				Success:  err == nil,
			}
			if result != nil {
				run.ArchiveBytes = result.Size
				run.Pruned = len(result.Pruned)
			}
			if werr := metrics.WriteTextfile(cfg.MetricsTextfile, run); werr != nil {
				logger.Warn("Failed to write metrics", "path", cfg.MetricsTextfile, "error", werr)
			}
		}()
	}

	if cfg.Lock && !cfg.DryRun {
		lockPath := util.LockPath(cfg.BackupDir, cfg.Basename)
		releaseLock, err := lock.Acquire(lockPath, cfg.Basename, runID, started)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		defer func() {
			if err := releaseLock(); err != nil {
				logger.Warn("Failed to release lock", "error", err)
			}
		}()
	}

	var recipient age.Recipient
	if cfg.AgePublicKey != "" {
		recipient, err = age.ParseX25519Recipient(cfg.AgePublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse age public key: %w", err)
		}
	}

	if r.Backend != nil && !cfg.DryRun {
		if err := r.Backend.VerifyCredentials(ctx); err != nil {
			return nil, fmt.Errorf("storage credentials verification failed: %w", err)
		}
	}

	// Replica selection
	host := cfg.Mongo.Host
	if cfg.Mongo.PreferSecondary {
		addr := fmt.Sprintf("%s:%d", cfg.Mongo.Host, cfg.Mongo.Port)
		selected, err := replica.Select(ctx, r.Prober, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to select replica: %w", err)
		}
		host = selected
		logger.Info("Dump source selected", "host", host)
	}
	dumpHost, dumpPort := dump.SplitAddr(host, cfg.Mongo.Port)

	scratch, release, err := util.NewScratchDir(cfg.BackupDir)
	if err != nil {
		return nil, err
	}
	defer release()

	opts := dump.Options{
		Binary:       cfg.Mongo.Mongodump,
		Host:         dumpHost,
		Port:         dumpPort,
		Username:     cfg.Mongo.Username,
		Password:     cfg.Mongo.Password,
		AuthDatabase: cfg.Mongo.AuthDatabase,
		Oplog:        cfg.Mongo.Oplog,
		OutDir:       scratch,
	}
	if cfg.DryRun {
		r.dryRun("%s", opts.CommandLine())
	} else {
		logger.Info("Running mongodump", "command", opts.CommandLine())
		if err := r.Dumper.Dump(ctx, opts); err != nil {
			return nil, fmt.Errorf("failed to dump database: %w", err)
		}
		logger.Info("mongodump completed", "out", scratch)
	}

	primarySlot := ""
	if cfg.Rotation.Enabled {
		primarySlot = util.SlotDaily
	}
	primary := util.Destination(primarySlot, name)

	result = &Result{RunID: runID, Host: host, Archive: name, Primary: primary}

	if cfg.DryRun {
		r.dryRun("upload tar.gz of %s to %s (storage class %s)", scratch, r.uri(primary), cfg.S3.StorageClass.For(primarySlot))
	} else {
		hash, size, err := r.stream(ctx, scratch, primary, primarySlot, recipient)
		if err != nil {
			return nil, fmt.Errorf("failed to upload archive: %w", err)
		}
		result.Blake3Hash = hash
		result.Size = size
		logger.Info("Archive uploaded", "uri", r.uri(primary), "size", humanize.IBytes(uint64(size)), "blake3", hash)
	}

	if cfg.Rotation.Enabled {
		// The clock is read again here, so a run straddling midnight rotates
		// by the later date while the archive keeps the earlier timestamp.
		if err := r.rotate(ctx, logger, result, primary, r.Clock.Now()); err != nil {
			return nil, err
		}
	}

	if cfg.DryRun {
		r.dryRun("upload run manifest to %s", r.uri(primary+util.ManifestExt))
		logger.Info("Dry run completed")
		return result, nil
	}

	if err := r.uploadManifest(ctx, logger, result, started, primarySlot, recipient != nil); err != nil {
		return nil, err
	}
	if err := r.writeLast(logger, result, started); err != nil {
		return nil, err
	}

	logger.Info("Backup completed successfully!", "elapsed", r.Clock.Now().Sub(started).Round(time.Second))
	return result, nil
}

// stream writes the archive of dir into the upload of remotePath without
// touching the disk. It returns the BLAKE3 hash and size of the uploaded
// bytes.
func (r *Runner) stream(ctx context.Context, dir, remotePath, slot string, recipient age.Recipient) (string, int64, error) {
	pr, pw := io.Pipe()
	hasher := crypto.NewHasher()
	counter := &countingWriter{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := produce(io.MultiWriter(pw, hasher, counter), dir, recipient)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := r.Backend.Upload(gctx, pr, remotePath, slot, r.Config.S3.StorageClass.For(slot))
		if err != nil {
			pr.CloseWithError(err)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return "", 0, err
	}
	return crypto.Sum(hasher), counter.n, nil
}

func produce(w io.Writer, dir string, recipient age.Recipient) error {
	if recipient == nil {
		return archive.Write(w, dir)
	}
	enc, err := crypto.Encrypt(w, recipient)
	if err != nil {
		return err
	}
	if err := archive.Write(enc, dir); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

func (r *Runner) rotate(ctx context.Context, logger *slog.Logger, result *Result, primary string, now time.Time) error {
	cfg := r.Config
	policy := rotation.Policy{
		Enabled:    cfg.Rotation.Enabled,
		WeeklyDay:  cfg.WeeklyDay(),
		MonthlyDay: cfg.MonthlyDay(),
		Latest:     cfg.Rotation.Latest,
	}

	for _, slot := range policy.Slots(now) {
		dst := util.Destination(slot, result.Archive)
		if cfg.DryRun {
			r.dryRun("copy %s to %s (storage class %s)", r.uri(primary), r.uri(dst), cfg.S3.StorageClass.For(slot))
		} else {
			if err := r.Backend.Copy(ctx, primary, dst, slot, cfg.S3.StorageClass.For(slot)); err != nil {
				return fmt.Errorf("failed to copy archive to %s: %w", slot, err)
			}
			logger.Info("Archive copied", "slot", slot, "uri", r.uri(dst))
		}
		result.Copies = append(result.Copies, dst)

		if slot == util.SlotLatest {
			pruned, err := r.pruneLatest(ctx, logger, result.Archive)
			if err != nil {
				return err
			}
			result.Pruned = pruned
		}
	}
	return nil
}

// pruneLatest removes every archive of this basename under latest/ except
// keep. Objects whose names do not match the archive pattern are left alone.
func (r *Runner) pruneLatest(ctx context.Context, logger *slog.Logger, keep string) ([]string, error) {
	cfg := r.Config
	matcher := util.ArchiveMatcher(cfg.Basename)

	if r.Backend == nil {
		r.dryRun("delete objects under %s/ matching %s except %s", r.uri(util.SlotLatest), matcher, keep)
		return nil, nil
	}

	objects, err := r.Backend.List(ctx, util.SlotLatest)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest archives: %w", err)
	}
	var stale []string
	for _, obj := range objects {
		base := path.Base(obj.Path)
		if base == keep || !matcher.MatchString(base) {
			continue
		}
		stale = append(stale, obj.Path)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	if cfg.DryRun {
		for _, p := range stale {
			r.dryRun("delete %s", r.uri(p))
		}
		return stale, nil
	}
	if err := r.Backend.Delete(ctx, stale...); err != nil {
		return nil, fmt.Errorf("failed to prune latest archives: %w", err)
	}
	logger.Info("Pruned latest archives", "count", len(stale))
	return stale, nil
}

func (r *Runner) uploadManifest(ctx context.Context, logger *slog.Logger, result *Result, started time.Time, slot string, encrypted bool) error {
	cfg := r.Config
	systemInfo, err := manifest.GetSystemInfo(ctx, cfg.Mongo.Mongodump)
	if err != nil {
		logger.Warn("Failed to get system info", "error", err)
	}

	m := &manifest.Backup{
		RunID:      result.RunID,
		Datetime:   started.Unix(),
		System:     systemInfo,
		Host:       result.Host,
		Source:     fmt.Sprintf("%s:%d", cfg.Mongo.Host, cfg.Mongo.Port),
		Basename:   cfg.Basename,
		Archive:    result.Archive,
		Path:       result.Primary,
		Encrypted:  encrypted,
		Blake3Hash: result.Blake3Hash,
		Size:       result.Size,
		Oplog:      cfg.Mongo.Oplog,
		Copies:     result.Copies,
		Pruned:     result.Pruned,
	}
	if encrypted {
		m.AgePublicKey = cfg.AgePublicKey
	}
	data, err := manifest.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	remotePath := result.Primary + util.ManifestExt
	if err := r.Backend.Upload(ctx, bytes.NewReader(data), remotePath, slot, cfg.S3.StorageClass.For(slot)); err != nil {
		return fmt.Errorf("failed to upload manifest: %w", err)
	}
	logger.Info("Manifest uploaded", "uri", r.uri(remotePath))
	return nil
}

func (r *Runner) writeLast(logger *slog.Logger, result *Result, started time.Time) error {
	cfg := r.Config
	lastPath := util.LastBackupPath(cfg.BackupDir, cfg.Basename)

	last := &manifest.Last{}
	if existing, err := manifest.ReadLast(lastPath); err == nil && existing != nil {
		last = existing
	}
	last.Basename = cfg.Basename
	last.Host = result.Host

	ref := func(p string) *manifest.Ref {
		return &manifest.Ref{
			Datetime:   started.Unix(),
			Archive:    result.Archive,
			Path:       p,
			URI:        r.uri(p),
			Blake3Hash: result.Blake3Hash,
			Size:       result.Size,
		}
	}
	last.Backup = ref(result.Primary)
	if last.Slots == nil {
		last.Slots = map[string]*manifest.Ref{}
	}
	for _, c := range result.Copies {
		last.Slots[path.Dir(c)] = ref(c)
	}

	if err := manifest.WriteLast(lastPath, last); err != nil {
		return fmt.Errorf("failed to write last backup record: %w", err)
	}
	logger.Info("Last backup record written", "path", lastPath)
	return nil
}
