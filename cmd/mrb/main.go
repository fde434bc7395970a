package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/urfave/cli/v3"

	"mrb/internal/backup"
	"mrb/internal/check"
	"mrb/internal/config"
	"mrb/internal/dump"
	"mrb/internal/keys"
	"mrb/internal/list"
	"mrb/internal/logging"
	"mrb/internal/remote"
	"mrb/internal/replica"
	"mrb/internal/restore"
)

// helpShown records that usage was printed. Help exits non-zero like any
// other usage message.
var helpShown bool

func init() {
	printer := cli.HelpPrinter
	cli.HelpPrinter = func(w io.Writer, templ string, data any) {
		helpShown = true
		printer(w, templ, data)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:      "mrb",
		Usage:     "Mongo Remote Backup",
		UsageText: "mrb [options]\nmrb <command> [options]",
		Version:   "0.1.0",
		Writer:    os.Stderr,
		ErrWriter: os.Stderr,
		Flags:     configFlags(),
		Action:    runBackup,
		Commands: []*cli.Command{
			{
				Name:  "genkey",
				Usage: "Generate public and private key pair",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output",
						Usage: "write the private key to this file instead of printing it",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return keys.Generate(ctx, os.Stdout, cmd.String("output"))
				},
			},
			{
				Name:  "test-keys",
				Usage: "Test if public and private key pair match",
				Flags: []cli.Flag{
					stringFlag("config", "f", "MRB_CONFIG", "path to configuration yaml file"),
					stringFlag("age-public-key", "", "MRB_AGE_PUBLIC_KEY", "age recipient to test instead of the configured one"),
					&cli.StringFlag{
						Name:     "private-key",
						Usage:    "Path to age private key file",
						Required: true,
					},
				},
				Action: testKeys,
			},
			{
				Name:   "check",
				Usage:  "Check MongoDB, mongodump and S3 access for the configuration",
				Flags:  configFlags(),
				Action: runCheck,
			},
			{
				Name:  "list",
				Usage: "List available backups",
				Flags: append(configFlags(),
					&cli.StringFlag{
						Name:  "source",
						Usage: "Data source: s3 or local",
						Value: "s3",
					},
					&cli.StringFlag{
						Name:  "slot",
						Usage: "Only list this slot (primary, daily, weekly, monthly, latest)",
					},
				),
				Action: listBackups,
			},
			{
				Name:  "restore",
				Usage: "Download, verify and unpack a backup, optionally loading it with mongorestore",
				Flags: append(configFlags(),
					&cli.StringFlag{
						Name:  "slot",
						Usage: "Restore from this slot (primary, daily, weekly, monthly, latest)",
					},
					&cli.StringFlag{
						Name:  "archive",
						Usage: "Archive name to restore (default: newest)",
					},
					&cli.StringFlag{
						Name:     "target",
						Usage:    "Directory to unpack the dump into",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "private-key",
						Usage: "Path to age private key file for encrypted archives",
					},
					&cli.BoolFlag{
						Name:  "apply",
						Usage: "Run mongorestore against the configured host after unpacking",
					},
					&cli.BoolFlag{
						Name:  "drop",
						Usage: "Pass --drop to mongorestore",
					},
				),
				Action: restoreBackup,
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newApp().Run(ctx, os.Args)
	// stop cancels ctx, so the exit status has to be decided first.
	code := exitCode(ctx, err)
	stop()

	switch {
	case code == exitInterrupted:
		fmt.Fprintln(os.Stderr, "\n⚠ Backup interrupted")
	case err != nil:
		slog.Error("mrb failed", "error", err)
	}
	if code != 0 {
		os.Exit(code)
	}
}

const exitInterrupted = 130

// exitCode maps the outcome of a run to the process exit status. A failure
// counts as an interruption only when a signal canceled ctx.
func exitCode(ctx context.Context, err error) int {
	switch {
	case err != nil && ctx.Err() != nil:
		return exitInterrupted
	case err != nil, helpShown:
		return 1
	default:
		return 0
	}
}

// setup resolves the configuration and installs the logger for it. The
// returned closer flushes the log file.
func setup(cmd *cli.Command) (*config.Config, io.Closer, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger, closer, err := logging.NewLogger(os.Stderr, cfg.Log.File, level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, closer, nil
}

func newBackend(ctx context.Context, cfg *config.Config) (*remote.S3, error) {
	backend, err := remote.NewS3(ctx, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Prefix, cfg.S3.Endpoint, cfg.S3RetryAttempts())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	return backend, nil
}

func newProber(cfg *config.Config) *replica.MongoProber {
	return replica.NewMongoProber(replica.Credentials{
		Username:     cfg.Mongo.Username,
		Password:     cfg.Mongo.Password,
		AuthDatabase: cfg.Mongo.AuthDatabase,
	}, cfg.Mongo.ConnectTimeout)
}

func runBackup(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Present() {
		return fmt.Errorf("unexpected argument %q, see mrb --help", cmd.Args().First())
	}

	cfg, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	runner := &backup.Runner{
		Config: cfg,
		Clock:  clock.WallClock,
		Prober: newProber(cfg),
		Dumper: dump.Exec{},
		Out:    os.Stdout,
	}
	// Dry runs never touch the bucket, so they work without credentials.
	if !cfg.DryRun {
		backend, err := newBackend(ctx, cfg)
		if err != nil {
			return err
		}
		runner.Backend = backend
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if !cfg.DryRun {
		fmt.Fprintf(os.Stdout, "%s (%s) uploaded, %d rotation copies, %d pruned\n",
			result.Archive, humanize.IBytes(uint64(result.Size)), len(result.Copies), len(result.Pruned))
	}
	return nil
}

func testKeys(ctx context.Context, cmd *cli.Command) error {
	publicKey := cmd.String("age-public-key")
	if !cmd.IsSet("age-public-key") {
		path := cmd.String("config")
		if path == "" {
			return fmt.Errorf("either --config or --age-public-key is required")
		}
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		publicKey = cfg.AgePublicKey
	}
	return keys.Test(ctx, os.Stdout, publicKey, cmd.String("private-key"))
}

func runCheck(ctx context.Context, cmd *cli.Command) error {
	cfg, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	return check.Run(ctx, os.Stdout, cfg, newProber(cfg), backend)
}

func listBackups(ctx context.Context, cmd *cli.Command) error {
	cfg, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	var backend remote.Backend
	if cmd.String("source") == "s3" {
		s3Backend, err := newBackend(ctx, cfg)
		if err != nil {
			return err
		}
		backend = s3Backend
	}
	return list.Run(ctx, os.Stdout, cfg, cmd.String("source"), cmd.String("slot"), backend)
}

func restoreBackup(ctx context.Context, cmd *cli.Command) error {
	cfg, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	if err := backend.VerifyCredentials(ctx); err != nil {
		return fmt.Errorf("AWS credentials verification failed: %w", err)
	}

	return restore.Run(ctx, os.Stdout, cfg, backend, restore.Options{
		Slot:           cmd.String("slot"),
		Archive:        cmd.String("archive"),
		Target:         cmd.String("target"),
		PrivateKeyPath: cmd.String("private-key"),
		Apply:          cmd.Bool("apply"),
		Drop:           cmd.Bool("drop"),
		DryRun:         cfg.DryRun,
	}, dump.Restore)
}
