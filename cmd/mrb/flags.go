package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"mrb/internal/config"
)

// settingFlags maps every flag that overrides a config setting to whether
// it is a boolean flag.
var settingFlags = []struct {
	name   string
	isBool bool
}{
	{"host", false},
	{"port", false},
	{"username", false},
	{"password", false},
	{"auth-database", false},
	{"prefer-secondary", true},
	{"oplog", true},
	{"backup-dir", false},
	{"bucket", false},
	{"basename", false},
	{"prefix", false},
	{"region", false},
	{"endpoint", false},
	{"rotate", true},
	{"monthly-day", false},
	{"weekly-day", false},
	{"no-latest", true},
	{"dry-run", true},
	{"age-public-key", false},
	{"log-file", false},
	{"log-level", false},
}

func stringFlag(name, alias, env, usage string) *cli.StringFlag {
	f := &cli.StringFlag{
		Name:    name,
		Usage:   usage,
		Sources: cli.EnvVars(env),
	}
	if alias != "" {
		f.Aliases = []string{alias}
	}
	return f
}

func boolFlag(name, alias, env, usage string) *cli.BoolFlag {
	f := &cli.BoolFlag{
		Name:    name,
		Usage:   usage,
		Sources: cli.EnvVars(env),
	}
	if alias != "" {
		f.Aliases = []string{alias}
	}
	return f
}

// configFlags returns fresh instances of the flags shared by every command
// that resolves a configuration.
func configFlags() []cli.Flag {
	return []cli.Flag{
		stringFlag("config", "f", "MRB_CONFIG", "path to configuration yaml file"),
		stringFlag("username", "u", "MRB_USERNAME", "MongoDB username"),
		stringFlag("password", "p", "MRB_PASSWORD", "MongoDB password"),
		stringFlag("auth-database", "a", "MRB_AUTH_DATABASE", "MongoDB authentication database"),
		stringFlag("host", "H", "MRB_HOST", "MongoDB host (default localhost)"),
		stringFlag("port", "P", "MRB_PORT", "MongoDB port (default 27017)"),
		boolFlag("prefer-secondary", "s", "MRB_PREFER_SECONDARY", "dump from a secondary replica set member when one exists"),
		boolFlag("oplog", "", "MRB_OPLOG", "capture the oplog for a point-in-time dump"),
		stringFlag("backup-dir", "B", "MRB_BACKUP_DIR", "directory for the temporary dump (default /var/backups/mongodb)"),
		stringFlag("bucket", "b", "MRB_BUCKET", "S3 bucket name"),
		stringFlag("basename", "n", "MRB_BASENAME", "archive name prefix"),
		stringFlag("prefix", "d", "MRB_PREFIX", "path prefix inside the bucket"),
		stringFlag("region", "R", "MRB_REGION", "S3 region (default us-east-1)"),
		stringFlag("endpoint", "", "MRB_ENDPOINT", "custom S3 endpoint, e.g. MinIO"),
		boolFlag("rotate", "r", "MRB_ROTATE", "enable daily/weekly/monthly/latest rotation"),
		stringFlag("monthly-day", "m", "MRB_MONTHLY_DAY", "day of month for the monthly copy, 0 disables (default 01)"),
		stringFlag("weekly-day", "w", "MRB_WEEKLY_DAY", "ISO weekday for the weekly copy, 0 disables (default 6)"),
		boolFlag("no-latest", "l", "MRB_NO_LATEST", "do not keep a copy under latest/"),
		boolFlag("dry-run", "D", "MRB_DRY_RUN", "print what would be done without doing it"),
		stringFlag("age-public-key", "", "MRB_AGE_PUBLIC_KEY", "encrypt archives to this age recipient"),
		stringFlag("log-file", "", "MRB_LOG_FILE", "also write JSON logs to this file"),
		stringFlag("log-level", "", "MRB_LOG_LEVEL", "console log level (default info)"),
	}
}

// resolveConfig builds the run configuration: defaults, then the config
// file when given, then every flag or environment variable explicitly set.
func resolveConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	for _, f := range settingFlags {
		if !cmd.IsSet(f.name) {
			continue
		}
		value := cmd.String(f.name)
		if f.isBool {
			value = strconv.FormatBool(cmd.Bool(f.name))
		}
		if err := cfg.Set(f.name, value); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
