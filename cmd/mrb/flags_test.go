package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"mrb/internal/config"
)

func resolveArgs(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	var cfg *config.Config
	var resolveErr error
	cmd := &cli.Command{
		Name:  "mrb",
		Flags: configFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, resolveErr = resolveConfig(cmd)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"mrb"}, args...)))
	return cfg, resolveErr
}

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "mrb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveConfigPrecedence(t *testing.T) {
	backupDir := t.TempDir()
	path := writeConfig(t, "backup_dir: "+backupDir+"\ns3:\n  bucket: filebucket\nrotation:\n  weekly_day: \"3\"\n")

	cfg, err := resolveArgs(t, "-f", path, "-b", "flagbucket")
	require.NoError(t, err)
	assert.Equal(t, "flagbucket", cfg.S3.Bucket)
	assert.Equal(t, "3", cfg.Rotation.WeeklyDay)
	assert.Equal(t, backupDir, cfg.BackupDir)
	assert.Equal(t, "localhost", cfg.Mongo.Host)
}

func TestResolveConfigFlags(t *testing.T) {
	backupDir := t.TempDir()

	cfg, err := resolveArgs(t,
		"-B", backupDir, "-b", "bkt", "-H", "db", "-P", "27018",
		"-u", "backup", "-p", "s3cret", "-a", "admin",
		"-s", "-r", "-l", "-D", "-m", "15", "-w", "0", "-n", "shop", "-d", "mongo", "-R", "eu-west-1",
	)
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Mongo.Host)
	assert.Equal(t, 27018, cfg.Mongo.Port)
	assert.Equal(t, "backup", cfg.Mongo.Username)
	assert.Equal(t, "s3cret", cfg.Mongo.Password)
	assert.Equal(t, "admin", cfg.Mongo.AuthDatabase)
	assert.True(t, cfg.Mongo.PreferSecondary)
	assert.True(t, cfg.Rotation.Enabled)
	assert.False(t, cfg.Rotation.Latest)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "15", cfg.Rotation.MonthlyDay)
	assert.Equal(t, "0", cfg.Rotation.WeeklyDay)
	assert.Equal(t, "shop", cfg.Basename)
	assert.Equal(t, "mongo", cfg.S3.Prefix)
	assert.Equal(t, "eu-west-1", cfg.S3.Region)
}

func TestResolveConfigEnv(t *testing.T) {
	t.Setenv("MRB_HOST", "envhost")
	t.Setenv("MRB_BUCKET", "envbucket")
	t.Setenv("MRB_BACKUP_DIR", t.TempDir())

	cfg, err := resolveArgs(t, "-b", "flagbucket")
	require.NoError(t, err)
	assert.Equal(t, "envhost", cfg.Mongo.Host)
	assert.Equal(t, "flagbucket", cfg.S3.Bucket)
}

func TestResolveConfigInvalid(t *testing.T) {
	backupDir := t.TempDir()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "weekly day", args: []string{"-B", backupDir, "-b", "bkt", "-w", "8"}, want: "weekly_day"},
		{name: "monthly day", args: []string{"-B", backupDir, "-b", "bkt", "-m", "1"}, want: "monthly_day"},
		{name: "missing bucket", args: []string{"-B", backupDir}, want: "s3.bucket is required"},
		{name: "missing backup dir", args: []string{"-B", filepath.Join(backupDir, "nope"), "-b", "bkt"}, want: "backup_dir"},
		{name: "bad port", args: []string{"-B", backupDir, "-b", "bkt", "-P", "http"}, want: "invalid port"},
		{name: "unknown config key", args: []string{"-f", writeConfig(t, "bukket: x\n")}, want: "failed to load config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveArgs(t, tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestHelpIsRecorded(t *testing.T) {
	helpShown = false
	t.Cleanup(func() { helpShown = false })

	require.NoError(t, newApp().Run(context.Background(), []string{"mrb", "-h"}))
	assert.True(t, helpShown)
}

func TestUnexpectedArgument(t *testing.T) {
	err := newApp().Run(context.Background(), []string{"mrb", "-B", t.TempDir(), "-b", "bkt", "stray"})
	assert.Error(t, err)
}

func TestDryRunBackup(t *testing.T) {
	backupDir := t.TempDir()

	err := newApp().Run(context.Background(), []string{"mrb", "-B", backupDir, "-b", "bkt", "-n", "shop", "-r", "-D"})
	require.NoError(t, err)

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
