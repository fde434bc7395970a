package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"
)

var (
	weeklyDayPattern  = regexp.MustCompile(`^[0-7]$`)
	monthlyDayPattern = regexp.MustCompile(`^(0|0[1-9]|[12][0-9]|3[01])$`)
)

type MongoConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username,omitempty"`
	Password        string        `yaml:"password,omitempty"`
	AuthDatabase    string        `yaml:"auth_database,omitempty"`
	PreferSecondary bool          `yaml:"prefer_secondary"`
	Oplog           bool          `yaml:"oplog"`
	Mongodump       string        `yaml:"mongodump"`
	Mongorestore    string        `yaml:"mongorestore"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

type StorageClasses struct {
	Daily   types.StorageClass `yaml:"daily"`
	Weekly  types.StorageClass `yaml:"weekly"`
	Monthly types.StorageClass `yaml:"monthly"`
	Latest  types.StorageClass `yaml:"latest"`
}

type S3Config struct {
	Bucket       string         `yaml:"bucket"`
	Prefix       string         `yaml:"prefix"`
	Region       string         `yaml:"region"`
	Endpoint     string         `yaml:"endpoint"`
	StorageClass StorageClasses `yaml:"storage_class"`
	Retry        struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry,omitempty"`
}

type RotationConfig struct {
	Enabled    bool   `yaml:"enabled"`
	MonthlyDay string `yaml:"monthly_day"`
	WeeklyDay  string `yaml:"weekly_day"`
	Latest     bool   `yaml:"latest"`
}

type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

type Config struct {
	BackupDir       string         `yaml:"backup_dir"`
	Basename        string         `yaml:"basename"`
	DryRun          bool           `yaml:"dry_run"`
	AgePublicKey    string         `yaml:"age_public_key"`
	Lock            bool           `yaml:"lock"`
	MetricsTextfile string         `yaml:"metrics_textfile"`
	Mongo           MongoConfig    `yaml:"mongo"`
	S3              S3Config       `yaml:"s3"`
	Rotation        RotationConfig `yaml:"rotation"`
	Log             LogConfig      `yaml:"log"`
}

func Default() *Config {
	return &Config{
		BackupDir: "/var/backups/mongodb",
		Mongo: MongoConfig{
			Host:           "localhost",
			Port:           27017,
			Mongodump:      "mongodump",
			Mongorestore:   "mongorestore",
			ConnectTimeout: 10 * time.Second,
		},
		S3: S3Config{
			Region: "us-east-1",
			StorageClass: StorageClasses{
				Daily:   types.StorageClassStandard,
				Weekly:  types.StorageClassStandard,
				Monthly: types.StorageClassStandard,
				Latest:  types.StorageClassStandard,
			},
		},
		Rotation: RotationConfig{
			MonthlyDay: "01",
			WeeklyDay:  "6",
			Latest:     true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads filename on top of the defaults. Keys not known to Config are
// rejected. The result is not validated; call Validate once every override
// has been applied.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	return cfg, nil
}

// Set overrides a single setting by its command line name.
func (c *Config) Set(key, value string) error {
	switch key {
	case "host":
		c.Mongo.Host = value
	case "port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid port %q", value)
		}
		c.Mongo.Port = port
	case "username":
		c.Mongo.Username = value
	case "password":
		c.Mongo.Password = value
	case "auth-database":
		c.Mongo.AuthDatabase = value
	case "prefer-secondary":
		return setBool(&c.Mongo.PreferSecondary, key, value)
	case "oplog":
		return setBool(&c.Mongo.Oplog, key, value)
	case "backup-dir":
		c.BackupDir = value
	case "bucket":
		c.S3.Bucket = value
	case "basename":
		c.Basename = value
	case "prefix":
		c.S3.Prefix = value
	case "region":
		c.S3.Region = value
	case "endpoint":
		c.S3.Endpoint = value
	case "rotate":
		return setBool(&c.Rotation.Enabled, key, value)
	case "monthly-day":
		c.Rotation.MonthlyDay = value
	case "weekly-day":
		c.Rotation.WeeklyDay = value
	case "no-latest":
		var disabled bool
		if err := setBool(&disabled, key, value); err != nil {
			return err
		}
		c.Rotation.Latest = !disabled
	case "dry-run":
		return setBool(&c.DryRun, key, value)
	case "age-public-key":
		c.AgePublicKey = value
	case "log-file":
		c.Log.File = value
	case "log-level":
		c.Log.Level = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value %q for %s", value, key)
	}
	*dst = b
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Mongo.Host) == "" {
		return fmt.Errorf("mongo.host is required")
	}
	if c.Mongo.Port < 1 || c.Mongo.Port > 65535 {
		return fmt.Errorf("mongo.port must be between 1 and 65535, got %d", c.Mongo.Port)
	}
	if c.Mongo.Password != "" && c.Mongo.Username == "" {
		return fmt.Errorf("mongo.username is required when a password is set")
	}
	if strings.TrimSpace(c.S3.Bucket) == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if c.S3.Region == "" {
		return fmt.Errorf("s3.region is required")
	}
	if !weeklyDayPattern.MatchString(c.Rotation.WeeklyDay) {
		return fmt.Errorf("rotation.weekly_day must be 0 (disabled) or 1-7, got %q", c.Rotation.WeeklyDay)
	}
	if !monthlyDayPattern.MatchString(c.Rotation.MonthlyDay) {
		return fmt.Errorf("rotation.monthly_day must be 0 (disabled) or 01-31, got %q", c.Rotation.MonthlyDay)
	}
	if strings.ContainsAny(c.Basename, "/*?[") {
		return fmt.Errorf("basename must not contain '/' or glob characters")
	}
	if c.AgePublicKey != "" && !strings.HasPrefix(c.AgePublicKey, "age1") {
		return fmt.Errorf("age_public_key must start with 'age1'")
	}
	for slot, class := range c.S3.StorageClass.bySlot() {
		if class == "" {
			return fmt.Errorf("s3.storage_class.%s is required", slot)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.BackupDir == "" {
		return fmt.Errorf("backup_dir is required")
	}
	info, err := os.Stat(c.BackupDir)
	if err != nil {
		return fmt.Errorf("backup_dir %s: %w", c.BackupDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup_dir %s is not a directory", c.BackupDir)
	}
	return nil
}

func (s StorageClasses) bySlot() map[string]types.StorageClass {
	return map[string]types.StorageClass{
		"daily":   s.Daily,
		"weekly":  s.Weekly,
		"monthly": s.Monthly,
		"latest":  s.Latest,
	}
}

// For returns the storage class configured for a destination slot. The
// unslotted primary copy uses the daily class.
func (s StorageClasses) For(slot string) types.StorageClass {
	if class, ok := s.bySlot()[slot]; ok {
		return class
	}
	return s.Daily
}

// WeeklyDay returns the ISO weekday that triggers a weekly copy, 0 if disabled.
func (c *Config) WeeklyDay() int {
	n, _ := strconv.Atoi(c.Rotation.WeeklyDay)
	return n
}

// MonthlyDay returns the day of month that triggers a monthly copy, 0 if disabled.
func (c *Config) MonthlyDay() int {
	n, _ := strconv.Atoi(c.Rotation.MonthlyDay)
	return n
}

func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return level, fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	return level, nil
}

func (c *Config) S3RetryAttempts() int {
	if c.S3.Retry.MaxAttempts > 0 {
		return c.S3.Retry.MaxAttempts
	}
	return 3
}
