package dump

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"mrb/internal/util"
)

type Options struct {
	Binary       string
	Host         string
	Port         int
	Username     string
	Password     string
	AuthDatabase string
	Oplog        bool
	OutDir       string
}

// SplitAddr splits a replica set member address into host and port,
// falling back to defaultPort when addr carries none.
func SplitAddr(addr string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}

func connectionArgs(host string, port int, username, password, authDB string) []string {
	args := []string{"--host", host, "--port", strconv.Itoa(port)}
	if username != "" {
		args = append(args, "--username", username)
	}
	if password != "" {
		args = append(args, "--password", password)
	}
	if authDB != "" {
		args = append(args, "--authenticationDatabase", authDB)
	}
	return args
}

func (o Options) Args() []string {
	args := connectionArgs(o.Host, o.Port, o.Username, o.Password, o.AuthDatabase)
	if o.Oplog {
		args = append(args, "--oplog")
	}
	return append(args, "--out", o.OutDir)
}

// CommandLine renders the dump invocation as a shell command with the
// password masked.
func (o Options) CommandLine() string {
	return shellquote.Join(append([]string{o.Binary}, util.RedactArgs(o.Args())...)...)
}

// Dumper runs the dump tool.
type Dumper interface {
	Dump(ctx context.Context, opts Options) error
}

// Exec runs mongodump as a child process. The process is killed when ctx
// is cancelled.
type Exec struct{}

func (Exec) Dump(ctx context.Context, opts Options) error {
	cmd := exec.CommandContext(ctx, opts.Binary, opts.Args()...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("mongodump interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("mongodump failed: %w", err)
	}
	return nil
}

// Version returns the first line of `<binary> --version`.
func Version(ctx context.Context, binary string) (string, error) {
	out, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	return "", fmt.Errorf("empty version output from %s", binary)
}

// RestoreOptions describes a mongorestore run over an extracted dump.
type RestoreOptions struct {
	Binary       string
	Host         string
	Port         int
	Username     string
	Password     string
	AuthDatabase string
	Drop         bool
	OplogReplay  bool
	Dir          string
}

func (o RestoreOptions) Args() []string {
	args := connectionArgs(o.Host, o.Port, o.Username, o.Password, o.AuthDatabase)
	if o.Drop {
		args = append(args, "--drop")
	}
	if o.OplogReplay {
		args = append(args, "--oplogReplay")
	}
	return append(args, "--dir", o.Dir)
}

func (o RestoreOptions) CommandLine() string {
	return shellquote.Join(append([]string{o.Binary}, util.RedactArgs(o.Args())...)...)
}

func Restore(ctx context.Context, opts RestoreOptions) error {
	slog.Info("Running mongorestore", "command", opts.CommandLine())

	cmd := exec.CommandContext(ctx, opts.Binary, opts.Args()...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mongorestore failed: %w", err)
	}
	return nil
}
