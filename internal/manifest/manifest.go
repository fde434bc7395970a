package manifest

import (
	"context"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"mrb/internal/dump"
)

func GetSystemInfo(ctx context.Context, mongodump string) (SystemInfo, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	osVersion := "unknown"
	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		osVersion = prettyName(string(data))
	}

	info := SystemInfo{Hostname: hostname, OS: osVersion}

	version, err := dump.Version(ctx, mongodump)
	if err != nil {
		info.MongodumpVersion = "unknown"
		return info, err
	}
	info.MongodumpVersion = version

	return info, nil
}

func prettyName(osRelease string) string {
	for _, line := range strings.Split(osRelease, "\n") {
		if v, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return "unknown"
}

func Marshal(m *Backup) ([]byte, error) {
	return yaml.Marshal(m)
}

func Unmarshal(data []byte) (*Backup, error) {
	var m Backup
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func Read(filename string) (*Backup, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

func WriteLast(filename string, last *Last) error {
	data, err := yaml.Marshal(last)
	if err != nil {
		return err
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

func ReadLast(filename string) (*Last, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var last Last
	if err := yaml.Unmarshal(data, &last); err != nil {
		return nil, err
	}
	return &last, nil
}
