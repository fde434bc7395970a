package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadLast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_backup_shop.yaml")

	last := &Last{
		Basename: "shop",
		Host:     "db:27017",
		Backup:   &Ref{Datetime: 1704067200, Archive: "shop_2024-01-01_00h00m.tgz", Path: "daily/shop_2024-01-01_00h00m.tgz", Size: 42},
		Slots: map[string]*Ref{
			"latest": {Datetime: 1704067200, Archive: "shop_2024-01-01_00h00m.tgz", Path: "latest/shop_2024-01-01_00h00m.tgz"},
		},
	}
	require.NoError(t, WriteLast(path, last))
	assert.NoFileExists(t, path+".tmp")

	got, err := ReadLast(path)
	require.NoError(t, err)
	assert.Equal(t, last, got)
}

func TestMarshalUnmarshal(t *testing.T) {
	m := &Backup{
		RunID:      "4a7c",
		Archive:    "shop_2024-01-01_00h00m.tgz.age",
		Encrypted:  true,
		Blake3Hash: "abc",
		Copies:     []string{"latest/shop_2024-01-01_00h00m.tgz.age"},
	}

	data, err := Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), "blake3_hash: abc")

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestPrettyName(t *testing.T) {
	assert.Equal(t, "Ubuntu 24.04 LTS", prettyName("NAME=\"Ubuntu\"\nPRETTY_NAME=\"Ubuntu 24.04 LTS\"\nID=ubuntu\n"))
	assert.Equal(t, "unknown", prettyName("ID=alpine\n"))
}

func TestGetSystemInfo(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "mongodump")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'mongodump version: 100.10.0'\n"), 0o755))

	info, err := GetSystemInfo(context.Background(), bin)
	require.NoError(t, err)
	assert.Equal(t, "mongodump version: 100.10.0", info.MongodumpVersion)
	assert.NotEmpty(t, info.Hostname)

	info, err = GetSystemInfo(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
	assert.Equal(t, "unknown", info.MongodumpVersion)
}
