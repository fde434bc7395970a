package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	started := time.Date(2024, 1, 6, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		run      Run
		contains []string
		absent   []string
	}{
		{
			name: "success",
			run:  Run{Basename: "shop", Started: started, Finished: started.Add(90 * time.Second), Success: true, ArchiveBytes: 2048, Pruned: 1},
			contains: []string{
				`mrb_backup_success{basename="shop"} 1`,
				`mrb_backup_duration_seconds{basename="shop"} 90`,
				`mrb_backup_archive_bytes{basename="shop"} 2048`,
				`mrb_backup_latest_pruned{basename="shop"} 1`,
			},
		},
		{
			name: "failure without basename",
			run:  Run{Started: started, Finished: started.Add(time.Second)},
			contains: []string{
				`mrb_backup_success{basename="default"} 0`,
				`mrb_backup_last_run_timestamp_seconds{basename="default"}`,
			},
			absent: []string{"mrb_backup_archive_bytes", "mrb_backup_last_success_timestamp_seconds"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mrb.prom")
			require.NoError(t, WriteTextfile(path, tt.run))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, string(data), s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, string(data), s)
			}
		})
	}
}

func gaugeValue(t *testing.T, path, name, basename string) (float64, bool) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	require.NoError(t, err)

	family, ok := families[name]
	if !ok {
		return 0, false
	}
	for _, m := range family.GetMetric() {
		if labelValue(m, "basename") == basename {
			return m.GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func TestWriteTextfileKeepsLastSuccessAfterFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mrb.prom")
	started := time.Date(2024, 1, 6, 3, 0, 0, 0, time.UTC)
	succeeded := started.Add(90 * time.Second)

	require.NoError(t, WriteTextfile(path, Run{Basename: "shop", Started: started, Finished: succeeded, Success: true, ArchiveBytes: 2048, Pruned: 1}))

	next := started.Add(24 * time.Hour)
	require.NoError(t, WriteTextfile(path, Run{Basename: "shop", Started: next, Finished: next.Add(time.Second)}))

	success, ok := gaugeValue(t, path, "mrb_backup_success", "shop")
	require.True(t, ok)
	assert.Equal(t, 0.0, success)

	lastRun, ok := gaugeValue(t, path, "mrb_backup_last_run_timestamp_seconds", "shop")
	require.True(t, ok)
	assert.Equal(t, float64(next.Add(time.Second).Unix()), lastRun)

	lastSuccess, ok := gaugeValue(t, path, "mrb_backup_last_success_timestamp_seconds", "shop")
	require.True(t, ok)
	assert.Equal(t, float64(succeeded.Unix()), lastSuccess)

	size, ok := gaugeValue(t, path, "mrb_backup_archive_bytes", "shop")
	require.True(t, ok)
	assert.Equal(t, 2048.0, size)

	pruned, ok := gaugeValue(t, path, "mrb_backup_latest_pruned", "shop")
	require.True(t, ok)
	assert.Equal(t, 1.0, pruned)
}

func TestWriteTextfileIgnoresUnreadablePrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mrb.prom")
	require.NoError(t, os.WriteFile(path, []byte("not { valid\n"), 0o644))

	started := time.Date(2024, 1, 6, 3, 0, 0, 0, time.UTC)
	require.NoError(t, WriteTextfile(path, Run{Basename: "shop", Started: started, Finished: started.Add(time.Second)}))

	_, ok := gaugeValue(t, path, "mrb_backup_last_success_timestamp_seconds", "shop")
	assert.False(t, ok)
	success, ok := gaugeValue(t, path, "mrb_backup_success", "shop")
	require.True(t, ok)
	assert.Equal(t, 0.0, success)
}
