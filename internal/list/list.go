package list

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"mrb/internal/config"
	"mrb/internal/manifest"
	"mrb/internal/remote"
	"mrb/internal/util"
)

// SlotPrimary groups archives stored directly under the prefix, which is
// where runs without rotation put them.
const SlotPrimary = "primary"

var slotOrder = map[string]int{
	SlotPrimary:      0,
	util.SlotDaily:   1,
	util.SlotWeekly:  2,
	util.SlotMonthly: 3,
	util.SlotLatest:  4,
}

type Info struct {
	Slot        string `json:"slot"`
	Archive     string `json:"archive"`
	Path        string `json:"path"`
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	SizeHuman   string `json:"size_human"`
	Datetime    int64  `json:"datetime"`
	DatetimeStr string `json:"datetime_str"`
	Blake3Hash  string `json:"blake3_hash,omitempty"`
}

type Output struct {
	Basename string `json:"basename"`
	Source   string `json:"source"`
	Backups  []Info `json:"backups"`
	Summary  struct {
		TotalBackups   int            `json:"total_backups"`
		TotalSize      int64          `json:"total_size"`
		TotalSizeHuman string         `json:"total_size_human"`
		BySlot         map[string]int `json:"by_slot"`
	} `json:"summary"`
}

func newInfo(slot, remotePath, uri string, size int64, when time.Time) Info {
	return Info{
		Slot:        slot,
		Archive:     path.Base(remotePath),
		Path:        remotePath,
		URI:         uri,
		Size:        size,
		SizeHuman:   humanize.IBytes(uint64(size)),
		Datetime:    when.Unix(),
		DatetimeStr: when.UTC().Format("2006-01-02 15:04:05"),
	}
}

func slotOf(remotePath string) (string, bool) {
	dir := path.Dir(remotePath)
	if dir == "." {
		return SlotPrimary, true
	}
	_, ok := slotOrder[dir]
	return dir, ok
}

// Archives returns the archives of basename found in the bucket, ordered
// by slot and then newest first.
func Archives(ctx context.Context, backend remote.Backend, basename string) ([]Info, error) {
	objects, err := backend.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	matcher := util.ArchiveMatcher(basename)
	var infos []Info
	for _, obj := range objects {
		if !matcher.MatchString(path.Base(obj.Path)) {
			continue
		}
		slot, ok := slotOf(obj.Path)
		if !ok {
			continue
		}
		infos = append(infos, newInfo(slot, obj.Path, backend.URI(obj.Path), obj.Size, obj.LastModified))
	}
	sortInfos(infos)
	return infos, nil
}

func sortInfos(infos []Info) {
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Slot != infos[j].Slot {
			return slotOrder[infos[i].Slot] < slotOrder[infos[j].Slot]
		}
		return infos[i].Archive > infos[j].Archive
	})
}

func fromLast(last *manifest.Last) []Info {
	var infos []Info
	add := func(ref *manifest.Ref) {
		if ref == nil {
			return
		}
		slot, ok := slotOf(ref.Path)
		if !ok {
			return
		}
		info := newInfo(slot, ref.Path, ref.URI, ref.Size, time.Unix(ref.Datetime, 0))
		info.Blake3Hash = ref.Blake3Hash
		infos = append(infos, info)
	}

	add(last.Backup)
	for _, ref := range last.Slots {
		if last.Backup != nil && ref != nil && ref.Path == last.Backup.Path {
			continue
		}
		add(ref)
	}
	sortInfos(infos)
	return infos
}

// Run prints the archives of cfg.Basename as JSON. source is "s3" or
// "local"; slot, when set, keeps only that slot.
func Run(ctx context.Context, w io.Writer, cfg *config.Config, source, slot string, backend remote.Backend) error {
	var infos []Info
	switch source {
	case "s3":
		var err error
		infos, err = Archives(ctx, backend, cfg.Basename)
		if err != nil {
			return err
		}
	case "local":
		lastPath := util.LastBackupPath(cfg.BackupDir, cfg.Basename)
		last, err := manifest.ReadLast(lastPath)
		if err != nil {
			return fmt.Errorf("failed to read last backup record from %s: %w", lastPath, err)
		}
		infos = fromLast(last)
	default:
		return fmt.Errorf("unknown source %q, expected s3 or local", source)
	}

	output := Output{
		Basename: cfg.Basename,
		Source:   source,
		Backups:  []Info{},
	}
	output.Summary.BySlot = map[string]int{}
	for _, info := range infos {
		if slot != "" && info.Slot != slot {
			continue
		}
		output.Backups = append(output.Backups, info)
		output.Summary.BySlot[info.Slot]++
		output.Summary.TotalSize += info.Size
	}
	output.Summary.TotalBackups = len(output.Backups)
	output.Summary.TotalSizeHuman = humanize.IBytes(uint64(output.Summary.TotalSize))

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
