// Package hostinfo takes small host snapshots that are attached to run records.
//
// The backup worker writes archives under its target directory before
// uploading them, so free space on that filesystem is the most common
// reason a run fails. The snapshot is informational only: a full disk is
// logged and recorded but never stops a run.
package hostinfo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
)

// HighUsagePercent is the disk usage above which a warning is logged.
const HighUsagePercent = 95.0

// Snapshot describes the filesystem holding a path and the host load.
type Snapshot struct {
	// Timestamp is when this snapshot was collected.
	Timestamp time.Time `json:"timestamp"`

	// Path is the directory the disk metrics refer to.
	Path string `json:"path"`

	// Disk metrics for the filesystem containing Path
	DiskTotal uint64  `json:"disk_total"`
	DiskFree  uint64  `json:"disk_free"`
	DiskUsed  uint64  `json:"disk_used"`
	DiskPct   float64 `json:"disk_pct"`
	Fstype    string  `json:"fstype,omitempty"`

	// Load1 is the 1-minute load average, zero if unavailable.
	Load1 float64 `json:"load1"`
}

// HighUsage reports whether the filesystem is nearly full.
func (s *Snapshot) HighUsage() bool {
	return s.DiskPct >= HighUsagePercent
}

// Sampler collects snapshots.
type Sampler struct {
	logger *slog.Logger
}

// NewSampler creates a new snapshot sampler with the given logger.
func NewSampler(logger *slog.Logger) *Sampler {
	return &Sampler{logger: logger}
}

// Sample collects disk usage for path and the current load average.
// Disk usage is required; a load failure is logged and left as zero.
func (p *Sampler) Sample(ctx context.Context, path string) (*Snapshot, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage for %s: %w", path, err)
	}

	snap := &Snapshot{
		Timestamp: time.Now(),
		Path:      path,
		DiskTotal: usage.Total,
		DiskFree:  usage.Free,
		DiskUsed:  usage.Used,
		DiskPct:   usage.UsedPercent,
		Fstype:    usage.Fstype,
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		p.logger.Warn("failed to collect load average", slog.String("error", err.Error()))
	} else {
		snap.Load1 = avg.Load1
	}

	return snap, nil
}
