package main

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskGuard refuses new photos when the filesystem holding the photo
// directory is almost full. On the Raspberry Pi the SD card is shared with
// the database, and a full card would break the inserts too.
type DiskGuard struct {
	minFreeBytes uint64
	usage        func(path string) (*disk.UsageStat, error)
}

// NewDiskGuard returns nil when minFreeMB is 0 (guard disabled).
func NewDiskGuard(minFreeMB uint64) *DiskGuard {
	if minFreeMB == 0 {
		return nil
	}
	return &DiskGuard{
		minFreeBytes: minFreeMB * 1024 * 1024,
		usage:        disk.Usage,
	}
}

// Check returns an error when less than the minimum is free on the
// filesystem of path.
func (g *DiskGuard) Check(path string) error {
	stat, err := g.usage(path)
	if err != nil {
		return fmt.Errorf("read disk usage of %s: %w", path, err)
	}
	if stat.Free < g.minFreeBytes {
		return fmt.Errorf("only %d MB free on %s, need %d MB",
			stat.Free/1024/1024, stat.Path, g.minFreeBytes/1024/1024)
	}
	return nil
}
