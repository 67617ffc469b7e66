// Package hostmem sizes the simulated physical frame pool from the host's
// own memory, the way a real kernel would size its page allocator from the
// e820/UEFI memory map. Since this core never runs on bare metal, the
// "memory map" it reads is the host's /proc/meminfo.
package hostmem

import (
	proc "github.com/c9s/goprocinfo/linux"
)

// DefaultFrames is used when /proc/meminfo can't be read (non-Linux host,
// sandboxed container without /proc, etc).
const DefaultFrames = 16384 // 64MiB at a 4KiB page size

// FramesAvailable returns a frame count derived from a fraction of host
// MemAvailable, falling back to DefaultFrames if /proc/meminfo is
// unreadable or the reported value is nonsensical.
func FramesAvailable(pageSize uint64, fraction float64) uint64 {
	if pageSize == 0 {
		pageSize = 4096
	}
	if fraction <= 0 || fraction > 1 {
		fraction = 0.05
	}

	mem, err := proc.ReadMemInfo("/proc/meminfo")
	if err != nil || mem.MemAvailable == 0 {
		return DefaultFrames
	}

	budgetKB := float64(mem.MemAvailable) * fraction
	frames := uint64(budgetKB*1024) / pageSize
	if frames == 0 {
		return DefaultFrames
	}
	return frames
}
