// Package sizing derives batch size, cache size, and commit interval for
// a restore run from available system memory and worker concurrency, so
// callers don't have to hand-tune RestoreSettings.
package sizing

import "github.com/shirou/gopsutil/v3/mem"

const (
	bytesPerKiB = 1024
	bytesPerMiB = 1024 * bytesPerKiB
	bytesPerGiB = 1024 * bytesPerMiB

	fallbackAvailableBytes = 4 * bytesPerGiB

	usableFraction           = 0.75
	maxPerWorkerBatchBytes   = 256 * bytesPerMiB
	minBatchSize             = 100
	maxBatchSize             = 4000
	maxCacheSizeKB           = 65536
	lowMemoryThresholdBytes  = 512 * bytesPerMiB
	maxRowsPerCommitLowMem   = 5000
	maxRowsPerCommitDefault  = 10000
)

// Settings is the subset of RestoreSettings this package computes.
type Settings struct {
	BatchSize        int
	CacheSizeKB      int
	MaxRowsPerCommit int
}

// AvailableMemory returns the OS-reported available system memory in
// bytes, falling back to 4 GiB if it cannot be determined.
func AvailableMemory() int64 {
	v, err := mem.VirtualMemory()
	if err != nil || v == nil || v.Available == 0 {
		return fallbackAvailableBytes
	}
	return int64(v.Available)
}

// Calculate derives RestoreSettings' sizing fields from availableBytes and
// the worker concurrency jobs, per the fixed formulas:
//
//	usable = 0.75 * available; perWorker = usable / max(1, jobs)
//	batchSize = clamp(min(perWorker/4, 256MiB) / 1KiB, 100, 4000)
//	cacheSizeKB = min(65536, (perWorker/4) / 1KiB)
//	maxRowsPerCommit = 5000 if perWorker < 512MiB else 10000
func Calculate(availableBytes int64, jobs int) Settings {
	if jobs < 1 {
		jobs = 1
	}
	usable := float64(availableBytes) * usableFraction
	perWorker := usable / float64(jobs)

	batchBytes := perWorker / 4
	if batchBytes > maxPerWorkerBatchBytes {
		batchBytes = maxPerWorkerBatchBytes
	}
	batchSize := int(batchBytes / bytesPerKiB)
	if batchSize < minBatchSize {
		batchSize = minBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	cacheSizeKB := int((perWorker / 4) / bytesPerKiB)
	if cacheSizeKB > maxCacheSizeKB {
		cacheSizeKB = maxCacheSizeKB
	}

	maxRowsPerCommit := maxRowsPerCommitDefault
	if perWorker < lowMemoryThresholdBytes {
		maxRowsPerCommit = maxRowsPerCommitLowMem
	}

	return Settings{
		BatchSize:        batchSize,
		CacheSizeKB:      cacheSizeKB,
		MaxRowsPerCommit: maxRowsPerCommit,
	}
}

// CalculateFromSystem is a convenience wrapper around Calculate using the
// OS-reported available memory.
func CalculateFromSystem(jobs int) Settings {
	return Calculate(AvailableMemory(), jobs)
}
