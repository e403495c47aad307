package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateClampsToMinBatchSize(t *testing.T) {
	s := Calculate(1*bytesPerMiB, 16)
	assert.Equal(t, minBatchSize, s.BatchSize)
}

func TestCalculateClampsToMaxBatchSize(t *testing.T) {
	s := Calculate(1024*bytesPerGiB, 1)
	assert.Equal(t, maxBatchSize, s.BatchSize)
}

func TestCalculateCacheSizeCapped(t *testing.T) {
	s := Calculate(1024*bytesPerGiB, 1)
	assert.Equal(t, maxCacheSizeKB, s.CacheSizeKB)
}

func TestCalculateMaxRowsPerCommitLowMemory(t *testing.T) {
	s := Calculate(1*bytesPerGiB, 8)
	assert.Equal(t, maxRowsPerCommitLowMem, s.MaxRowsPerCommit)
}

func TestCalculateMaxRowsPerCommitHighMemory(t *testing.T) {
	s := Calculate(64*bytesPerGiB, 2)
	assert.Equal(t, maxRowsPerCommitDefault, s.MaxRowsPerCommit)
}

func TestCalculateDividesByJobs(t *testing.T) {
	single := Calculate(8*bytesPerGiB, 1)
	quad := Calculate(8*bytesPerGiB, 4)
	assert.GreaterOrEqual(t, single.CacheSizeKB, quad.CacheSizeKB)
}

func TestCalculateJobsBelowOneTreatedAsOne(t *testing.T) {
	zero := Calculate(8*bytesPerGiB, 0)
	one := Calculate(8*bytesPerGiB, 1)
	assert.Equal(t, one, zero)
}
