package memutils

import (
	"testing"

	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, AlignUp(0, 16))
	require.Equal(t, 16, AlignUp(1, 16))
	require.Equal(t, 16, AlignUp(16, 16))
	require.Equal(t, 32, AlignUp(17, 16))
	require.Equal(t, 100, AlignUp(100, 4))
	require.Equal(t, 104, AlignUp(101, 4))
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 0, AlignDown(0, 16))
	require.Equal(t, 0, AlignDown(15, 16))
	require.Equal(t, 16, AlignDown(16, 16))
	require.Equal(t, 16, AlignDown(31, 16))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(uint(16), "alignment"))
	require.NoError(t, CheckPow2(uint(1), "alignment"))

	err := CheckPow2(uint(24), "alignment")
	require.Error(t, err)
	require.True(t, cerrors.Is(err, PowerOfTwoError))
}

func TestCheckMultipleOf(t *testing.T) {
	require.NoError(t, CheckMultipleOf(64, 4, "size"))

	err := CheckMultipleOf(63, 4, "size")
	require.Error(t, err)
	require.True(t, cerrors.Is(err, ElementMultipleError))
}

func TestDetailedStatisticsAccumulate(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()

	stats.AddAllocation(100)
	stats.AddAllocation(50)
	stats.AddUnusedRange(200)

	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 150, stats.AllocationBytes)
	require.Equal(t, 50, stats.AllocationSizeMin)
	require.Equal(t, 100, stats.AllocationSizeMax)
	require.Equal(t, 1, stats.UnusedRangeCount)
	require.Equal(t, 200, stats.UnusedRangeSizeMin)
	require.Equal(t, 200, stats.UnusedRangeSizeMax)

	var merged DetailedStatistics
	merged.Clear()
	merged.AddAllocation(400)
	merged.AddDetailedStatistics(&stats)

	require.Equal(t, 3, merged.AllocationCount)
	require.Equal(t, 550, merged.AllocationBytes)
	require.Equal(t, 50, merged.AllocationSizeMin)
	require.Equal(t, 400, merged.AllocationSizeMax)
}
