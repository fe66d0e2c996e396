package memutils

import (
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
)

func TestStatisticsPrintJson(t *testing.T) {
	var stats Statistics
	stats.BlockCount = 2
	stats.BlockBytes = 2048
	stats.AllocationCount = 3
	stats.AllocationBytes = 300

	writer := jwriter.NewWriter()
	obj := writer.Object()
	stats.PrintJson(&obj)
	obj.End()

	out := string(writer.Bytes())
	require.True(t, json.Valid([]byte(out)), "invalid json: %s", out)
	require.Contains(t, out, `"BlockCount":2`)
	require.Contains(t, out, `"AllocationBytes":300`)
}

func TestDetailedStatisticsPrintJson(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()
	stats.BlockCount = 1
	stats.BlockBytes = 1024
	stats.AddAllocation(64)
	stats.AddUnusedRange(128)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	stats.PrintJson(&obj)
	obj.End()

	// the embedded summary and the detail fields land in the same object,
	// so the comma state must survive the nested call
	out := string(writer.Bytes())
	require.True(t, json.Valid([]byte(out)), "invalid json: %s", out)
	require.Contains(t, out, `"AllocationBytes":64,"UnusedRangeCount":1`)

	var decoded map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, 1, decoded["UnusedRangeCount"])
	require.Equal(t, 64, decoded["AllocationBytes"])
}
