package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
)

func TestFileSystemArchive_WritesOneFilePerEvent(t *testing.T) {
	root := t.TempDir()
	a := NewFileSystemArchive(root)

	event := v1.Event{
		TenantID:    "tenant-1",
		StreamID:    "stream-1",
		Topic:       v1.TopicMetrics,
		TimestampMs: 1_725_000_000_000,
		Payload:     map[string]interface{}{"latency_ms": 42.0},
		Importance:  v1.ImportanceNormal,
	}
	received := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	require.NoError(t, a.Archive(context.Background(), NewRecord(event, received, 123)))
	require.NoError(t, a.Archive(context.Background(), NewRecord(event, received, 123)))

	dir := filepath.Join(root, "tenant-1", "stream-1")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "identical events must not collide")

	for _, e := range entries {
		require.True(t, strings.HasPrefix(e.Name(), "1725000000000-"))
		require.True(t, strings.HasSuffix(e.Name(), ".json"))
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(data, &record))
	require.Equal(t, "tenant-1", record.Event.TenantID)
	require.Equal(t, received.UnixMilli(), record.ReceivedAt)
	require.Equal(t, int64(123), record.ClientTimestamp)
}

func TestFileSystemArchive_CancelledContext(t *testing.T) {
	a := NewFileSystemArchive(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Archive(ctx, Record{Event: v1.Event{TenantID: "t", StreamID: "s"}})
	require.Error(t, err)
}
