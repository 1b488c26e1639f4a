package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "uploads.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	l.nowFunc = func() time.Time { return time.Unix(1_700_000_000, 0) }

	return l
}

func samplePending(path string) PendingSession {
	return PendingSession{
		LocalPath:  path,
		RunID:      "run-1",
		FolderID:   "folder-1",
		FolderName: "Heat (1995)",
		FileName:   "Heat.mkv",
		SessionURL: "https://upload.example/s1",
		TotalBytes: 1_000_000,
		ChunkSize:  327680,
		Offset:     327680,
		Mtime:      42,
		ExpiresAt:  time.Unix(1_700_100_000, 0),
	}
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads.db")

	l, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestPending_SaveAndLoad(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SavePending(ctx, samplePending("/media/Heat.mkv")))

	got, err := l.Pending(ctx, "/media/Heat.mkv")
	require.NoError(t, err)

	assert.Equal(t, "https://upload.example/s1", got.SessionURL)
	assert.Equal(t, int64(327680), got.Offset)
	assert.Equal(t, int64(42), got.Mtime)
	assert.Equal(t, int64(1_700_100_000), got.ExpiresAt.Unix())
	assert.Equal(t, int64(1_700_000_000), got.CreatedAt.Unix())
}

func TestPending_UpsertReplaces(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	p := samplePending("/media/Heat.mkv")
	require.NoError(t, l.SavePending(ctx, p))

	p.SessionURL = "https://upload.example/s2"
	p.Offset = 655360
	require.NoError(t, l.SavePending(ctx, p))

	all, err := l.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "https://upload.example/s2", all[0].SessionURL)
	assert.Equal(t, int64(655360), all[0].Offset)
}

func TestPending_UpdateOffsetIsMonotonic(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SavePending(ctx, samplePending("/a")))
	require.NoError(t, l.UpdateOffset(ctx, "/a", 983040))
	require.NoError(t, l.UpdateOffset(ctx, "/a", 0))

	got, err := l.Pending(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, int64(983040), got.Offset)

	assert.ErrorIs(t, l.UpdateOffset(ctx, "/missing", 1), ErrNotFound)
}

func TestPending_DeleteAndNotFound(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SavePending(ctx, samplePending("/a")))
	require.NoError(t, l.DeletePending(ctx, "/a"))
	require.NoError(t, l.DeletePending(ctx, "/a"))

	_, err := l.Pending(ctx, "/a")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := l.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPending_NoExpiry(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	p := samplePending("/a")
	p.ExpiresAt = time.Time{}
	require.NoError(t, l.SavePending(ctx, p))

	got, err := l.Pending(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.IsZero())
}

func TestHistory_RecordsPerRun(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordOutcome(ctx, HistoryEntry{
		RunID: "r1", LocalPath: "/a/ep01.mkv", RemoteFolder: "TV/Show", FileName: "ep01.mkv",
		ItemID: "i1", Size: 10, Elapsed: 1500 * time.Millisecond, Status: StatusCompleted,
	}))
	require.NoError(t, l.RecordOutcome(ctx, HistoryEntry{
		RunID: "r1", LocalPath: "/a/ep02.mkv", RemoteFolder: "TV/Show", FileName: "ep02.mkv",
		Size: 20, Status: StatusFailed, Error: "chunk 1 rejected",
	}))
	require.NoError(t, l.RecordOutcome(ctx, HistoryEntry{RunID: "r2", LocalPath: "/b", Status: StatusSkipped}))

	got, err := l.History(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "ep01.mkv", got[0].FileName)
	assert.Equal(t, "i1", got[0].ItemID)
	assert.Equal(t, 1500*time.Millisecond, got[0].Elapsed)
	assert.Equal(t, int64(1_700_000_000), got[0].FinishedAt.Unix())

	assert.Equal(t, StatusFailed, got[1].Status)
	assert.Equal(t, "chunk 1 rejected", got[1].Error)
	assert.Empty(t, got[1].ItemID)
}

func TestHistory_RejectsUnknownStatus(t *testing.T) {
	l := newTestLedger(t)

	err := l.RecordOutcome(context.Background(), HistoryEntry{RunID: "r", LocalPath: "/a", Status: "bogus"})
	assert.Error(t, err)
}
