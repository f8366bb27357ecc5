package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectChanges(t *testing.T) {
	now := time.Now()
	known := NewRecord()
	known.MarkProcessed("a.md", "a.md", "h1", 3, now)
	known.MarkProcessed("b.md", "b.md", "h2", 1, now)
	known.MarkProcessed("gone.md", "gone.md", "h3", 2, now)

	current := []Item{
		{ID: "c.md", Name: "c.md", Signature: "h4"},
		{ID: "b.md", Name: "b.md", Signature: "h2-changed"},
		{ID: "a.md", Name: "a.md", Signature: "h1"},
	}

	changes := DetectChanges(known, current)
	require.Len(t, changes.New, 1)
	assert.Equal(t, "c.md", changes.New[0].ID)
	require.Len(t, changes.Modified, 1)
	assert.Equal(t, "b.md", changes.Modified[0].ID)
	require.Len(t, changes.Deleted, 1)
	assert.Equal(t, "gone.md", changes.Deleted[0].ID)
	assert.Equal(t, 2, changes.Deleted[0].ChunkCount)
	assert.False(t, changes.Empty())
	assert.Equal(t, []Item{current[0], current[1]}, changes.Pending())
}

func TestDetectChangesNoChanges(t *testing.T) {
	known := NewRecord()
	known.MarkProcessed("a.md", "a.md", "h1", 1, time.Now())

	changes := DetectChanges(known, []Item{{ID: "a.md", Signature: "h1"}})
	assert.True(t, changes.Empty())
}

func TestDetectChangesEdgeCases(t *testing.T) {
	t.Run("nil record treats everything as new", func(t *testing.T) {
		changes := DetectChanges(nil, []Item{{ID: "b"}, {ID: "a"}})
		require.Len(t, changes.New, 2)
		assert.Equal(t, "a", changes.New[0].ID)
	})

	t.Run("empty signature is a change", func(t *testing.T) {
		known := NewRecord()
		known.MarkProcessed("a", "a", "", 1, time.Now())
		changes := DetectChanges(known, []Item{{ID: "a", Signature: ""}})
		assert.Len(t, changes.Modified, 1)
	})

	t.Run("pending entry is retried", func(t *testing.T) {
		known := NewRecord()
		known.Entries["a"] = Entry{ID: "a", Signature: "h", Status: StatusPending}
		changes := DetectChanges(known, []Item{{ID: "a", Signature: "h"}})
		assert.Len(t, changes.Modified, 1)
	})

	t.Run("empty source deletes everything", func(t *testing.T) {
		known := NewRecord()
		known.MarkProcessed("b", "b", "h", 1, time.Now())
		known.MarkProcessed("a", "a", "h", 1, time.Now())
		changes := DetectChanges(known, nil)
		require.Len(t, changes.Deleted, 2)
		assert.Equal(t, "a", changes.Deleted[0].ID)
	})
}

func TestRecordHelpers(t *testing.T) {
	r := NewRecord()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r.MarkProcessed("b", "b.md", "s2", 4, at)
	r.MarkProcessed("a", "a.md", "s1", 2, at)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 6, r.TotalChunks())
	assert.Equal(t, at, r.LastUpdated)
	assert.Equal(t, "a", r.List()[0].ID)

	clone := r.Clone()
	clone.Remove("a")
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 1, clone.Len())

	_, ok := r.Remove("missing")
	assert.False(t, ok)
}

func TestJSONStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "processed_files.json")
	store := NewJSONStore(path)

	record, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, record.Len())

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	record.MarkProcessed("notes/a.md", "a.md", "abc", 3, at)
	require.NoError(t, store.Save(ctx, record))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"processed_files"`)
	assert.Contains(t, string(raw), `"total_chunks": 3`)
	assert.Contains(t, string(raw), `"total_processed": 1`)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	entry, ok := loaded.Get("notes/a.md")
	require.True(t, ok)
	assert.Equal(t, "abc", entry.Signature)
	assert.Equal(t, 3, entry.ChunkCount)
	assert.True(t, at.Equal(entry.ProcessedAt))
}

func TestJSONStoreLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_files.json")
	legacy := `{
  "processed_files": {
    "guide.md": {"file_id": "1AbC", "processed_date": "2024-01-02T03:04:05Z", "chunks_count": 7, "status": "processed", "content_hash": "d41d8"},
    "old.md": {"chunks_count": 1}
  },
  "last_updated": "2024-01-02T03:04:05Z",
  "total_processed": 2,
  "total_chunks": 8
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	record, err := NewJSONStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, record.Len())

	entry, ok := record.Get("1AbC")
	require.True(t, ok)
	assert.Equal(t, "guide.md", entry.Name)
	assert.Equal(t, 7, entry.ChunkCount)

	entry, ok = record.Get("old.md")
	require.True(t, ok)
	assert.Equal(t, StatusProcessed, entry.Status)
}

func TestJSONStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_files.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewJSONStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	r, err := store.Load(ctx)
	require.NoError(t, err)
	r.MarkProcessed("a", "a", "s", 1, time.Now())
	require.NoError(t, store.Save(ctx, r))

	r.Remove("a")
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	assert.Equal(t, 1, store.Saves())
}
