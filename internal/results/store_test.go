package results

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func sampleResult(taskID string, completedAt time.Time) *Result {
	return &Result{
		TaskID:   taskID,
		Subjects: []string{"London Breed"},
		Issues:   []string{"housing"},
		Depth:    "standard",
		Cards: []stance.StanceCard{
			{ID: "london-breed-housing-01", Question: "Q?"},
		},
		Sources:     []stance.Source{{Title: "Article", URL: "https://example.com"}},
		CompletedAt: completedAt,
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)

	saved := sampleResult("task-1", time.Now().UTC())
	require.NoError(t, store.Save(saved))

	loaded, err := store.Load("task-1")
	require.NoError(t, err)
	assert.Equal(t, saved.TaskID, loaded.TaskID)
	assert.Equal(t, saved.Cards, loaded.Cards)
	assert.Equal(t, saved.Sources, loaded.Sources)
}

func TestStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RejectsUnsafeTaskIDs(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"", "..", "a/b", `a\b`} {
		_, err := store.Load(id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(sampleResult("task-1", time.Now())))
	require.NoError(t, store.Delete("task-1"))

	_, err := store.Load("task-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete("task-1"), "deleting an absent result is not an error")
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	first := sampleResult("task-1", time.Now())
	require.NoError(t, store.Save(first))

	second := sampleResult("task-1", time.Now())
	second.Warnings = []string{"no sources found"}
	require.NoError(t, store.Save(second))

	loaded, err := store.Load("task-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"no sources found"}, loaded.Warnings)
}

func TestStore_Sweep(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleResult("fresh", time.Now().UTC())))
	require.NoError(t, store.Save(sampleResult("stale", time.Now().UTC().Add(-48*time.Hour))))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{"), 0o644))

	removed, err := store.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = store.Load("fresh")
	assert.NoError(t, err)
	_, err = store.Load("stale")
	assert.ErrorIs(t, err, ErrNotFound)
}
