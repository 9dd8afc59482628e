package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := New(filepath.Join(t.TempDir(), "outcomes.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func sampleOutcome(userID string) *Outcome {
	return &Outcome{
		ID:           uuid.New().String(),
		UserID:       userID,
		IntentKind:   "coding_request",
		Repository:   "api",
		Branch:       "sms/20250114_093045",
		Instruction:  "add a healthcheck endpoint",
		FilesChanged: []string{"internal/api/health.go", "internal/api/health_test.go"},
		CommitDone:   true,
		Pushed:       true,
		AttemptCount: 1,
		Output:       "done",
		DurationMs:   4200,
	}
}

func TestSaveAndGet(t *testing.T) {
	a := newTestArchive(t)

	o := sampleOutcome("u1")
	require.NoError(t, a.Save(o))
	assert.NotZero(t, o.CreatedAt)

	got, err := a.Get(o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.FilesChanged, got.FilesChanged)
	assert.True(t, got.CommitDone)
	assert.True(t, got.Pushed)
	assert.Equal(t, "", got.ErrorCode)
}

func TestGet_Missing(t *testing.T) {
	a := newTestArchive(t)
	got, err := a.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSave_FailureOutcome(t *testing.T) {
	a := newTestArchive(t)

	o := sampleOutcome("u1")
	o.Pushed = false
	o.ErrorCode = "git_exhausted"
	o.AttemptCount = 5
	o.FilesChanged = nil
	require.NoError(t, a.Save(o))

	got, err := a.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, "git_exhausted", got.ErrorCode)
	assert.Equal(t, 5, got.AttemptCount)
	assert.Empty(t, got.FilesChanged)
}

func TestListRecent_OrderAndFilter(t *testing.T) {
	a := newTestArchive(t)

	base := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		o := sampleOutcome("u1")
		o.CreatedAt = base + int64(i)
		require.NoError(t, a.Save(o))
	}
	other := sampleOutcome("u2")
	other.CreatedAt = base + 100
	require.NoError(t, a.Save(other))

	got, err := a.ListRecent("u1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base+4, got[0].CreatedAt)
	for _, o := range got {
		assert.Equal(t, "u1", o.UserID)
	}

	all, err := a.ListRecent("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, "u2", all[0].UserID)
}

func TestPrune(t *testing.T) {
	a := newTestArchive(t)

	old := sampleOutcome("u1")
	old.CreatedAt = time.Now().Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, a.Save(old))

	fresh := sampleOutcome("u1")
	require.NoError(t, a.Save(fresh))

	removed, err := a.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := a.Get(old.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = a.Get(fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
