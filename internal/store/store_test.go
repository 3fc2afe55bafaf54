package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DataDir: t.TempDir(), KeepGenerations: 3})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(Config{DataDir: ":memory:", KeepGenerations: 1})
	require.NoError(t, err)
	defer s.Close()
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, (&Config{KeepGenerations: 3}).Validate())
	assert.Error(t, (&Config{DataDir: "/tmp/x", KeepGenerations: 0}).Validate())
	assert.NoError(t, (&Config{DataDir: "/tmp/x", KeepGenerations: 1}).Validate())
}

func TestSourceStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSourceState("docs")
	require.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.SaveSourceState(SourceState{
		ID: "docs", Fingerprint: "abc123", LastSuccess: now,
	}))

	st, err := s.GetSourceState("docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", st.ID)
	assert.Equal(t, "abc123", st.Fingerprint)
	assert.True(t, st.LastSuccess.Equal(now))

	// Upsert replaces.
	later := now.Add(time.Hour)
	require.NoError(t, s.SaveSourceState(SourceState{
		ID: "docs", Fingerprint: "def456", LastSuccess: later,
	}))
	st, err = s.GetSourceState("docs")
	require.NoError(t, err)
	assert.Equal(t, "def456", st.Fingerprint)
	assert.True(t, st.LastSuccess.Equal(later))
}

func TestListAndDeleteSourceStates(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.SaveSourceState(SourceState{ID: "a", Fingerprint: "fa", LastSuccess: now}))
	require.NoError(t, s.SaveSourceState(SourceState{ID: "b", Fingerprint: "fb", LastSuccess: now}))

	states, err := s.ListSourceStates()
	require.NoError(t, err)
	assert.Len(t, states, 2)
	assert.Equal(t, "fa", states["a"].Fingerprint)

	require.NoError(t, s.DeleteSourceState("a"))
	states, err = s.ListSourceStates()
	require.NoError(t, err)
	assert.Len(t, states, 1)
	assert.NotContains(t, states, "a")
}

func TestAppendAndListRuns(t *testing.T) {
	s := openTestStore(t)
	start := time.Now().UTC().Truncate(time.Second)

	for i, status := range []string{"promoted", "rejected", "failed"} {
		require.NoError(t, s.AppendRun(RunRecord{
			ID:         string(rune('a' + i)),
			Generation: uint64(i + 1),
			Status:     status,
			Sources:    map[string]string{"docs": "updated"},
			StartedAt:  start.Add(time.Duration(i) * time.Minute),
			FinishedAt: start.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}))
	}

	runs, err := s.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "failed", runs[0].Status, "newest first")
	assert.Equal(t, "rejected", runs[1].Status)
	assert.Equal(t, map[string]string{"docs": "updated"}, runs[0].Sources)
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{DataDir: dir, KeepGenerations: 3})
	require.NoError(t, err)
	require.NoError(t, s.SaveSourceState(SourceState{ID: "a", Fingerprint: "f", LastSuccess: time.Now()}))
	require.NoError(t, s.Close())

	// Reopen against the same directory: migrations skip, data survives.
	s, err = Open(Config{DataDir: dir, KeepGenerations: 3})
	require.NoError(t, err)
	defer s.Close()

	st, err := s.GetSourceState("a")
	require.NoError(t, err)
	assert.Equal(t, "f", st.Fingerprint)
}
