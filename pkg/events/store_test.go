package events

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachhq/coach/pkg/db"
	"github.com/coachhq/coach/pkg/db/migrations"
	"github.com/coachhq/coach/pkg/signal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "coach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	runner := db.NewMigrationRunner(database)
	require.NoError(t, runner.Run(ctx, migrations.GetMigrations()))

	return NewStore(database)
}

func appendSignal(t *testing.T, s *Store, repoID string, sig signal.Signal) string {
	t.Helper()
	id, err := s.AppendSignal(context.Background(), signal.PhasePrePrompt, repoID, "session-1", sig)
	require.NoError(t, err)
	return id
}

func TestAppendAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := appendSignal(t, s, "repo-a", signal.Signal{
		Type:       signal.UserCorrection,
		Content:    "no, use the staging config",
		Confidence: 0.5,
	})
	assert.NotEmpty(t, id)

	events, err := s.QueryUnprocessed(ctx, "repo-a")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, signal.UserCorrection, events[0].SignalType)
	assert.False(t, events[0].Processed)

	sig, err := events[0].Signal()
	require.NoError(t, err)
	assert.Equal(t, "no, use the staging config", sig.Content)
}

func TestAppendValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, Event{RepoID: "repo-a"})
	assert.Error(t, err)

	_, err = s.Append(ctx, Event{SignalType: signal.UserCorrection})
	assert.Error(t, err)
}

func TestQueryScopedByRepo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendSignal(t, s, "repo-a", signal.Signal{Type: signal.UserCorrection, Content: "a"})
	appendSignal(t, s, "repo-b", signal.Signal{Type: signal.UserCorrection, Content: "b"})

	events, err := s.QueryUnprocessed(ctx, "repo-a")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "repo-a", events[0].RepoID)
}

func TestQueryFilteredByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendSignal(t, s, "repo-a", signal.Signal{Type: signal.UserCorrection, Content: "a"})
	appendSignal(t, s, "repo-a", signal.Signal{Type: signal.CommandFailure, Command: "git push"})

	events, err := s.QueryUnprocessed(ctx, "repo-a", signal.CommandFailure)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, signal.CommandFailure, events[0].SignalType)
}

func TestQueryOrderedByTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		appendSignal(t, s, "repo-a", signal.Signal{Type: signal.UserCorrection, Content: "msg"})
	}

	events, err := s.QueryUnprocessed(ctx, "repo-a")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestQueryOrdersSubSecondTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 5, 0, time.UTC)

	// Appended out of order. With trailing fractional zeros stripped the
	// stored .12 would sort lexicographically before .1.
	late, err := s.Append(ctx, Event{
		Timestamp:  base.Add(120 * time.Millisecond),
		SignalType: signal.CommandFailure,
		RepoID:     "repo-a",
		Content:    "{}",
	})
	require.NoError(t, err)

	early, err := s.Append(ctx, Event{
		Timestamp:  base.Add(100 * time.Millisecond),
		SignalType: signal.CommandFailure,
		RepoID:     "repo-a",
		Content:    "{}",
	})
	require.NoError(t, err)

	events, err := s.QueryUnprocessed(ctx, "repo-a")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, early, events[0].ID)
	assert.Equal(t, late, events[1].ID)
}

func TestMarkProcessedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := appendSignal(t, s, "repo-a", signal.Signal{Type: signal.UserCorrection, Content: "a"})

	require.NoError(t, s.MarkProcessed(ctx, []string{id}))

	events, err := s.QueryUnprocessed(ctx, "repo-a")
	require.NoError(t, err)
	assert.Empty(t, events)

	// Marking again is a no-op, not an error.
	require.NoError(t, s.MarkProcessed(ctx, []string{id}))
	require.NoError(t, s.MarkProcessed(ctx, nil))
}

func TestCountsByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := appendSignal(t, s, "repo-a", signal.Signal{Type: signal.UserCorrection, Content: "a"})
	appendSignal(t, s, "repo-a", signal.Signal{Type: signal.UserCorrection, Content: "b"})
	appendSignal(t, s, "repo-a", signal.Signal{Type: signal.CommandFailure, Command: "git push"})

	require.NoError(t, s.MarkProcessed(ctx, []string{id}))

	unprocessed, total, err := s.CountsByType(ctx, "repo-a")
	require.NoError(t, err)
	assert.Equal(t, 2, total[signal.UserCorrection])
	assert.Equal(t, 1, unprocessed[signal.UserCorrection])
	assert.Equal(t, 1, total[signal.CommandFailure])
}

func TestMalformedContentSurfaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, Event{
		SignalType: signal.UserCorrection,
		RepoID:     "repo-a",
		Content:    "{not json",
	})
	require.NoError(t, err)

	events, err := s.QueryUnprocessed(ctx, "repo-a")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)

	_, err = events[0].Signal()
	assert.Error(t, err)

	// A well-formed payload round-trips.
	raw, err := json.Marshal(signal.Signal{Type: signal.UserCorrection, Content: "ok"})
	require.NoError(t, err)
	assert.NotNil(t, raw)
}
