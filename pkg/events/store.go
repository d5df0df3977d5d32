// Package events provides the append-only friction event store backed by the
// shared SQLite database. Events are immutable after append; only the
// processed flag flips, once, after the aggregator has durably written the
// derived candidates.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/coachhq/coach/pkg/signal"
)

// Timestamps are stored as TEXT and ordered lexicographically, so the
// fractional seconds must be fixed width. RFC3339Nano strips trailing zeros
// and would sort .12 before .1.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Event is a single stored friction signal observation.
type Event struct {
	ID         string
	Timestamp  time.Time
	Phase      signal.Phase
	SignalType signal.SignalType
	RepoID     string
	Content    string // JSON-encoded signal payload
	Context    string
	SessionID  string
	Processed  bool
}

// Signal decodes the stored signal payload.
func (e *Event) Signal() (*signal.Signal, error) {
	var s signal.Signal
	if err := json.Unmarshal([]byte(e.Content), &s); err != nil {
		return nil, errors.Wrapf(err, "malformed event content for event %s", e.ID)
	}
	return &s, nil
}

type eventRecord struct {
	ID         string `db:"id"`
	Timestamp  string `db:"timestamp"`
	Phase      string `db:"phase"`
	SignalType string `db:"signal_type"`
	RepoID     string `db:"repo_id"`
	Content    string `db:"content"`
	Context    string `db:"context"`
	SessionID  string `db:"session_id"`
	Processed  int    `db:"processed"`
}

func (r *eventRecord) toEvent() (Event, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return Event{}, errors.Wrapf(err, "invalid timestamp for event %s", r.ID)
	}
	return Event{
		ID:         r.ID,
		Timestamp:  ts,
		Phase:      signal.Phase(r.Phase),
		SignalType: signal.SignalType(r.SignalType),
		RepoID:     r.RepoID,
		Content:    r.Content,
		Context:    r.Context,
		SessionID:  r.SessionID,
		Processed:  r.Processed != 0,
	}, nil
}

// Store persists events in the shared database.
type Store struct {
	db *sqlx.DB
}

// NewStore creates an event store over an already opened database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Append stores a new event in a single atomic insert. A missing ID or
// timestamp is filled in.
func (s *Store) Append(ctx context.Context, event Event) (string, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SignalType == "" {
		return "", errors.New("event signal type is required")
	}
	if event.RepoID == "" {
		return "", errors.New("event repo id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, timestamp, phase, signal_type, repo_id, content, context, session_id, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		event.ID,
		event.Timestamp.Format(timestampFormat),
		string(event.Phase),
		string(event.SignalType),
		event.RepoID,
		event.Content,
		event.Context,
		event.SessionID,
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to append event")
	}
	return event.ID, nil
}

// AppendSignal encodes a detected signal and appends it as an event.
func (s *Store) AppendSignal(ctx context.Context, phase signal.Phase, repoID, sessionID string, sig signal.Signal) (string, error) {
	content, err := json.Marshal(sig)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode signal")
	}
	return s.Append(ctx, Event{
		Phase:      phase,
		SignalType: sig.Type,
		RepoID:     repoID,
		SessionID:  sessionID,
		Content:    string(content),
	})
}

// QueryUnprocessed returns unprocessed events for a repo ordered by timestamp
// ascending, optionally filtered by signal type.
func (s *Store) QueryUnprocessed(ctx context.Context, repoID string, types ...signal.SignalType) ([]Event, error) {
	query := "SELECT * FROM events WHERE processed = 0 AND repo_id = ?"
	args := []interface{}{repoID}

	if len(types) > 0 {
		typeStrs := make([]string, len(types))
		for i, t := range types {
			typeStrs[i] = string(t)
		}
		inQuery, inArgs, err := sqlx.In("SELECT * FROM events WHERE processed = 0 AND repo_id = ? AND signal_type IN (?)", repoID, typeStrs)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build query")
		}
		query, args = inQuery, inArgs
	}
	query += " ORDER BY timestamp ASC"

	var records []eventRecord
	if err := s.db.SelectContext(ctx, &records, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to query unprocessed events")
	}

	events := make([]Event, 0, len(records))
	for _, r := range records {
		ev, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// MarkProcessed flips the processed flag for the given event ids. Already
// processed events are untouched, making the operation idempotent.
func (s *Store) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In("UPDATE events SET processed = 1 WHERE processed = 0 AND id IN (?)", ids)
	if err != nil {
		return errors.Wrap(err, "failed to build update")
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "failed to mark events processed")
	}
	return nil
}

// CountsByType returns event counts per signal type for a repo, split into
// unprocessed and total.
func (s *Store) CountsByType(ctx context.Context, repoID string) (unprocessed, total map[signal.SignalType]int, err error) {
	rows := []struct {
		SignalType string `db:"signal_type"`
		Processed  int    `db:"processed"`
		N          int    `db:"n"`
	}{}
	err = s.db.SelectContext(ctx, &rows,
		"SELECT signal_type, processed, COUNT(*) AS n FROM events WHERE repo_id = ? GROUP BY signal_type, processed", repoID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to count events")
	}

	unprocessed = make(map[signal.SignalType]int)
	total = make(map[signal.SignalType]int)
	for _, row := range rows {
		t := signal.SignalType(row.SignalType)
		total[t] += row.N
		if row.Processed == 0 {
			unprocessed[t] += row.N
		}
	}
	return unprocessed, total, nil
}
