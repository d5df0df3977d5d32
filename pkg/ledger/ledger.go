// Package ledger tracks learning candidates across repositories. Entries are
// keyed by fingerprint; concurrent aggregation runs from different repos
// coordinate through a revision compare-and-write with bounded retries.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/coachhq/coach/pkg/scope"
)

// Candidate statuses tracked by the ledger.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusPromoted = "promoted"
)

const (
	casAttempts = 5
	casDelay    = 50 * time.Millisecond
)

// Fixed-width fractional seconds keep lexicographic TEXT ordering aligned
// with chronological ordering for first_seen and last_seen.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrConcurrentWrite is returned when a compare-and-write lost the race on
// every retry attempt.
var ErrConcurrentWrite = errors.New("concurrent ledger write: revision changed")

// Entry is one ledger row.
type Entry struct {
	Fingerprint    string
	NormalizedText string
	CandidateType  string
	CurrentScope   scope.Scope
	RepoIDs        []string
	SeenCount      int
	Status         string
	FirstSeen      time.Time
	LastSeen       time.Time
	Revision       int64
}

// HasRepo reports whether the entry has been observed in the given repo.
func (e *Entry) HasRepo(repoID string) bool {
	for _, id := range e.RepoIDs {
		if id == repoID {
			return true
		}
	}
	return false
}

// Decided reports whether a human has already ruled on this entry.
func (e *Entry) Decided() bool {
	return e.Status == StatusApproved || e.Status == StatusRejected || e.Status == StatusPromoted
}

type entryRecord struct {
	Fingerprint    string `db:"fingerprint"`
	NormalizedText string `db:"normalized_text"`
	CandidateType  string `db:"candidate_type"`
	CurrentScope   string `db:"current_scope"`
	RepoIDs        string `db:"repo_ids"`
	SeenCount      int    `db:"seen_count"`
	Status         string `db:"status"`
	FirstSeen      string `db:"first_seen"`
	LastSeen       string `db:"last_seen"`
	Revision       int64  `db:"revision"`
}

func (r *entryRecord) toEntry() (Entry, error) {
	var repoIDs []string
	if r.RepoIDs != "" {
		if err := json.Unmarshal([]byte(r.RepoIDs), &repoIDs); err != nil {
			return Entry{}, errors.Wrapf(err, "malformed repo_ids for fingerprint %s", r.Fingerprint)
		}
	}
	firstSeen, err := time.Parse(time.RFC3339Nano, r.FirstSeen)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "invalid first_seen for fingerprint %s", r.Fingerprint)
	}
	lastSeen, err := time.Parse(time.RFC3339Nano, r.LastSeen)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "invalid last_seen for fingerprint %s", r.Fingerprint)
	}
	return Entry{
		Fingerprint:    r.Fingerprint,
		NormalizedText: r.NormalizedText,
		CandidateType:  r.CandidateType,
		CurrentScope:   scope.Scope(r.CurrentScope),
		RepoIDs:        repoIDs,
		SeenCount:      r.SeenCount,
		Status:         r.Status,
		FirstSeen:      firstSeen,
		LastSeen:       lastSeen,
		Revision:       r.Revision,
	}, nil
}

// Promotion is one row of the promotions audit table.
type Promotion struct {
	ID          string
	Fingerprint string
	PromotedAt  time.Time
	FromScope   scope.Scope
	ToScope     scope.Scope
	RepoCount   int
}

type promotionRecord struct {
	ID          string `db:"id"`
	Fingerprint string `db:"fingerprint"`
	PromotedAt  string `db:"promoted_at"`
	FromScope   string `db:"from_scope"`
	ToScope     string `db:"to_scope"`
	RepoCount   int    `db:"repo_count"`
}

func (r *promotionRecord) toPromotion() (Promotion, error) {
	promotedAt, err := time.Parse(time.RFC3339Nano, r.PromotedAt)
	if err != nil {
		return Promotion{}, errors.Wrapf(err, "invalid promoted_at for promotion %s", r.ID)
	}
	return Promotion{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		PromotedAt:  promotedAt,
		FromScope:   scope.Scope(r.FromScope),
		ToScope:     scope.Scope(r.ToScope),
		RepoCount:   r.RepoCount,
	}, nil
}

// Stats summarizes ledger contents.
type Stats struct {
	Total             int
	ByStatus          map[string]int
	MultiRepo         int
	PromotionEligible int
	Promotions        int
}

// Store provides ledger operations over the shared database.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a ledger store over an already opened database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Get returns the entry for a fingerprint, or nil when absent.
func (s *Store) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	var record entryRecord
	err := s.db.GetContext(ctx, &record, "SELECT * FROM candidates WHERE fingerprint = ?", fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ledger entry")
	}
	entry, err := record.toEntry()
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Merge records an observation of a candidate from a repo. A new fingerprint
// inserts a fresh entry seeded from seed; an existing one adds the repo to
// the set, bumps the seen count, and refreshes last_seen. The update is a
// revision compare-and-write retried a bounded number of times, so re-running
// an aggregation batch is safe and concurrent writers converge.
func (s *Store) Merge(ctx context.Context, seed Entry, repoID string) (*Entry, error) {
	var merged *Entry

	err := retry.Do(
		func() error {
			existing, err := s.Get(ctx, seed.Fingerprint)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if existing == nil {
				entry, err := s.insert(ctx, seed, repoID)
				if err != nil {
					// Lost an insert race: re-read and update instead.
					return err
				}
				merged = entry
				return nil
			}

			entry, err := s.update(ctx, *existing, repoID)
			if err != nil {
				return err
			}
			merged = entry
			return nil
		},
		retry.Attempts(casAttempts),
		retry.Delay(casDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to merge ledger entry")
	}
	return merged, nil
}

func (s *Store) insert(ctx context.Context, seed Entry, repoID string) (*Entry, error) {
	now := time.Now().UTC()
	repoIDs, err := json.Marshal([]string{repoID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode repo ids")
	}

	status := seed.Status
	if status == "" {
		status = StatusPending
	}
	currentScope := seed.CurrentScope
	if currentScope == "" {
		currentScope = scope.Project
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO candidates
		(fingerprint, normalized_text, candidate_type, current_scope, repo_ids, seen_count, status, first_seen, last_seen, revision)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, 1)`,
		seed.Fingerprint,
		seed.NormalizedText,
		seed.CandidateType,
		string(currentScope),
		string(repoIDs),
		status,
		now.Format(timestampFormat),
		now.Format(timestampFormat),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert ledger entry")
	}

	return s.Get(ctx, seed.Fingerprint)
}

func (s *Store) update(ctx context.Context, existing Entry, repoID string) (*Entry, error) {
	repoIDs := existing.RepoIDs
	if !existing.HasRepo(repoID) {
		repoIDs = append(repoIDs, repoID)
	}
	encoded, err := json.Marshal(repoIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode repo ids")
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE candidates
		SET repo_ids = ?, seen_count = seen_count + 1, last_seen = ?, revision = revision + 1
		WHERE fingerprint = ? AND revision = ?`,
		string(encoded),
		now.Format(timestampFormat),
		existing.Fingerprint,
		existing.Revision,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update ledger entry")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to check update result")
	}
	if affected == 0 {
		return nil, ErrConcurrentWrite
	}

	return s.Get(ctx, existing.Fingerprint)
}

// SetStatus sets the status of an entry. Setting the same status again is a
// no-op.
func (s *Store) SetStatus(ctx context.Context, fingerprint, status string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE candidates SET status = ?, last_seen = ?, revision = revision + 1 WHERE fingerprint = ? AND status != ?",
		status, time.Now().UTC().Format(timestampFormat), fingerprint, status)
	if err != nil {
		return errors.Wrap(err, "failed to set ledger status")
	}
	if _, err := result.RowsAffected(); err != nil {
		return errors.Wrap(err, "failed to check status update")
	}
	return nil
}

// SetScope updates the current scope of an entry.
func (s *Store) SetScope(ctx context.Context, fingerprint string, sc scope.Scope) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE candidates SET current_scope = ?, revision = revision + 1 WHERE fingerprint = ?",
		string(sc), fingerprint)
	return errors.Wrap(err, "failed to set ledger scope")
}

// EligibleForPromotion returns entries seen in at least threshold repos that
// are not yet global and not rejected or promoted.
func (s *Store) EligibleForPromotion(ctx context.Context, threshold int) ([]Entry, error) {
	var records []entryRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT * FROM candidates
		WHERE json_array_length(repo_ids) >= ?
		AND current_scope != ?
		AND status NOT IN (?, ?)
		ORDER BY last_seen DESC`,
		threshold, string(scope.Global), StatusRejected, StatusPromoted)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query promotion candidates")
	}
	return toEntries(records)
}

// MarkPromoted flips an entry to promoted/global and records an audit row in
// the promotions table. Promoting an already promoted entry adds no audit row.
func (s *Store) MarkPromoted(ctx context.Context, fingerprint string) error {
	entry, err := s.Get(ctx, fingerprint)
	if err != nil {
		return err
	}
	if entry == nil {
		return errors.Errorf("ledger entry %s not found", fingerprint)
	}
	if entry.Status == StatusPromoted {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timestampFormat)
	_, err = tx.ExecContext(ctx,
		"UPDATE candidates SET status = ?, current_scope = ?, last_seen = ?, revision = revision + 1 WHERE fingerprint = ?",
		StatusPromoted, string(scope.Global), now, fingerprint)
	if err != nil {
		return errors.Wrap(err, "failed to mark entry promoted")
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO promotions (id, fingerprint, promoted_at, from_scope, to_scope, repo_count) VALUES (?, ?, ?, ?, ?, ?)",
		uuid.New().String(), fingerprint, now, string(entry.CurrentScope), string(scope.Global), len(entry.RepoIDs))
	if err != nil {
		return errors.Wrap(err, "failed to record promotion")
	}

	return tx.Commit()
}

// Promotions returns the promotion audit trail, most recent first.
func (s *Store) Promotions(ctx context.Context, limit int) ([]Promotion, error) {
	var records []promotionRecord
	err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM promotions ORDER BY promoted_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query promotions")
	}

	promotions := make([]Promotion, 0, len(records))
	for _, r := range records {
		p, err := r.toPromotion()
		if err != nil {
			return nil, err
		}
		promotions = append(promotions, p)
	}
	return promotions, nil
}

// GetStats returns summary statistics for the ledger.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[string]int)}

	if err := s.db.GetContext(ctx, &stats.Total, "SELECT COUNT(*) FROM candidates"); err != nil {
		return nil, errors.Wrap(err, "failed to count candidates")
	}

	rows := []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS n FROM candidates GROUP BY status"); err != nil {
		return nil, errors.Wrap(err, "failed to count by status")
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.N
	}

	if err := s.db.GetContext(ctx, &stats.MultiRepo,
		"SELECT COUNT(*) FROM candidates WHERE json_array_length(repo_ids) >= 2"); err != nil {
		return nil, errors.Wrap(err, "failed to count multi-repo candidates")
	}

	if err := s.db.GetContext(ctx, &stats.PromotionEligible, `
		SELECT COUNT(*) FROM candidates
		WHERE json_array_length(repo_ids) >= 2
		AND current_scope != ? AND status NOT IN (?, ?)`,
		string(scope.Global), StatusRejected, StatusPromoted); err != nil {
		return nil, errors.Wrap(err, "failed to count promotion-eligible candidates")
	}

	if err := s.db.GetContext(ctx, &stats.Promotions, "SELECT COUNT(*) FROM promotions"); err != nil {
		return nil, errors.Wrap(err, "failed to count promotions")
	}

	return stats, nil
}

// Search returns entries whose normalized text matches the query, most
// recently seen first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	var records []entryRecord
	err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM candidates WHERE normalized_text LIKE ? ORDER BY last_seen DESC LIMIT ?",
		"%"+query+"%", limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search ledger")
	}
	return toEntries(records)
}

// History returns the most recently touched entries.
func (s *Store) History(ctx context.Context, limit int) ([]Entry, error) {
	var records []entryRecord
	err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM candidates ORDER BY last_seen DESC LIMIT ?", limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ledger history")
	}
	return toEntries(records)
}

func toEntries(records []entryRecord) ([]Entry, error) {
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		e, err := r.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
