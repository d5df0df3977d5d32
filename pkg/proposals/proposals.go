// Package proposals provides the human-facing working set of learning
// candidates, persisted as a lock-file-guarded JSON document. Decided
// candidates are archived within the document, never deleted.
package proposals

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/coachhq/coach/pkg/fingerprint"
)

const (
	candidatesFile = "candidates.json"
	lockSuffix     = ".lock"
	lockRetryDelay = 100 * time.Millisecond
	lockTimeout    = 5 * time.Second
)

// Candidate statuses in the proposal store.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

var (
	// ErrNotFound is returned when no candidate matches an id prefix.
	ErrNotFound = errors.New("candidate not found")
	// ErrAmbiguousID is returned when an id prefix matches several candidates.
	ErrAmbiguousID = errors.New("candidate id prefix is ambiguous")
)

// Evidence links a candidate to the events that produced it.
type Evidence struct {
	EventID string `json:"event_id,omitempty"`
	Quote   string `json:"quote,omitempty"`
	Command string `json:"command,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
}

// Candidate is one learning candidate in the working set.
type Candidate struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	CandidateType   string     `json:"candidate_type"`
	Trigger         string     `json:"trigger"`
	Action          string     `json:"action"`
	Evidence        []Evidence `json:"evidence,omitempty"`
	Confidence      float64    `json:"confidence"`
	Status          string     `json:"status"`
	Scope           string     `json:"scope,omitempty"`
	Fingerprint     string     `json:"fingerprint"`
	ReviewFlags     []string   `json:"review_flags,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	PromotedAt      *time.Time `json:"promoted_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	AppliedTo       string     `json:"applied_to,omitempty"`
	GlobalFile      string     `json:"global_file,omitempty"`
}

// FieldUpdates carries optional edits to a pending candidate.
type FieldUpdates struct {
	Title         *string
	Trigger       *string
	Action        *string
	CandidateType *string
}

type document struct {
	Pending      []Candidate `json:"pending"`
	Approved     []Candidate `json:"approved"`
	Rejected     []Candidate `json:"rejected"`
	LastProposal *time.Time  `json:"last_proposal"`
}

// Store persists the candidate working set under a base directory.
type Store struct {
	basePath string
	engine   *fingerprint.Engine
}

// NewStore creates a proposal store rooted at basePath.
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create proposals directory")
	}
	return &Store{basePath: basePath, engine: fingerprint.NewEngine()}, nil
}

func (s *Store) filePath() string {
	return filepath.Join(s.basePath, candidatesFile)
}

func (s *Store) lockPath() string {
	return s.filePath() + lockSuffix
}

// acquireLock creates the lock file exclusively, retrying until timeout.
func (s *Store) acquireLock() error {
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return errors.Wrap(err, "failed to create lock file")
		}
		if time.Now().After(deadline) {
			return errors.Errorf("timed out waiting for lock %s", s.lockPath())
		}
		time.Sleep(lockRetryDelay)
	}
}

func (s *Store) releaseLock() {
	os.Remove(s.lockPath())
}

func (s *Store) load() (*document, error) {
	doc := &document{
		Pending:  []Candidate{},
		Approved: []Candidate{},
		Rejected: []Candidate{},
	}

	data, err := os.ReadFile(s.filePath())
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read candidates file")
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse candidates file")
	}
	return doc, nil
}

func (s *Store) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode candidates")
	}

	tmp := s.filePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write candidates file")
	}
	if err := os.Rename(tmp, s.filePath()); err != nil {
		return errors.Wrap(err, "failed to replace candidates file")
	}
	return nil
}

// withLock runs fn against the loaded document and saves it back when fn
// reports the document changed.
func (s *Store) withLock(fn func(doc *document) (bool, error)) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	defer s.releaseLock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	changed, err := fn(doc)
	if err != nil {
		return err
	}
	if changed {
		return s.save(doc)
	}
	return nil
}

// Add appends candidates whose fingerprints are not already pending and
// stamps last_proposal. It returns the number actually added.
func (s *Store) Add(candidates []Candidate) (int, error) {
	added := 0
	err := s.withLock(func(doc *document) (bool, error) {
		existing := make(map[string]struct{}, len(doc.Pending))
		for _, c := range doc.Pending {
			existing[c.Fingerprint] = struct{}{}
		}

		for _, c := range candidates {
			if _, dup := existing[c.Fingerprint]; dup {
				continue
			}
			if c.ID == "" {
				c.ID = uuid.New().String()[:8]
			}
			if c.Status == "" {
				c.Status = StatusPending
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = time.Now().UTC()
			}
			doc.Pending = append(doc.Pending, c)
			existing[c.Fingerprint] = struct{}{}
			added++
		}

		now := time.Now().UTC()
		doc.LastProposal = &now
		return true, nil
	})
	return added, err
}

// Pending returns the pending candidates.
func (s *Store) Pending() ([]Candidate, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Pending, nil
}

// Find locates a candidate by id prefix across all states.
func (s *Store) Find(idPrefix string) (*Candidate, string, error) {
	doc, err := s.load()
	if err != nil {
		return nil, "", err
	}
	return findInDoc(doc, idPrefix)
}

func findInDoc(doc *document, idPrefix string) (*Candidate, string, error) {
	var found *Candidate
	var status string

	for _, set := range []struct {
		list   []Candidate
		status string
	}{
		{doc.Pending, StatusPending},
		{doc.Approved, StatusApproved},
		{doc.Rejected, StatusRejected},
	} {
		for i := range set.list {
			if strings.HasPrefix(set.list[i].ID, idPrefix) {
				if found != nil {
					return nil, "", errors.Wrapf(ErrAmbiguousID, "prefix %q", idPrefix)
				}
				found = &set.list[i]
				status = set.status
			}
		}
	}

	if found == nil {
		return nil, "", errors.Wrapf(ErrNotFound, "prefix %q", idPrefix)
	}
	return found, status, nil
}

// Approve moves a pending candidate to approved and records where it was
// applied. Approving an already approved candidate is a no-op; a rejected
// candidate cannot be approved.
func (s *Store) Approve(idPrefix, appliedTo string) (*Candidate, error) {
	var result *Candidate
	err := s.withLock(func(doc *document) (bool, error) {
		c, status, err := findInDoc(doc, idPrefix)
		if err != nil {
			return false, err
		}
		if status == StatusApproved {
			result = c
			return false, nil
		}
		if status == StatusRejected {
			return false, errors.Errorf("candidate %s is already rejected", c.ID)
		}

		cand := *c
		doc.Pending = removeByID(doc.Pending, cand.ID)
		now := time.Now().UTC()
		cand.Status = StatusApproved
		cand.ApprovedAt = &now
		cand.AppliedTo = appliedTo
		doc.Approved = append(doc.Approved, cand)
		result = &cand
		return true, nil
	})
	return result, err
}

// Reject moves a pending candidate to rejected with an optional reason.
// Rejecting an already rejected candidate is a no-op; an approved candidate
// cannot be rejected.
func (s *Store) Reject(idPrefix, reason string) (*Candidate, error) {
	var result *Candidate
	err := s.withLock(func(doc *document) (bool, error) {
		c, status, err := findInDoc(doc, idPrefix)
		if err != nil {
			return false, err
		}
		if status == StatusRejected {
			result = c
			return false, nil
		}
		if status == StatusApproved {
			return false, errors.Errorf("candidate %s is already approved", c.ID)
		}

		cand := *c
		doc.Pending = removeByID(doc.Pending, cand.ID)
		now := time.Now().UTC()
		cand.Status = StatusRejected
		cand.RejectedAt = &now
		cand.RejectionReason = reason
		doc.Rejected = append(doc.Rejected, cand)
		result = &cand
		return true, nil
	})
	return result, err
}

// Update edits a pending candidate and recomputes its fingerprint when the
// trigger, action, or type changed.
func (s *Store) Update(idPrefix string, updates FieldUpdates) (*Candidate, error) {
	var result *Candidate
	err := s.withLock(func(doc *document) (bool, error) {
		c, status, err := findInDoc(doc, idPrefix)
		if err != nil {
			return false, err
		}
		if status != StatusPending {
			return false, errors.Errorf("candidate %s is already %s, only pending candidates can be edited", c.ID, status)
		}

		refingerprint := false
		if updates.Title != nil {
			c.Title = *updates.Title
		}
		if updates.Trigger != nil {
			c.Trigger = *updates.Trigger
			refingerprint = true
		}
		if updates.Action != nil {
			c.Action = *updates.Action
			refingerprint = true
		}
		if updates.CandidateType != nil {
			c.CandidateType = *updates.CandidateType
			refingerprint = true
		}

		if refingerprint {
			c.Fingerprint = s.engine.Fingerprint(c.CandidateType, c.Trigger, c.Action)
		}
		now := time.Now().UTC()
		c.EditedAt = &now
		result = c
		return true, nil
	})
	return result, err
}

// MarkPromoted records that a candidate was applied to the global rules
// document. Repeating the promotion is a no-op.
func (s *Store) MarkPromoted(idPrefix, globalFile string) (*Candidate, error) {
	var result *Candidate
	err := s.withLock(func(doc *document) (bool, error) {
		c, _, err := findInDoc(doc, idPrefix)
		if err != nil {
			return false, err
		}
		if c.Scope == "global" {
			result = c
			return false, nil
		}

		now := time.Now().UTC()
		c.Scope = "global"
		c.PromotedAt = &now
		c.GlobalFile = globalFile
		result = c
		return true, nil
	})
	return result, err
}

// FlagForReview appends a review flag to a pending candidate.
func (s *Store) FlagForReview(idPrefix, flag string) error {
	return s.withLock(func(doc *document) (bool, error) {
		c, status, err := findInDoc(doc, idPrefix)
		if err != nil {
			return false, err
		}
		if status != StatusPending {
			return false, nil
		}
		for _, f := range c.ReviewFlags {
			if f == flag {
				return false, nil
			}
		}
		c.ReviewFlags = append(c.ReviewFlags, flag)
		return true, nil
	})
}

// LastProposal returns when candidates were last added, or nil.
func (s *Store) LastProposal() (*time.Time, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.LastProposal, nil
}

// Counts returns candidate counts per state and the last proposal time.
func (s *Store) Counts() (pending, approved, rejected int, last *time.Time, err error) {
	doc, err := s.load()
	if err != nil {
		return 0, 0, 0, nil, err
	}
	return len(doc.Pending), len(doc.Approved), len(doc.Rejected), doc.LastProposal, nil
}

func removeByID(list []Candidate, id string) []Candidate {
	out := list[:0]
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
