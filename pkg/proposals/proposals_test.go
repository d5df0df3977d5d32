package proposals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachhq/coach/pkg/fingerprint"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func testCandidate(id, fp string) Candidate {
	return Candidate{
		ID:            id,
		Title:         "Use merge queue flags",
		CandidateType: "rule",
		Trigger:       "when using gh pr merge on a repo with merge queue enabled",
		Action:        "use gh pr merge --auto instead of --squash flags",
		Confidence:    0.85,
		Fingerprint:   fp,
	}
}

func TestAddAndPending(t *testing.T) {
	s := newTestStore(t)

	added, err := s.Add([]Candidate{testCandidate("aaaa1111", "fp-1")})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, StatusPending, pending[0].Status)
	assert.False(t, pending[0].CreatedAt.IsZero())

	last, err := s.LastProposal()
	require.NoError(t, err)
	assert.NotNil(t, last)
}

func TestAddDeduplicatesByFingerprint(t *testing.T) {
	s := newTestStore(t)

	added, err := s.Add([]Candidate{testCandidate("aaaa1111", "fp-1")})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, err = s.Add([]Candidate{testCandidate("bbbb2222", "fp-1")})
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestFindByPrefix(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add([]Candidate{
		testCandidate("aaaa1111", "fp-1"),
		testCandidate("abbb2222", "fp-2"),
	})
	require.NoError(t, err)

	c, status, err := s.Find("aaaa")
	require.NoError(t, err)
	assert.Equal(t, "aaaa1111", c.ID)
	assert.Equal(t, StatusPending, status)

	_, _, err = s.Find("a")
	assert.ErrorIs(t, err, ErrAmbiguousID)

	_, _, err = s.Find("zzzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApprove(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add([]Candidate{testCandidate("aaaa1111", "fp-1")})
	require.NoError(t, err)

	c, err := s.Approve("aaaa", "/repo/.coach/RULES.md")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, c.Status)
	assert.NotNil(t, c.ApprovedAt)
	assert.Equal(t, "/repo/.coach/RULES.md", c.AppliedTo)

	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Approving again is a no-op, not an error.
	again, err := s.Approve("aaaa", "/repo/.coach/RULES.md")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, again.Status)
}

func TestApproveDoesNotClobberSiblings(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add([]Candidate{
		testCandidate("aaaa1111", "fp-1"),
		testCandidate("bbbb2222", "fp-2"),
	})
	require.NoError(t, err)

	c, err := s.Approve("aaaa", "target")
	require.NoError(t, err)
	assert.Equal(t, "aaaa1111", c.ID)

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "bbbb2222", pending[0].ID)
	assert.Equal(t, StatusPending, pending[0].Status)
}

func TestRejectAndTransitionGuards(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add([]Candidate{testCandidate("aaaa1111", "fp-1")})
	require.NoError(t, err)

	c, err := s.Reject("aaaa", "too vague")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, c.Status)
	assert.Equal(t, "too vague", c.RejectionReason)

	// Rejecting again is a no-op.
	_, err = s.Reject("aaaa", "still too vague")
	require.NoError(t, err)

	// A rejected candidate cannot be approved.
	_, err = s.Approve("aaaa", "target")
	assert.Error(t, err)
}

func TestUpdateRefingerprints(t *testing.T) {
	s := newTestStore(t)
	engine := fingerprint.NewEngine()

	c := testCandidate("aaaa1111", "")
	c.Fingerprint = engine.Fingerprint(c.CandidateType, c.Trigger, c.Action)
	_, err := s.Add([]Candidate{c})
	require.NoError(t, err)

	newAction := "enqueue via the merge queue API"
	updated, err := s.Update("aaaa", FieldUpdates{Action: &newAction})
	require.NoError(t, err)
	assert.Equal(t, newAction, updated.Action)
	assert.NotEqual(t, c.Fingerprint, updated.Fingerprint)
	assert.Equal(t, engine.Fingerprint(c.CandidateType, c.Trigger, newAction), updated.Fingerprint)
	assert.NotNil(t, updated.EditedAt)

	// Title-only edits keep the fingerprint.
	newTitle := "Better title"
	updated, err = s.Update("aaaa", FieldUpdates{Title: &newTitle})
	require.NoError(t, err)
	assert.Equal(t, engine.Fingerprint(c.CandidateType, c.Trigger, newAction), updated.Fingerprint)
}

func TestUpdateRequiresPending(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add([]Candidate{testCandidate("aaaa1111", "fp-1")})
	require.NoError(t, err)
	_, err = s.Approve("aaaa", "target")
	require.NoError(t, err)

	title := "nope"
	_, err = s.Update("aaaa", FieldUpdates{Title: &title})
	assert.Error(t, err)
}

func TestMarkPromotedIdempotent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add([]Candidate{testCandidate("aaaa1111", "fp-1")})
	require.NoError(t, err)
	_, err = s.Approve("aaaa", "target")
	require.NoError(t, err)

	c, err := s.MarkPromoted("aaaa", "/home/u/.coach/RULES.md")
	require.NoError(t, err)
	assert.Equal(t, "global", c.Scope)
	assert.NotNil(t, c.PromotedAt)

	again, err := s.MarkPromoted("aaaa", "/home/u/.coach/RULES.md")
	require.NoError(t, err)
	assert.Equal(t, c.PromotedAt, again.PromotedAt)
}

func TestFlagForReview(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add([]Candidate{testCandidate("aaaa1111", "fp-1")})
	require.NoError(t, err)

	require.NoError(t, s.FlagForReview("aaaa", "near-duplicate of bbbb2222"))
	require.NoError(t, s.FlagForReview("aaaa", "near-duplicate of bbbb2222"))

	pending, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"near-duplicate of bbbb2222"}, pending[0].ReviewFlags)
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Add([]Candidate{
		testCandidate("aaaa1111", "fp-1"),
		testCandidate("bbbb2222", "fp-2"),
		testCandidate("cccc3333", "fp-3"),
	})
	require.NoError(t, err)
	_, err = s.Approve("aaaa", "target")
	require.NoError(t, err)
	_, err = s.Reject("bbbb", "")
	require.NoError(t, err)

	p, a, r, last, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, p)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, r)
	assert.NotNil(t, last)
}

func TestLockReleasedAfterOperations(t *testing.T) {
	s := newTestStore(t)

	// Back-to-back locked operations succeed, proving the lock is released.
	for i := 0; i < 3; i++ {
		_, err := s.Add([]Candidate{testCandidate("", "fp-unique")})
		require.NoError(t, err)
	}
}
