// Package gateway is the only write path from candidates to rules documents.
// Nothing is applied without an explicit human decision, and every decision is
// mirrored into the cross-repo ledger so other repos stop re-proposing it.
package gateway

import (
	"context"

	"github.com/pkg/errors"

	"github.com/coachhq/coach/pkg/fingerprint"
	"github.com/coachhq/coach/pkg/ledger"
	"github.com/coachhq/coach/pkg/logger"
	"github.com/coachhq/coach/pkg/proposals"
	"github.com/coachhq/coach/pkg/rules"
	"github.com/coachhq/coach/pkg/scope"
)

// Gateway applies review decisions for one repo.
type Gateway struct {
	props    *proposals.Store
	ledger   *ledger.Store
	engine   *fingerprint.Engine
	repoID   string
	repoRoot string
}

// New builds a gateway bound to the current repo.
func New(props *proposals.Store, led *ledger.Store, repoID, repoRoot string) *Gateway {
	return &Gateway{
		props:    props,
		ledger:   led,
		engine:   fingerprint.NewEngine(),
		repoID:   repoID,
		repoRoot: repoRoot,
	}
}

// Preview returns the candidate and the rules document diff its approval
// would produce, without writing anything.
func (g *Gateway) Preview(idPrefix string) (*proposals.Candidate, string, error) {
	cand, _, err := g.props.Find(idPrefix)
	if err != nil {
		return nil, "", err
	}

	path, err := g.targetPath(*cand)
	if err != nil {
		return nil, "", err
	}
	diff, err := rules.Open(path).Preview(*cand)
	if err != nil {
		return nil, "", err
	}
	return cand, diff, nil
}

// Approve appends the candidate to its scope's rules document, archives it as
// approved, and marks the ledger entry approved. The document write happens
// first: if the target is unwritable the candidate stays pending and the
// error surfaces unchanged.
func (g *Gateway) Approve(ctx context.Context, idPrefix string) (*proposals.Candidate, error) {
	cand, status, err := g.props.Find(idPrefix)
	if err != nil {
		return nil, err
	}
	if status == proposals.StatusApproved {
		return cand, nil
	}
	if status == proposals.StatusRejected {
		return nil, errors.Errorf("candidate %s is already rejected", cand.ID)
	}

	path, err := g.targetPath(*cand)
	if err != nil {
		return nil, err
	}
	if err := rules.Open(path).Append(*cand); err != nil {
		return nil, err
	}

	approved, err := g.props.Approve(cand.ID, path)
	if err != nil {
		return nil, err
	}
	if err := g.ledger.SetStatus(ctx, approved.Fingerprint, ledger.StatusApproved); err != nil {
		return nil, err
	}

	logger.G(ctx).WithFields(map[string]interface{}{
		"candidate": approved.ID,
		"target":    path,
	}).Info("candidate approved")
	return approved, nil
}

// Reject archives the candidate as rejected and mirrors the decision into the
// ledger so the same fingerprint is not proposed again anywhere.
func (g *Gateway) Reject(ctx context.Context, idPrefix, reason string) (*proposals.Candidate, error) {
	rejected, err := g.props.Reject(idPrefix, reason)
	if err != nil {
		return nil, err
	}
	if err := g.ledger.SetStatus(ctx, rejected.Fingerprint, ledger.StatusRejected); err != nil {
		return nil, err
	}

	logger.G(ctx).WithField("candidate", rejected.ID).Info("candidate rejected")
	return rejected, nil
}

// Edit updates a pending candidate. When the edit changed the fingerprint,
// the new fingerprint is seeded into the ledger so later observations of the
// edited form converge on it.
func (g *Gateway) Edit(ctx context.Context, idPrefix string, updates proposals.FieldUpdates) (*proposals.Candidate, error) {
	before, _, err := g.props.Find(idPrefix)
	if err != nil {
		return nil, err
	}
	oldFingerprint := before.Fingerprint

	edited, err := g.props.Update(idPrefix, updates)
	if err != nil {
		return nil, err
	}

	if edited.Fingerprint != oldFingerprint {
		_, err := g.ledger.Merge(ctx, ledger.Entry{
			Fingerprint:    edited.Fingerprint,
			NormalizedText: g.engine.Normalize(edited.Trigger + " " + edited.Action),
			CandidateType:  edited.CandidateType,
			CurrentScope:   scope.Scope(edited.Scope),
		}, g.repoID)
		if err != nil {
			return nil, err
		}
	}
	return edited, nil
}

// Promote appends an approved candidate to the global rules document and
// records the promotion in both stores. Promoting twice is a no-op.
func (g *Gateway) Promote(ctx context.Context, idPrefix string) (*proposals.Candidate, error) {
	cand, status, err := g.props.Find(idPrefix)
	if err != nil {
		return nil, err
	}
	if status == proposals.StatusRejected {
		return nil, errors.Errorf("candidate %s is rejected and cannot be promoted", cand.ID)
	}

	globalPath, err := rules.PathFor(scope.Global, g.repoRoot)
	if err != nil {
		return nil, err
	}
	if err := rules.Open(globalPath).Append(*cand); err != nil {
		return nil, err
	}

	promoted, err := g.props.MarkPromoted(cand.ID, globalPath)
	if err != nil {
		return nil, err
	}
	if err := g.ledger.MarkPromoted(ctx, promoted.Fingerprint); err != nil {
		return nil, err
	}

	logger.G(ctx).WithFields(map[string]interface{}{
		"candidate": promoted.ID,
		"target":    globalPath,
	}).Info("candidate promoted to global scope")
	return promoted, nil
}

// PromotionCandidates returns ledger entries observed in enough repos to
// qualify for promotion.
func (g *Gateway) PromotionCandidates(ctx context.Context, threshold int) ([]ledger.Entry, error) {
	return g.ledger.EligibleForPromotion(ctx, threshold)
}

func (g *Gateway) targetPath(cand proposals.Candidate) (string, error) {
	sc := scope.Scope(cand.Scope)
	if sc != scope.Global {
		sc = scope.Project
	}
	return rules.PathFor(sc, g.repoRoot)
}
