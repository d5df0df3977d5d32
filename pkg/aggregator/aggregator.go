// Package aggregator turns batches of raw friction events into deduplicated
// learning candidates: it groups evidence, enforces per-type thresholds,
// synthesizes candidate text, classifies scope, consults the cross-repo
// ledger, and writes proposals. Events are marked processed only after every
// derived candidate is durably stored.
package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/coachhq/coach/pkg/config"
	"github.com/coachhq/coach/pkg/events"
	"github.com/coachhq/coach/pkg/fingerprint"
	"github.com/coachhq/coach/pkg/generate"
	"github.com/coachhq/coach/pkg/ledger"
	"github.com/coachhq/coach/pkg/logger"
	"github.com/coachhq/coach/pkg/proposals"
	"github.com/coachhq/coach/pkg/scope"
	"github.com/coachhq/coach/pkg/signal"
)

// Per-type confidence floors applied after evidence thresholds pass. A single
// command failure is strong evidence; a single correction is not.
var confidenceFloors = map[signal.SignalType]float64{
	signal.CommandFailure:  0.85,
	signal.UserCorrection:  0.5,
	signal.Repetition:      0.4,
	signal.SkillSupplement: 0.70,
	signal.VersionIssue:    0.60,
}

const (
	escalationBoost = 0.05

	// Pending candidates at or above this keyword similarity get flagged as
	// near duplicates for the reviewer.
	nearDuplicateThreshold = 0.6
)

// Options controls a single aggregation run.
type Options struct {
	// Force skips the batch interval gate.
	Force bool
	// DryRun computes candidates without writing proposals, ledger entries,
	// or processed flags.
	DryRun bool
}

// Result summarizes an aggregation run.
type Result struct {
	Skipped    bool
	SkipReason string

	EventsSeen int
	Malformed  int
	Proposed   int
	Suppressed int
	Candidates []proposals.Candidate
}

// Aggregator wires the event store, ledger, proposal store and generator into
// the batch pipeline.
type Aggregator struct {
	cfg        *config.Config
	events     *events.Store
	ledger     *ledger.Store
	proposals  *proposals.Store
	generator  generate.Generator
	engine     *fingerprint.Engine
	classifier *scope.Classifier
}

// New builds an aggregator. The scope classifier is compiled from the
// configured indicator vocabularies.
func New(cfg *config.Config, ev *events.Store, led *ledger.Store, props *proposals.Store, gen generate.Generator) (*Aggregator, error) {
	classifier, err := scope.NewClassifier(cfg.ScopeIndicators, cfg.ForceProjectPatterns)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build scope classifier")
	}
	return &Aggregator{
		cfg:        cfg,
		events:     ev,
		ledger:     led,
		proposals:  props,
		generator:  gen,
		engine:     fingerprint.NewEngine(),
		classifier: classifier,
	}, nil
}

// evidenceGroup collects the events backing one potential candidate.
type evidenceGroup struct {
	signalType signal.SignalType
	events     []events.Event
	signals    []*signal.Signal
}

// Aggregate runs one batch for a repo. Unless forced, runs within the batch
// interval of the previous proposal are skipped.
func (a *Aggregator) Aggregate(ctx context.Context, repoID string, opts Options) (*Result, error) {
	log := logger.G(ctx).WithField("repo_id", repoID)

	if !opts.Force {
		last, err := a.proposals.LastProposal()
		if err != nil {
			return nil, err
		}
		interval := time.Duration(a.cfg.BatchIntervalMinutes) * time.Minute
		if last != nil && time.Since(*last) < interval {
			log.WithField("last_proposal", last).Debug("within batch interval, skipping aggregation")
			return &Result{
				Skipped:    true,
				SkipReason: fmt.Sprintf("last proposal %s ago, batch interval is %s", time.Since(*last).Round(time.Second), interval),
			}, nil
		}
	}

	// Snapshot the unprocessed events up front. Events appended while this
	// batch runs belong to the next batch.
	snapshot, err := a.events.QueryUnprocessed(ctx, repoID)
	if err != nil {
		return nil, err
	}

	result := &Result{EventsSeen: len(snapshot)}
	if len(snapshot) == 0 {
		return result, nil
	}

	groups, escalations, decodeErrs := a.group(snapshot)
	result.Malformed = len(decodeErrs.WrappedErrors())
	for _, derr := range decodeErrs.WrappedErrors() {
		log.WithError(derr).Warn("skipping malformed event")
	}

	var candidates []proposals.Candidate
	for _, group := range groups {
		needed := a.cfg.MinEvidenceFor(group.signalType.Key())
		if len(group.events) < needed {
			log.WithFields(map[string]interface{}{
				"signal_type": group.signalType,
				"have":        len(group.events),
				"need":        needed,
			}).Debug("below evidence threshold")
			continue
		}

		cand, err := a.synthesize(ctx, group, escalations)
		if err != nil {
			log.WithError(err).WithField("signal_type", group.signalType).Warn("candidate synthesis failed")
			continue
		}
		if cand == nil {
			continue
		}
		candidates = append(candidates, *cand)
	}

	// Ledger consultation: already decided fingerprints at equal or broader
	// scope are suppressed; observations still merge so the repo set grows.
	var proposed []proposals.Candidate
	var merges []ledger.Entry
	for _, cand := range candidates {
		existing, err := a.ledger.Get(ctx, cand.Fingerprint)
		if err != nil {
			return nil, err
		}

		suppress := false
		if existing != nil {
			if existing.CurrentScope == scope.Global {
				cand.Scope = string(scope.Global)
			}
			if existing.Decided() && !(cand.Scope == string(scope.Global) && existing.CurrentScope == scope.Project) {
				suppress = true
			}
		}

		merges = append(merges, ledger.Entry{
			Fingerprint:    cand.Fingerprint,
			NormalizedText: a.engine.Normalize(cand.Trigger + " " + cand.Action),
			CandidateType:  cand.CandidateType,
			CurrentScope:   scope.Scope(cand.Scope),
		})

		if suppress {
			result.Suppressed++
			log.WithField("fingerprint", cand.Fingerprint[:12]).Debug("suppressing already-decided candidate")
			continue
		}
		proposed = append(proposed, cand)
	}

	result.Candidates = proposed
	if opts.DryRun {
		result.Proposed = len(proposed)
		return result, nil
	}

	if len(proposed) > 0 {
		added, err := a.proposals.Add(proposed)
		if err != nil {
			return nil, err
		}
		result.Proposed = added
	}

	for _, seed := range merges {
		if _, err := a.ledger.Merge(ctx, seed, repoID); err != nil {
			return nil, err
		}
	}

	if err := a.flagNearDuplicates(proposed); err != nil {
		log.WithError(err).Warn("near-duplicate flagging failed")
	}

	// Only now is the batch durable; flipping the processed flag is the
	// last step so a crash re-runs the batch instead of losing it.
	ids := make([]string, len(snapshot))
	for i, ev := range snapshot {
		ids[i] = ev.ID
	}
	if err := a.events.MarkProcessed(ctx, ids); err != nil {
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"events":     result.EventsSeen,
		"proposed":   result.Proposed,
		"suppressed": result.Suppressed,
	}).Info("aggregation batch complete")
	return result, nil
}

// group buckets decoded events by signal type; command failures are further
// split by base command so unrelated failures never pool evidence. Tone
// escalation events never form their own group, they only boost confidence.
func (a *Aggregator) group(snapshot []events.Event) (map[string]*evidenceGroup, int, *multierror.Error) {
	groups := make(map[string]*evidenceGroup)
	escalations := 0
	var errs *multierror.Error

	for _, ev := range snapshot {
		sig, err := ev.Signal()
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}

		if sig.Type == signal.ToneEscalation {
			escalations++
			continue
		}

		key := string(sig.Type)
		if sig.Type == signal.CommandFailure {
			key += "|" + baseCommand(sig.Command)
		}

		g, ok := groups[key]
		if !ok {
			g = &evidenceGroup{signalType: sig.Type}
			groups[key] = g
		}
		g.events = append(g.events, ev)
		g.signals = append(g.signals, sig)
	}

	return groups, escalations, errs
}

func baseCommand(command string) string {
	parts := strings.Fields(strings.ToLower(command))
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + " " + parts[1]
}

// synthesize builds one candidate from a qualifying evidence group. A nil
// candidate without error means the generator judged the evidence too vague.
func (a *Aggregator) synthesize(ctx context.Context, group *evidenceGroup, escalations int) (*proposals.Candidate, error) {
	latest := group.signals[len(group.signals)-1]

	in := generate.Input{
		SignalType:   group.signalType,
		Command:      latest.Command,
		Stderr:       latest.Stderr,
		ExitCode:     latest.ExitCode,
		UserMessage:  latest.Content,
		FailureCount: len(group.events),
	}
	if group.signalType == signal.Repetition {
		in.SimilarMessages = latest.SimilarMessages
	}

	out, err := a.generator.Generate(ctx, in)
	if err != nil {
		return nil, err
	}
	if !out.Viable {
		return nil, nil
	}

	confidence := 0.0
	for _, sig := range group.signals {
		if sig.Confidence > confidence {
			confidence = sig.Confidence
		}
	}
	if floor, ok := confidenceFloors[group.signalType]; ok && confidence < floor {
		confidence = floor
	}
	confidence = min(confidence+float64(escalations)*escalationBoost, 1.0)

	sc := a.classifier.Classify(out.Trigger, out.Action, out.Title)

	evidence := make([]proposals.Evidence, 0, len(group.events))
	for i, ev := range group.events {
		evidence = append(evidence, proposals.Evidence{
			EventID: ev.ID,
			Quote:   group.signals[i].Content,
			Command: group.signals[i].Command,
			Stderr:  group.signals[i].Stderr,
		})
	}

	return &proposals.Candidate{
		Title:         out.Title,
		CandidateType: out.CandidateType,
		Trigger:       out.Trigger,
		Action:        out.Action,
		Evidence:      evidence,
		Confidence:    confidence,
		Scope:         string(sc.Scope),
		Fingerprint:   a.engine.Fingerprint(out.CandidateType, out.Trigger, out.Action),
	}, nil
}

// flagNearDuplicates marks pending candidates whose keyword similarity to a
// freshly proposed candidate crosses the threshold while their fingerprints
// differ.
func (a *Aggregator) flagNearDuplicates(proposed []proposals.Candidate) error {
	if len(proposed) == 0 {
		return nil
	}

	pending, err := a.proposals.Pending()
	if err != nil {
		return err
	}

	for _, fresh := range proposed {
		freshText := fresh.Trigger + " " + fresh.Action
		for _, other := range pending {
			if other.Fingerprint == fresh.Fingerprint {
				continue
			}
			if a.engine.Similarity(freshText, other.Trigger+" "+other.Action) >= nearDuplicateThreshold {
				flag := fmt.Sprintf("similar to candidate %s", other.ID)
				if err := a.proposals.FlagForReview(findID(pending, fresh.Fingerprint), flag); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func findID(pending []proposals.Candidate, fp string) string {
	for _, c := range pending {
		if c.Fingerprint == fp {
			return c.ID
		}
	}
	return ""
}
