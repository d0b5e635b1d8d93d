package interview

import (
	"context"
	"fmt"
	"time"

	"github.com/loanly/loanly-platform/internal/decision"
	"github.com/loanly/loanly-platform/internal/observability/metrics"
	"github.com/loanly/loanly-platform/internal/results"
	"github.com/loanly/loanly-platform/pkg/logging"
)

// Evaluator turns an aggregated answer record into a verdict. Implementations
// must return the conservative verdict alongside any error.
type Evaluator interface {
	Evaluate(ctx context.Context, applicationType string, answers map[string]string) (decision.Verdict, error)
}

// ResultSink appends one record per finalized session.
type ResultSink interface {
	Append(ctx context.Context, rec *results.Record) error
}

// VerdictNotifier tells the applicant about the outcome. Best effort.
type VerdictNotifier interface {
	SendVerdict(ctx context.Context, to, name, applicationLabel string, verdict decision.Verdict) error
}

// FinalizeStatus describes what Finalize did.
type FinalizeStatus string

const (
	// FinalizeStatusCompleted means a verdict was produced and persisted.
	FinalizeStatusCompleted FinalizeStatus = "completed"
	// FinalizeStatusIncomplete means too few answers were recorded; the
	// session was cleared without consulting the decision service.
	FinalizeStatusIncomplete FinalizeStatus = "incomplete"
	// FinalizeStatusNoop means there was nothing to do: no session, or a
	// concurrent trigger already delivered the verdict.
	FinalizeStatusNoop FinalizeStatus = "noop"
)

// FinalizeOutcome reports the result of one Finalize call.
type FinalizeOutcome struct {
	Status   FinalizeStatus
	Verdict  decision.Verdict
	Answered int
}

// FinalizerConfig wires the dispatcher.
type FinalizerConfig struct {
	Store     Store
	Catalog   *Catalog
	Evaluator Evaluator
	Results   ResultSink
	Notifier  VerdictNotifier
	Locks     *KeyLocks
	Metrics   *metrics.InterviewMetrics
	Logger    *logging.Logger

	// MinAnswered is the threshold below which the decision service is not
	// consulted.
	MinAnswered int
	// ArchiveIncomplete persists an INCOMPLETE record for under-threshold
	// sessions instead of discarding them silently.
	ArchiveIncomplete bool
}

// Finalizer evaluates, persists, and clears a completed or prematurely-ended
// session, at most once per session. Both finalization triggers (the
// controller reaching the last question and the call-status callback) run
// through the same per-key lock, so concurrent calls for one key serialize
// and the VerdictDelivered flag makes the second a no-op.
type Finalizer struct {
	cfg    FinalizerConfig
	logger *logging.Logger
}

// NewFinalizer creates the dispatcher.
func NewFinalizer(cfg FinalizerConfig) *Finalizer {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MinAnswered <= 0 {
		cfg.MinAnswered = 5
	}
	if cfg.Locks == nil {
		cfg.Locks = NewKeyLocks()
	}
	return &Finalizer{cfg: cfg, logger: cfg.Logger}
}

// Locks exposes the per-key lock table so the controller and initiator can
// share it.
func (f *Finalizer) Locks() *KeyLocks {
	return f.cfg.Locks
}

// Finalize runs the exactly-once completion sequence for a session key.
func (f *Finalizer) Finalize(ctx context.Context, key Key) (FinalizeOutcome, error) {
	unlock := f.cfg.Locks.Lock(key)
	defer unlock()

	sess, err := f.cfg.Store.Get(ctx, key)
	if err != nil {
		return FinalizeOutcome{Status: FinalizeStatusNoop}, fmt.Errorf("interview: finalize lookup: %w", err)
	}
	if sess == nil || sess.VerdictDelivered {
		return FinalizeOutcome{Status: FinalizeStatusNoop}, nil
	}

	answered := sess.AnsweredCount()
	if answered < f.cfg.MinAnswered {
		return f.finishIncomplete(ctx, key, sess, answered)
	}

	answers := f.collectAnswers(key.ApplicationType, sess)

	start := time.Now()
	verdict, evalErr := f.cfg.Evaluator.Evaluate(ctx, string(key.ApplicationType), answers)
	f.cfg.Metrics.ObserveDecisionLatency(time.Since(start).Seconds())
	if evalErr != nil {
		// Best-effort single attempt: substitute the conservative verdict
		// and keep going so the caller still gets a voice response.
		f.logger.Warn("decision service failed, using conservative verdict",
			"error", evalErr, "key", key.String())
		verdict = decision.VerdictNeedsVerification
	}

	rec := &results.Record{
		Name:            sess.CustomerName,
		PhoneNumber:     key.PhoneNumber,
		ApplicationType: string(key.ApplicationType),
		Decision:        string(verdict),
		AnsweredCount:   answered,
		CallSID:         sess.CallSID,
	}
	if err := f.cfg.Results.Append(ctx, rec); err != nil {
		// Session intact: a later trigger may retry the whole sequence.
		return FinalizeOutcome{Status: FinalizeStatusNoop}, fmt.Errorf("interview: persist result: %w", err)
	}

	sess.VerdictDelivered = true
	if err := f.cfg.Store.Put(ctx, key, sess); err != nil {
		f.logger.Warn("failed to mark verdict delivered", "error", err, "key", key.String())
	}
	if err := f.cfg.Store.Delete(ctx, key); err != nil {
		f.logger.Warn("failed to delete finalized session", "error", err, "key", key.String())
	}

	if f.cfg.Notifier != nil {
		if err := f.cfg.Notifier.SendVerdict(ctx, key.PhoneNumber, sess.CustomerName, key.ApplicationType.Label(), verdict); err != nil {
			f.logger.Warn("verdict notification failed", "error", err, "key", key.String())
		}
	}

	f.cfg.Metrics.ObserveFinalization(string(verdict))
	f.logger.Info("session finalized",
		"key", key.String(),
		"verdict", string(verdict),
		"answered", answered,
	)
	return FinalizeOutcome{Status: FinalizeStatusCompleted, Verdict: verdict, Answered: answered}, nil
}

func (f *Finalizer) finishIncomplete(ctx context.Context, key Key, sess *Session, answered int) (FinalizeOutcome, error) {
	if f.cfg.ArchiveIncomplete {
		rec := &results.Record{
			Name:            sess.CustomerName,
			PhoneNumber:     key.PhoneNumber,
			ApplicationType: string(key.ApplicationType),
			Decision:        "INCOMPLETE",
			AnsweredCount:   answered,
			CallSID:         sess.CallSID,
		}
		if err := f.cfg.Results.Append(ctx, rec); err != nil {
			f.logger.Warn("failed to archive incomplete session", "error", err, "key", key.String())
		}
	}
	if err := f.cfg.Store.Delete(ctx, key); err != nil {
		f.logger.Warn("failed to delete incomplete session", "error", err, "key", key.String())
	}
	f.cfg.Metrics.ObserveFinalization("INCOMPLETE")
	f.logger.Info("session ended below answer threshold",
		"key", key.String(),
		"answered", answered,
		"min_answered", f.cfg.MinAnswered,
	)
	return FinalizeOutcome{Status: FinalizeStatusIncomplete, Answered: answered}, nil
}

// collectAnswers maps each answered question's canonical key to its recorded
// utterance.
func (f *Finalizer) collectAnswers(t ApplicationType, sess *Session) map[string]string {
	questions := f.cfg.Catalog.Questions(t)
	answers := make(map[string]string, sess.AnsweredCount())
	for i, q := range questions {
		if a, ok := sess.Answer(i); ok {
			answers[CanonicalKey(q)] = a
		}
	}
	return answers
}
