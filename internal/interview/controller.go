package interview

import (
	"context"
	"strings"

	"github.com/loanly/loanly-platform/internal/decision"
	"github.com/loanly/loanly-platform/pkg/logging"
)

// Spoken lines. The gateway renders these with TTS, so they read as speech,
// not copy.
const (
	lineConsentPrompt = "This call will take about five minutes and your answers will be used to process your application. Shall we proceed? Please say yes to continue."
	lineTransition    = "Great, thank you! I will now ask you a few short questions. Please answer each one after the beep."
	lineDecline       = "No problem at all. Thank you for your time, goodbye!"
	lineApology       = "I am sorry, something went wrong on our end. Our team will get back to you shortly. Goodbye."
	lineNoSession     = "I am sorry, I could not find your application session. Please request a new call from our website. Goodbye."
	lineIncomplete    = "Thank you for your time. We could not capture enough answers to process your application, so our team may reach out to you directly. Goodbye."
	lineWrapUp        = "That was the last question. Please hold on for a moment while I record your application."

	outroApproved = "Good news! Based on your answers, your application has been approved for further processing. You will receive a confirmation message shortly. Goodbye!"
	outroRejected = "Thank you for your answers. Unfortunately we are unable to approve your application at this time. You will receive a message with more details shortly. Goodbye."
	outroVerify   = "Thank you for your answers. Your application needs a manual verification step, and our team will reach out to you shortly. Goodbye."
	outroGeneric  = "Thank you for your time. Your application has been recorded. Goodbye!"
)

var affirmativeKeywords = []string{"yes", "yeah", "sure", "okay", "ok", "go ahead", "proceed"}

// CallInput is one webhook callback's view of the conversation.
type CallInput struct {
	ApplicationType ApplicationType
	CustomerName    string
	PhoneNumber     string
	Step            int
	Utterance       string
	CallSID         string
}

// Directive is the voice response the controller wants rendered: spoken
// lines, then either a speech gather re-entering the flow at NextStep or a
// hangup. Exactly one of Gather and Hangup is set.
type Directive struct {
	Say          []string
	Gather       bool
	GatherPrompt string
	NextStep     int
	Hangup       bool
}

func gatherDirective(say []string, prompt string, nextStep int) Directive {
	return Directive{Say: say, Gather: true, GatherPrompt: prompt, NextStep: nextStep}
}

func hangupDirective(say ...string) Directive {
	return Directive{Say: say, Hangup: true}
}

// Controller is the call-flow state machine. Each webhook callback re-enters
// Handle with the step carried in the callback URL and the transcript of the
// caller's last utterance.
type Controller struct {
	store     Store
	catalog   *Catalog
	finalizer *Finalizer
	locks     *KeyLocks
	logger    *logging.Logger
}

// NewController wires the state machine. The locks table must be shared with
// the finalizer so the two webhook channels serialize per call.
func NewController(store Store, catalog *Catalog, finalizer *Finalizer, locks *KeyLocks, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		store:     store,
		catalog:   catalog,
		finalizer: finalizer,
		locks:     locks,
		logger:    logger,
	}
}

// Handle advances the conversation one step and returns the next directive.
// It never returns an error: every internal failure degrades to a spoken
// apology and hangup, because the gateway must always receive a valid voice
// document.
func (c *Controller) Handle(ctx context.Context, in CallInput) (out Directive) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("call flow panic", "panic", r, "phone_number", in.PhoneNumber, "step", in.Step)
			out = hangupDirective(lineApology)
		}
	}()

	questions := c.catalog.Questions(in.ApplicationType)
	key := Key{PhoneNumber: in.PhoneNumber, ApplicationType: in.ApplicationType}

	switch {
	case in.Step <= 0:
		return c.greet(in)

	case in.Step == 1:
		return c.classifyConsent(ctx, key, in, questions)

	case in.Step <= len(questions)+1:
		return c.advance(ctx, key, in, questions)

	default:
		c.logger.Warn("step out of range", "step", in.Step, "phone_number", in.PhoneNumber)
		return hangupDirective(lineApology)
	}
}

func (c *Controller) greet(in CallInput) Directive {
	name := in.CustomerName
	if name == "" {
		name = "there"
	}
	greeting := "Hello " + name + "! This is Loanly, your personal " + in.ApplicationType.Label() + " assistant, calling about your application."
	return gatherDirective([]string{greeting}, lineConsentPrompt, 1)
}

func (c *Controller) classifyConsent(ctx context.Context, key Key, in CallInput, questions []string) Directive {
	if !isAffirmative(in.Utterance) {
		// The caller declined; drop any seeded session so no answers are
		// ever recorded for this key.
		unlock := c.locks.Lock(key)
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("failed to delete declined session", "error", err, "key", key.String())
		}
		unlock()
		c.logger.Info("consent declined", "phone_number", in.PhoneNumber, "application_type", string(in.ApplicationType))
		return hangupDirective(lineDecline)
	}
	if len(questions) == 0 {
		return hangupDirective(lineApology)
	}
	return gatherDirective([]string{lineTransition}, questions[0], 2)
}

// advance records the answer carried by this callback and either asks the
// next question or finalizes. The utterance arriving at step N answers
// question N-2: question N-2 was asked by the gather that pointed here.
func (c *Controller) advance(ctx context.Context, key Key, in CallInput, questions []string) Directive {
	answeredIdx := in.Step - 2

	unlock := c.locks.Lock(key)
	sess, err := c.store.Get(ctx, key)
	if err != nil {
		unlock()
		c.logger.Error("session lookup failed", "error", err, "key", key.String())
		return hangupDirective(lineApology)
	}
	if sess == nil {
		unlock()
		c.logger.Warn("no session for call step", "key", key.String(), "step", in.Step)
		return hangupDirective(lineNoSession)
	}
	if utterance := strings.TrimSpace(in.Utterance); utterance != "" {
		sess.Record(answeredIdx, utterance)
		if in.CallSID != "" && sess.CallSID == "" {
			sess.CallSID = in.CallSID
		}
		if err := c.store.Put(ctx, key, sess); err != nil {
			unlock()
			c.logger.Error("session update failed", "error", err, "key", key.String())
			return hangupDirective(lineApology)
		}
	}
	unlock()

	askIdx := in.Step - 1
	if askIdx < len(questions) {
		return gatherDirective(nil, questions[askIdx], in.Step+1)
	}

	// Terminal question boundary: finalize synchronously inside this
	// callback so the verdict outro rides the same voice response.
	outcome, err := c.finalizer.Finalize(ctx, key)
	if err != nil {
		c.logger.Error("finalization failed", "error", err, "key", key.String())
		return hangupDirective(lineApology)
	}
	return hangupDirective(lineWrapUp, outroFor(outcome))
}

func outroFor(outcome FinalizeOutcome) string {
	switch outcome.Status {
	case FinalizeStatusIncomplete:
		return lineIncomplete
	case FinalizeStatusCompleted:
		switch outcome.Verdict {
		case decision.VerdictApproved:
			return outroApproved
		case decision.VerdictRejected:
			return outroRejected
		default:
			return outroVerify
		}
	default:
		return outroGeneric
	}
}

func isAffirmative(utterance string) bool {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "" {
		return false
	}
	for _, kw := range affirmativeKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}
