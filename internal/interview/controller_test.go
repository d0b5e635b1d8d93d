package interview

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanly/loanly-platform/internal/decision"
)

func loanInput(step int, utterance string) CallInput {
	return CallInput{
		ApplicationType: ApplicationLoan,
		CustomerName:    "Asha",
		PhoneNumber:     "+919999999999",
		Step:            step,
		Utterance:       utterance,
		CallSID:         "CA123",
	}
}

func TestHandleGreeting(t *testing.T) {
	fx := newFlowFixture(t)

	d := fx.ctrl.Handle(context.Background(), loanInput(0, ""))
	require.True(t, d.Gather)
	require.Len(t, d.Say, 1)
	assert.Contains(t, d.Say[0], "Asha")
	assert.Contains(t, d.Say[0], "loan")
	assert.Equal(t, lineConsentPrompt, d.GatherPrompt)
	assert.Equal(t, 1, d.NextStep)
}

func TestHandleGreetingWithoutName(t *testing.T) {
	fx := newFlowFixture(t)

	in := loanInput(0, "")
	in.CustomerName = ""
	d := fx.ctrl.Handle(context.Background(), in)
	require.Len(t, d.Say, 1)
	assert.Contains(t, d.Say[0], "Hello there")
}

func TestHandleConsentGiven(t *testing.T) {
	fx := newFlowFixture(t)
	questions := fx.catalog.Questions(ApplicationLoan)

	for _, utterance := range []string{"yes", "Yeah, sure", "okay go ahead", "Sure."} {
		d := fx.ctrl.Handle(context.Background(), loanInput(1, utterance))
		require.True(t, d.Gather, "utterance %q should start the interview", utterance)
		assert.Equal(t, []string{lineTransition}, d.Say)
		assert.Equal(t, questions[0], d.GatherPrompt)
		assert.Equal(t, 2, d.NextStep)
	}
}

func TestHandleConsentDeclined(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}
	seedSession(t, fx.store, key, 0)

	for _, utterance := range []string{"no", "not now", "", "call me later"} {
		d := fx.ctrl.Handle(ctx, loanInput(1, utterance))
		require.True(t, d.Hangup, "utterance %q should end the call", utterance)
		assert.Equal(t, []string{lineDecline}, d.Say)
	}

	// Declining drops the seeded session so nothing is ever recorded.
	sess, err := fx.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestHandleRecordsAnswerAndAsksNext(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}
	seedSession(t, fx.store, key, 0)
	questions := fx.catalog.Questions(ApplicationLoan)

	d := fx.ctrl.Handle(ctx, loanInput(2, "I am 29 years old"))
	require.True(t, d.Gather)
	assert.Equal(t, questions[1], d.GatherPrompt)
	assert.Equal(t, 3, d.NextStep)

	sess, err := fx.store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, sess)
	got, ok := sess.Answer(0)
	require.True(t, ok)
	assert.Equal(t, "I am 29 years old", got)
}

func TestHandleOverwritesOnRepeatedStep(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}
	seedSession(t, fx.store, key, 0)

	fx.ctrl.Handle(ctx, loanInput(2, "twenty eight"))
	fx.ctrl.Handle(ctx, loanInput(2, "twenty nine"))

	sess, err := fx.store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, sess)
	got, _ := sess.Answer(0)
	assert.Equal(t, "twenty nine", got)
	assert.Equal(t, 1, sess.AnsweredCount())
}

func TestHandleEmptyUtteranceStillAdvances(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}
	seedSession(t, fx.store, key, 0)
	questions := fx.catalog.Questions(ApplicationLoan)

	d := fx.ctrl.Handle(ctx, loanInput(2, "   "))
	require.True(t, d.Gather)
	assert.Equal(t, questions[1], d.GatherPrompt)

	sess, err := fx.store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 0, sess.AnsweredCount())
}

func TestHandleMissingSession(t *testing.T) {
	fx := newFlowFixture(t)

	d := fx.ctrl.Handle(context.Background(), loanInput(2, "I am 29"))
	require.True(t, d.Hangup)
	assert.Equal(t, []string{lineNoSession}, d.Say)
}

func TestHandleBackfillsCallSID(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}
	require.NoError(t, fx.store.Put(ctx, key, NewSession("Asha", "", time.Now())))

	fx.ctrl.Handle(ctx, loanInput(2, "I am 29"))

	sess, err := fx.store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "CA123", sess.CallSID)
}

// Walks the whole loan interview from greeting to verdict through the state
// machine alone.
func TestHandleFullInterview(t *testing.T) {
	fx := newFlowFixture(t)
	fx.evaluator.verdict = decision.VerdictApproved
	ctx := context.Background()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}
	questions := fx.catalog.Questions(ApplicationLoan)

	seedSession(t, fx.store, key, 0)

	d := fx.ctrl.Handle(ctx, loanInput(1, "yes"))
	require.True(t, d.Gather)

	step := d.NextStep
	for i := 0; i < len(questions); i++ {
		d = fx.ctrl.Handle(ctx, loanInput(step, "answer "+strconv.Itoa(i)))
		if i < len(questions)-1 {
			require.True(t, d.Gather, "question %d", i)
			assert.Equal(t, questions[i+1], d.GatherPrompt)
			step = d.NextStep
		}
	}

	require.True(t, d.Hangup)
	require.Len(t, d.Say, 2)
	assert.Equal(t, lineWrapUp, d.Say[0])
	assert.Equal(t, outroApproved, d.Say[1])

	recs := fx.sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, "APPROVED", recs[0].Decision)
	assert.Equal(t, len(questions), recs[0].AnsweredCount)

	sess, err := fx.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestHandleTerminalOutros(t *testing.T) {
	cases := []struct {
		verdict decision.Verdict
		outro   string
	}{
		{decision.VerdictApproved, outroApproved},
		{decision.VerdictRejected, outroRejected},
		{decision.VerdictNeedsVerification, outroVerify},
	}
	for _, tc := range cases {
		t.Run(string(tc.verdict), func(t *testing.T) {
			fx := newFlowFixture(t)
			fx.evaluator.verdict = tc.verdict
			ctx := context.Background()
			key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}
			questions := fx.catalog.Questions(ApplicationLoan)
			seedSession(t, fx.store, key, len(questions)-1)

			d := fx.ctrl.Handle(ctx, loanInput(len(questions)+1, "last answer"))
			require.True(t, d.Hangup)
			require.Len(t, d.Say, 2)
			assert.Equal(t, tc.outro, d.Say[1])
		})
	}
}

func TestHandleTerminalIncomplete(t *testing.T) {
	fx := newFlowFixture(t)
	ctx := context.Background()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}
	questions := fx.catalog.Questions(ApplicationLoan)

	// Only the final utterance was captured; everything else was silence.
	seedSession(t, fx.store, key, 0)
	d := fx.ctrl.Handle(ctx, loanInput(len(questions)+1, "last answer"))
	require.True(t, d.Hangup)
	require.Len(t, d.Say, 2)
	assert.Equal(t, lineIncomplete, d.Say[1])
	assert.Equal(t, 0, fx.evaluator.callCount())
}

func TestHandleStepOutOfRange(t *testing.T) {
	fx := newFlowFixture(t)
	questions := fx.catalog.Questions(ApplicationLoan)

	d := fx.ctrl.Handle(context.Background(), loanInput(len(questions)+5, "hello"))
	require.True(t, d.Hangup)
	assert.Equal(t, []string{lineApology}, d.Say)
}

func TestHandleRecoversFromPanic(t *testing.T) {
	fx := newFlowFixture(t)
	fx.ctrl.catalog = nil // forces a nil dereference inside Handle

	d := fx.ctrl.Handle(context.Background(), loanInput(2, "I am 29"))
	require.True(t, d.Hangup)
	assert.Equal(t, []string{lineApology}, d.Say)
}

func TestIsAffirmative(t *testing.T) {
	for _, utterance := range []string{"yes", "YES please", "yeah", "sure thing", "okay", "ok", "let's go ahead", "please proceed"} {
		assert.True(t, isAffirmative(utterance), fmt.Sprintf("%q should be affirmative", utterance))
	}
	for _, utterance := range []string{"", "no", "nope", "maybe later", "stop calling"} {
		assert.False(t, isAffirmative(utterance), fmt.Sprintf("%q should not be affirmative", utterance))
	}
}
