package interview

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanly/loanly-platform/internal/telephony"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []telephony.PlaceCallParams
	sid   string
	err   error
}

func (f *fakeGateway) PlaceCall(_ context.Context, p telephony.PlaceCallParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	if f.err != nil {
		return "", f.err
	}
	return f.sid, nil
}

func newTestInitiator(t *testing.T, gw *fakeGateway, clock func() time.Time) (*Initiator, Store) {
	t.Helper()
	store := NewMemoryStore()
	init := NewInitiator(InitiatorConfig{
		Store:    store,
		Gateway:  gw,
		BaseURL:  "https://loanly.example.com",
		Cooldown: 120 * time.Second,
		Clock:    clock,
	})
	return init, store
}

func TestInitiatePlacesCallAndSeedsSession(t *testing.T) {
	gw := &fakeGateway{sid: "CA100"}
	init, store := newTestInitiator(t, gw, nil)
	ctx := context.Background()

	sid, err := init.Initiate(ctx, ApplicationLoan, "+91 99999 99999", "Asha")
	require.NoError(t, err)
	assert.Equal(t, "CA100", sid)

	require.Len(t, gw.calls, 1)
	call := gw.calls[0]
	assert.Equal(t, "+919999999999", call.To)
	assert.Equal(t, statusCallbackEvents, call.StatusEvents)

	cb, err := url.Parse(call.CallbackURL)
	require.NoError(t, err)
	assert.Equal(t, "/webhooks/twilio/voice", cb.Path)
	assert.Equal(t, "loan", cb.Query().Get("application_type"))
	assert.Equal(t, "Asha", cb.Query().Get("name"))
	assert.Equal(t, "+919999999999", cb.Query().Get("phone_number"))
	assert.Equal(t, "0", cb.Query().Get("step"))

	sc, err := url.Parse(call.StatusCallbackURL)
	require.NoError(t, err)
	assert.Equal(t, "/webhooks/twilio/status", sc.Path)
	assert.Equal(t, "loan", sc.Query().Get("application_type"))

	sess, err := store.Get(ctx, Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "Asha", sess.CustomerName)
	assert.Equal(t, "CA100", sess.CallSID)
	assert.Equal(t, 0, sess.AnsweredCount())
}

func TestInitiateRejectsDuplicateWithinCooldown(t *testing.T) {
	gw := &fakeGateway{sid: "CA100"}
	init, _ := newTestInitiator(t, gw, nil)
	ctx := context.Background()

	_, err := init.Initiate(ctx, ApplicationLoan, "+919999999999", "Asha")
	require.NoError(t, err)

	_, err = init.Initiate(ctx, ApplicationLoan, "+919999999999", "Asha")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "CA100", conflict.CallSID)
	assert.Len(t, gw.calls, 1, "second request must not reach the gateway")
}

func TestInitiateAllowsOtherApplicationType(t *testing.T) {
	gw := &fakeGateway{sid: "CA100"}
	init, _ := newTestInitiator(t, gw, nil)
	ctx := context.Background()

	_, err := init.Initiate(ctx, ApplicationLoan, "+919999999999", "Asha")
	require.NoError(t, err)

	// Same number, different product: independent session key.
	_, err = init.Initiate(ctx, ApplicationCreditCard, "+919999999999", "Asha")
	require.NoError(t, err)
	assert.Len(t, gw.calls, 2)
}

func TestInitiateReplacesStaleSession(t *testing.T) {
	now := time.Now()
	gw := &fakeGateway{sid: "CA200"}
	init, store := newTestInitiator(t, gw, func() time.Time { return now })
	ctx := context.Background()

	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}
	stale := NewSession("Asha", "CA100", now.Add(-10*time.Minute))
	require.NoError(t, store.Put(ctx, key, stale))

	sid, err := init.Initiate(ctx, ApplicationLoan, "+919999999999", "Asha")
	require.NoError(t, err)
	assert.Equal(t, "CA200", sid)

	sess, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "CA200", sess.CallSID)
}

func TestInitiateValidation(t *testing.T) {
	gw := &fakeGateway{sid: "CA100"}
	ctx := context.Background()

	t.Run("missing phone", func(t *testing.T) {
		init, _ := newTestInitiator(t, gw, nil)
		_, err := init.Initiate(ctx, ApplicationLoan, "   ", "Asha")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("malformed phone", func(t *testing.T) {
		init, _ := newTestInitiator(t, gw, nil)
		_, err := init.Initiate(ctx, ApplicationLoan, "not-a-number", "Asha")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing base url", func(t *testing.T) {
		init := NewInitiator(InitiatorConfig{Store: NewMemoryStore(), Gateway: gw})
		_, err := init.Initiate(ctx, ApplicationLoan, "+919999999999", "Asha")
		assert.ErrorIs(t, err, ErrValidation)
	})

	assert.Empty(t, gw.calls, "validation failures must not reach the gateway")
}

func TestInitiateDefaultsCustomerName(t *testing.T) {
	gw := &fakeGateway{sid: "CA100"}
	init, store := newTestInitiator(t, gw, nil)
	ctx := context.Background()

	_, err := init.Initiate(ctx, ApplicationLoan, "+919999999999", "  ")
	require.NoError(t, err)

	sess, err := store.Get(ctx, Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "Customer", sess.CustomerName)

	cb, err := url.Parse(gw.calls[0].CallbackURL)
	require.NoError(t, err)
	assert.Equal(t, "Customer", cb.Query().Get("name"))
}

func TestInitiateGatewayFailure(t *testing.T) {
	gw := &fakeGateway{err: telephony.ErrGatewayUnavailable}
	init, store := newTestInitiator(t, gw, nil)
	ctx := context.Background()

	_, err := init.Initiate(ctx, ApplicationLoan, "+919999999999", "Asha")
	require.Error(t, err)
	assert.True(t, errors.Is(err, telephony.ErrGatewayUnavailable) || strings.Contains(err.Error(), "unavailable"))

	// No session is seeded for a call that never happened.
	sess, gerr := store.Get(ctx, Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan})
	require.NoError(t, gerr)
	assert.Nil(t, sess)
}
