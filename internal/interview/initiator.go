package interview

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/loanly/loanly-platform/internal/telephony"
	"github.com/loanly/loanly-platform/pkg/logging"
)

// ErrValidation marks request problems the caller can fix: missing phone
// number, malformed number, missing configuration.
var ErrValidation = errors.New("interview: validation failed")

// ConflictError reports a live call already in progress for the key. It
// carries the existing gateway handle so the API caller can track that call
// instead.
type ConflictError struct {
	CallSID string
}

func (e *ConflictError) Error() string {
	return "interview: call already in progress"
}

// CallGateway places outbound calls.
type CallGateway interface {
	PlaceCall(ctx context.Context, p telephony.PlaceCallParams) (string, error)
}

// Lifecycle events the gateway reports to the status callback. Each of these
// can end a call before the conversation naturally finishes.
var statusCallbackEvents = []string{"completed", "busy", "no-answer", "failed", "canceled"}

// InitiatorConfig wires the outbound call initiator.
type InitiatorConfig struct {
	Store    Store
	Gateway  CallGateway
	Locks    *KeyLocks
	Logger   *logging.Logger
	BaseURL  string
	Cooldown time.Duration
	Clock    func() time.Time
}

// Initiator starts a new interview call and seeds its session.
type Initiator struct {
	cfg    InitiatorConfig
	logger *logging.Logger
}

// NewInitiator creates an initiator.
func NewInitiator(cfg InitiatorConfig) *Initiator {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 120 * time.Second
	}
	if cfg.Locks == nil {
		cfg.Locks = NewKeyLocks()
	}
	return &Initiator{cfg: cfg, logger: cfg.Logger}
}

// Initiate places an outbound interview call and returns the gateway call
// handle. A live session younger than the cooldown window yields a
// ConflictError; a stale one is silently replaced.
func (i *Initiator) Initiate(ctx context.Context, t ApplicationType, phoneNumber, customerName string) (string, error) {
	if strings.TrimSpace(phoneNumber) == "" {
		return "", fmt.Errorf("%w: phone_number is required", ErrValidation)
	}
	if !telephony.ValidE164(phoneNumber) {
		return "", fmt.Errorf("%w: phone_number %q is not a valid phone number", ErrValidation, phoneNumber)
	}
	if strings.TrimSpace(i.cfg.BaseURL) == "" {
		return "", fmt.Errorf("%w: PUBLIC_BASE_URL is not configured", ErrValidation)
	}
	normalized := telephony.NormalizeE164(phoneNumber)
	if strings.TrimSpace(customerName) == "" {
		customerName = "Customer"
	}

	key := Key{PhoneNumber: normalized, ApplicationType: t}
	unlock := i.cfg.Locks.Lock(key)
	defer unlock()

	now := i.cfg.Clock()
	existing, err := i.cfg.Store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("interview: initiate lookup: %w", err)
	}
	if existing != nil && !existing.VerdictDelivered && existing.Age(now) < i.cfg.Cooldown {
		i.logger.Info("rejecting duplicate call",
			"key", key.String(),
			"existing_call_sid", existing.CallSID,
			"age", existing.Age(now).String(),
		)
		return "", &ConflictError{CallSID: existing.CallSID}
	}

	callSID, err := i.cfg.Gateway.PlaceCall(ctx, telephony.PlaceCallParams{
		To:                normalized,
		CallbackURL:       i.voiceCallbackURL(t, normalized, customerName),
		StatusCallbackURL: i.statusCallbackURL(t, normalized),
		StatusEvents:      statusCallbackEvents,
	})
	if err != nil {
		return "", err
	}

	if err := i.cfg.Store.Put(ctx, key, NewSession(customerName, callSID, now)); err != nil {
		// The call is already ringing; without a session the flow will
		// apologize and hang up, which beats failing the API call here.
		i.logger.Error("failed to seed session", "error", err, "key", key.String())
	}

	i.logger.Info("call initiated",
		"key", key.String(),
		"call_sid", callSID,
		"customer_name", customerName,
	)
	return callSID, nil
}

func (i *Initiator) voiceCallbackURL(t ApplicationType, phoneNumber, customerName string) string {
	q := url.Values{}
	q.Set("application_type", string(t))
	q.Set("name", customerName)
	q.Set("phone_number", phoneNumber)
	q.Set("step", "0")
	return strings.TrimRight(i.cfg.BaseURL, "/") + "/webhooks/twilio/voice?" + q.Encode()
}

func (i *Initiator) statusCallbackURL(t ApplicationType, phoneNumber string) string {
	q := url.Values{}
	q.Set("application_type", string(t))
	q.Set("phone_number", phoneNumber)
	return strings.TrimRight(i.cfg.BaseURL, "/") + "/webhooks/twilio/status?" + q.Encode()
}
