package interview

import (
	"strconv"
	"sync"
	"time"
)

// Key identifies one live interview: a phone number can hold at most one
// session per application type.
type Key struct {
	PhoneNumber     string
	ApplicationType ApplicationType
}

func (k Key) String() string {
	return string(k.ApplicationType) + ":" + k.PhoneNumber
}

// Session is the server-side record of one in-progress phone interview.
type Session struct {
	// Responses maps question index to the caller's raw utterance. Keys are
	// sparse; a question with no captured speech has no entry.
	Responses map[string]string `json:"responses"`
	// CustomerName is the display name supplied at call initiation.
	CustomerName string `json:"customer_name"`
	// CallSID is the gateway handle for the outbound call.
	CallSID string `json:"call_sid,omitempty"`
	// VerdictDelivered flips false to true exactly once, guarding against
	// double finalization.
	VerdictDelivered bool `json:"verdict_delivered"`
	// CreatedAt decides staleness against the cooldown window.
	CreatedAt time.Time `json:"created_at"`
}

// NewSession seeds a fresh session for an initiated call.
func NewSession(customerName, callSID string, now time.Time) *Session {
	return &Session{
		Responses:    make(map[string]string),
		CustomerName: customerName,
		CallSID:      callSID,
		CreatedAt:    now.UTC(),
	}
}

// Record stores the utterance as the answer to the question at index. A
// repeated index overwrites the previous utterance.
func (s *Session) Record(index int, utterance string) {
	if s.Responses == nil {
		s.Responses = make(map[string]string)
	}
	s.Responses[strconv.Itoa(index)] = utterance
}

// Answer returns the recorded utterance for a question index, if any.
func (s *Session) Answer(index int) (string, bool) {
	v, ok := s.Responses[strconv.Itoa(index)]
	return v, ok
}

// AnsweredCount reports how many questions have a recorded answer.
func (s *Session) AnsweredCount() int {
	return len(s.Responses)
}

// Age reports how old the session is relative to now.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// clone returns an independent copy so store readers never alias writers.
func (s *Session) clone() *Session {
	cp := *s
	cp.Responses = make(map[string]string, len(s.Responses))
	for k, v := range s.Responses {
		cp.Responses[k] = v
	}
	return &cp
}

// KeyLocks provides per-key mutual exclusion. The controller's
// record-then-maybe-finalize sequence and the status-callback finalization
// path both serialize through the same lock, closing the double-delivery
// window between the two webhook channels. Entries are reference-counted and
// dropped when the last holder unlocks, so the table stays bounded by the
// number of concurrently active calls rather than every number ever dialed.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLocks creates an empty lock table.
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (l *KeyLocks) Lock(key Key) func() {
	k := key.String()

	l.mu.Lock()
	e, ok := l.locks[k]
	if !ok {
		e = &keyLock{}
		l.locks[k] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, k)
		}
		l.mu.Unlock()
	}
}
