package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/loanly/loanly-platform/internal/interview"
	"github.com/loanly/loanly-platform/internal/observability/metrics"
	"github.com/loanly/loanly-platform/internal/telephony"
	"github.com/loanly/loanly-platform/pkg/logging"
)

var interviewTracer = otel.Tracer("loanly/http/interview")

const voiceWebhookPath = "/webhooks/twilio/voice"

// Gather window for each spoken question, in seconds.
const gatherTimeoutSeconds = 6

// Call statuses that mean the call can no longer progress. Any of them must
// trigger finalization of whatever was captured so far.
var terminalCallStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
}

// InterviewHandler exposes the call-initiation API and the telephony webhooks.
type InterviewHandler struct {
	initiator     *interview.Initiator
	controller    *interview.Controller
	finalizer     *interview.Finalizer
	metrics       *metrics.InterviewMetrics
	logger        *logging.Logger
	webhookSecret string
}

// NewInterviewHandler wires the handler.
func NewInterviewHandler(
	initiator *interview.Initiator,
	controller *interview.Controller,
	finalizer *interview.Finalizer,
	m *metrics.InterviewMetrics,
	logger *logging.Logger,
	webhookSecret string,
) *InterviewHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &InterviewHandler{
		initiator:     initiator,
		controller:    controller,
		finalizer:     finalizer,
		metrics:       m,
		logger:        logger,
		webhookSecret: webhookSecret,
	}
}

type initiateCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name"`
}

// InitiateLoanCall handles POST /calls/loan.
func (h *InterviewHandler) InitiateLoanCall(w http.ResponseWriter, r *http.Request) {
	h.initiateCall(w, r, interview.ApplicationLoan)
}

// InitiateCreditCardCall handles POST /calls/credit-card.
func (h *InterviewHandler) InitiateCreditCardCall(w http.ResponseWriter, r *http.Request) {
	h.initiateCall(w, r, interview.ApplicationCreditCard)
}

func (h *InterviewHandler) initiateCall(w http.ResponseWriter, r *http.Request, t interview.ApplicationType) {
	ctx, span := interviewTracer.Start(r.Context(), "interview.initiate")
	defer span.End()
	span.SetAttributes(attribute.String("loanly.application_type", string(t)))

	var req initiateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid initiate payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	callSID, err := h.initiator.Initiate(ctx, t, req.PhoneNumber, req.Name)
	if err != nil {
		span.RecordError(err)
		h.metrics.ObserveCallInitiated(string(t), "error")
		var conflict *interview.ConflictError
		switch {
		case errors.Is(err, interview.ErrValidation):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":    "a call for this applicant is already in progress",
				"call_sid": conflict.CallSID,
			})
		case errors.Is(err, telephony.ErrGatewayUnavailable):
			h.logger.Error("call gateway unavailable", "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "telephony provider unavailable"})
		default:
			h.logger.Error("call initiation failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}

	h.metrics.ObserveCallInitiated(string(t), "ok")
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Call initiated",
		"call_sid": callSID,
	})
}

// VoiceWebhook handles POST /webhooks/twilio/voice. Twilio treats any
// non-TwiML response as a dead call, so every path out of here writes a valid
// voice document with status 200.
func (h *InterviewHandler) VoiceWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := interviewTracer.Start(r.Context(), "interview.webhook.voice")
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("voice webhook panic", "panic", rec)
			h.writeApologyTwiML(w)
		}
	}()

	if h.webhookSecret != "" {
		if !telephony.ValidateTwilioSignature(r, h.webhookSecret, buildAbsoluteURL(r)) {
			h.logger.Warn("invalid twilio voice signature")
			span.RecordError(errors.New("invalid twilio voice signature"))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse voice form", "error", err)
		span.RecordError(err)
		h.metrics.ObserveWebhook("voice", "error")
		h.writeApologyTwiML(w)
		return
	}

	q := r.URL.Query()
	appType, err := interview.ParseApplicationType(q.Get("application_type"))
	if err != nil {
		h.logger.Warn("voice webhook with unknown application type", "raw", q.Get("application_type"))
		span.RecordError(err)
		h.metrics.ObserveWebhook("voice", "error")
		h.writeApologyTwiML(w)
		return
	}
	step, _ := strconv.Atoi(q.Get("step"))

	in := interview.CallInput{
		ApplicationType: appType,
		CustomerName:    q.Get("name"),
		PhoneNumber:     telephony.NormalizeE164(q.Get("phone_number")),
		Step:            step,
		Utterance:       r.PostFormValue("SpeechResult"),
		CallSID:         strings.TrimSpace(r.PostFormValue("CallSid")),
	}
	span.SetAttributes(
		attribute.String("loanly.application_type", string(appType)),
		attribute.Int("loanly.step", step),
	)

	directive := h.controller.Handle(ctx, in)
	h.metrics.ObserveWebhook("voice", "ok")
	h.writeTwiML(w, h.renderDirective(directive, in))
}

// StatusWebhook handles POST /webhooks/twilio/status. Terminal call statuses
// finalize the session; everything else is acknowledged and ignored.
func (h *InterviewHandler) StatusWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := interviewTracer.Start(r.Context(), "interview.webhook.status")
	defer span.End()

	if h.webhookSecret != "" {
		if !telephony.ValidateTwilioSignature(r, h.webhookSecret, buildAbsoluteURL(r)) {
			h.logger.Warn("invalid twilio status signature")
			span.RecordError(errors.New("invalid twilio status signature"))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse status form", "error", err)
		span.RecordError(err)
		h.metrics.ObserveWebhook("status", "error")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	appType, err := interview.ParseApplicationType(q.Get("application_type"))
	if err != nil {
		h.logger.Warn("status webhook with unknown application type", "raw", q.Get("application_type"))
		h.metrics.ObserveWebhook("status", "error")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	callStatus := strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus")))
	phone := telephony.NormalizeE164(q.Get("phone_number"))

	if !terminalCallStatuses[callStatus] {
		h.metrics.ObserveWebhook("status", "ok")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	key := interview.Key{PhoneNumber: phone, ApplicationType: appType}
	outcome, err := h.finalizer.Finalize(ctx, key)
	if err != nil {
		// The caller already hung up; there is nobody to report this to, so
		// log it and acknowledge the webhook anyway.
		h.logger.Error("finalize from status callback failed", "error", err, "key", key.String(), "call_status", callStatus)
		span.RecordError(err)
		h.metrics.ObserveWebhook("status", "error")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.logger.Info("status callback processed",
		"key", key.String(),
		"call_status", callStatus,
		"finalize_status", string(outcome.Status),
	)
	h.metrics.ObserveWebhook("status", "ok")
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (h *InterviewHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "loanly-platform"})
}

// Index handles GET /, a small service banner listing the endpoints.
func (h *InterviewHandler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Loanly voice interview platform",
		"endpoints": map[string]string{
			"POST /calls/loan":             "initiate a loan application interview call",
			"POST /calls/credit-card":      "initiate a credit card application interview call",
			"POST /webhooks/twilio/voice":  "telephony voice callback",
			"POST /webhooks/twilio/status": "telephony call status callback",
			"GET /health":                  "health check",
			"GET /metrics":                 "prometheus metrics",
		},
	})
}

// renderDirective turns the controller's directive into a TwiML document. The
// gather action is a relative URL; Twilio resolves it against the webhook URL
// it posted to, so the host never needs restating.
func (h *InterviewHandler) renderDirective(d interview.Directive, in interview.CallInput) string {
	v := &telephony.VoiceResponse{}
	for i, line := range d.Say {
		// A short beat between spoken paragraphs, so the wrap-up line and the
		// verdict do not run together.
		if i > 0 {
			v.Pause(1)
		}
		v.Say(line)
	}
	if d.Gather {
		v.GatherSpeech(h.gatherAction(in, d.NextStep), gatherTimeoutSeconds, d.GatherPrompt)
		// Re-ask once if the gather window closes with no speech at all.
		v.Say(d.GatherPrompt)
		v.GatherSpeech(h.gatherAction(in, d.NextStep), gatherTimeoutSeconds)
	}
	if d.Hangup {
		v.Hangup()
	}
	return v.Render()
}

func (h *InterviewHandler) gatherAction(in interview.CallInput, nextStep int) string {
	q := url.Values{}
	q.Set("application_type", string(in.ApplicationType))
	q.Set("name", in.CustomerName)
	q.Set("phone_number", in.PhoneNumber)
	q.Set("step", strconv.Itoa(nextStep))
	return voiceWebhookPath + "?" + q.Encode()
}

func (h *InterviewHandler) writeTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (h *InterviewHandler) writeApologyTwiML(w http.ResponseWriter) {
	v := &telephony.VoiceResponse{}
	v.Say("I am sorry, something went wrong on our end. Our team will get back to you shortly. Goodbye.")
	v.Hangup()
	h.writeTwiML(w, v.Render())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
