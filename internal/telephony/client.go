package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/loanly/loanly-platform/pkg/logging"
)

var clientTracer = otel.Tracer("loanly.internal.telephony")

// ErrGatewayUnavailable wraps transport-level failures talking to Twilio so
// callers can distinguish them from validation problems.
var ErrGatewayUnavailable = errors.New("telephony: gateway unavailable")

// Client talks to the Twilio REST API for outbound calls and SMS.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient builds a client with sane defaults.
func NewClient(accountSID, authToken, defaultFrom string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		from:       defaultFrom,
		baseURL:    "https://api.twilio.com",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// PlaceCallParams describes one outbound call.
type PlaceCallParams struct {
	To                string
	CallbackURL       string
	StatusCallbackURL string
	// StatusEvents selects which lifecycle events Twilio reports to the
	// status callback (e.g. "completed", "busy", "no-answer", "failed").
	StatusEvents []string
}

// PlaceCall starts an outbound call and returns the gateway call SID.
func (c *Client) PlaceCall(ctx context.Context, p PlaceCallParams) (string, error) {
	if c.accountSID == "" || c.authToken == "" {
		return "", errors.New("telephony: twilio credentials missing")
	}
	if p.To == "" {
		return "", errors.New("telephony: to required")
	}
	if c.from == "" {
		return "", errors.New("telephony: from number missing")
	}
	if p.CallbackURL == "" {
		return "", errors.New("telephony: callback url required")
	}

	ctx, span := clientTracer.Start(ctx, "telephony.twilio.place_call")
	defer span.End()
	span.SetAttributes(attribute.String("loanly.to", p.To))

	payload := url.Values{}
	payload.Set("To", p.To)
	payload.Set("From", c.from)
	payload.Set("Url", p.CallbackURL)
	payload.Set("Method", "POST")
	if p.StatusCallbackURL != "" {
		payload.Set("StatusCallback", p.StatusCallbackURL)
		payload.Set("StatusCallbackMethod", "POST")
		for _, ev := range p.StatusEvents {
			payload.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	body, err := c.postForm(ctx, endpoint, payload)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	var parsed struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.SID == "" {
		return "", fmt.Errorf("%w: unexpected call response", ErrGatewayUnavailable)
	}
	c.logger.Info("twilio call placed", "to", p.To, "call_sid", parsed.SID, "status", parsed.Status)
	return parsed.SID, nil
}

// SendSMS dispatches a single SMS from the configured number.
func (c *Client) SendSMS(ctx context.Context, to, body string) error {
	if c.accountSID == "" || c.authToken == "" {
		return errors.New("telephony: twilio credentials missing")
	}
	if to == "" {
		return errors.New("telephony: to required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("telephony: body required")
	}

	ctx, span := clientTracer.Start(ctx, "telephony.twilio.send_sms")
	defer span.End()
	span.SetAttributes(attribute.String("loanly.to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", c.from)
	payload.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	if _, err := c.postForm(ctx, endpoint, payload); err != nil {
		span.RecordError(err)
		return err
	}
	c.logger.Info("twilio sms sent", "to", to)
	return nil
}

// postForm posts url-encoded form data, retrying transient failures.
func (c *Client) postForm(ctx context.Context, endpoint string, payload url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return body, nil
			}
			lastErr = fmt.Errorf("twilio request failed: %s", formatTwilioError(resp.StatusCode, body))
			// Don't retry non-rate-limit 4xx errors.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
				break
			}
		}

		if attempt < 3 {
			backoff := time.Duration(attempt) * 300 * time.Millisecond
			backoff += time.Duration(rand.Intn(100)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, lastErr)
}

func formatTwilioError(status int, body []byte) string {
	var parsed struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return fmt.Sprintf("status=%d code=%d message=%s", status, parsed.Code, parsed.Message)
	}
	return fmt.Sprintf("status=%d", status)
}
