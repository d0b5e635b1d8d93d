package notify

import (
	"context"
	"fmt"

	"github.com/loanly/loanly-platform/internal/decision"
	"github.com/loanly/loanly-platform/pkg/logging"
)

// SMSSender sends SMS messages to applicants.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Service sends the applicant a human-readable message once a verdict is
// persisted. Delivery is best effort: finalization never fails because an
// SMS did not go out.
type Service struct {
	sms     SMSSender
	enabled bool
	logger  *logging.Logger
}

// NewService creates a notification service.
func NewService(sms SMSSender, enabled bool, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{sms: sms, enabled: enabled, logger: logger}
}

// SendVerdict texts the decision to the applicant.
func (s *Service) SendVerdict(ctx context.Context, to, name, applicationLabel string, verdict decision.Verdict) error {
	if !s.enabled || s.sms == nil {
		s.logger.Debug("verdict notification skipped", "to", to)
		return nil
	}
	body := VerdictMessage(name, applicationLabel, verdict)
	if err := s.sms.SendSMS(ctx, to, body); err != nil {
		s.logger.Warn("failed to send verdict sms", "error", err, "to", to)
		return fmt.Errorf("notify: send verdict: %w", err)
	}
	s.logger.Info("verdict sms sent", "to", to, "verdict", string(verdict))
	return nil
}

// VerdictMessage builds the SMS body for a verdict category.
func VerdictMessage(name, applicationLabel string, verdict decision.Verdict) string {
	if name == "" {
		name = "Customer"
	}
	switch verdict {
	case decision.VerdictApproved:
		return fmt.Sprintf("Hi %s, good news! Your %s application has been approved for further processing. Our team will contact you with next steps.", name, applicationLabel)
	case decision.VerdictRejected:
		return fmt.Sprintf("Hi %s, thank you for applying. We are unable to approve your %s application at this time. You may reapply after six months.", name, applicationLabel)
	default:
		return fmt.Sprintf("Hi %s, thank you for applying. Your %s application needs a manual verification step. Our team will reach out to you shortly.", name, applicationLabel)
	}
}
