package decision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/loanly/loanly-platform/pkg/logging"
)

const evaluationSystemPrompt = "You are an underwriting assistant for an Indian consumer " +
	"lender. You are given the answers a phone applicant gave during an automated " +
	"interview. Evaluate the application conservatively and respond with exactly one " +
	"word: APPROVED, REJECTED, or NEEDS_VERIFICATION. Respond NEEDS_VERIFICATION " +
	"whenever the answers are incomplete, inconsistent, or you are unsure."

var loanRubric = "Loan rubric: age 21-60, stable income covering the requested EMI, " +
	"reasonable loan purpose, CIBIL score above 700 preferred, existing EMI burden " +
	"below half of income."

var creditCardRubric = "Credit card rubric: age 21-60, stable employment, CIBIL score " +
	"above 700 preferred, no payment defaults, household expenditure leaving room for " +
	"a credit line."

// Service evaluates aggregated interview answers into a verdict.
type Service struct {
	llm    LLMClient
	model  string
	logger *logging.Logger
}

// NewService creates an evaluation service. A nil LLM client is tolerated;
// Evaluate then always falls back to NEEDS_VERIFICATION.
func NewService(llm LLMClient, model string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{llm: llm, model: model, logger: logger}
}

// Evaluate submits the canonicalized question-to-answer record and maps the
// raw output onto the closed verdict set. On any transport or contract
// failure it returns the conservative verdict alongside the error so callers
// can proceed without special-casing.
func (s *Service) Evaluate(ctx context.Context, applicationType string, answers map[string]string) (Verdict, error) {
	if s.llm == nil {
		return VerdictNeedsVerification, errors.New("decision: llm client not configured")
	}
	if len(answers) == 0 {
		return VerdictNeedsVerification, errors.New("decision: no answers to evaluate")
	}

	rubric := loanRubric
	if applicationType == "credit_card" {
		rubric = creditCardRubric
	}

	resp, err := s.llm.Complete(ctx, LLMRequest{
		Model:       s.model,
		System:      []string{evaluationSystemPrompt, rubric},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: formatAnswers(applicationType, answers)}},
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		s.logger.Error("decision evaluation failed", "error", err, "application_type", applicationType)
		return VerdictNeedsVerification, fmt.Errorf("decision: evaluate: %w", err)
	}

	verdict := ParseVerdict(resp.Text)
	s.logger.Info("decision evaluated",
		"application_type", applicationType,
		"verdict", string(verdict),
		"answered", len(answers),
	)
	return verdict, nil
}

// formatAnswers renders the record deterministically so identical sessions
// produce identical prompts.
func formatAnswers(applicationType string, answers map[string]string) string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Application type: %s\n\n", applicationType)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, answers[k])
	}
	return b.String()
}
