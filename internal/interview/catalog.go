package interview

import (
	"fmt"
	"strings"
)

// ApplicationType selects which questionnaire a call walks through.
type ApplicationType string

const (
	ApplicationLoan       ApplicationType = "loan"
	ApplicationCreditCard ApplicationType = "credit_card"
)

// ParseApplicationType validates a raw application type value.
func ParseApplicationType(raw string) (ApplicationType, error) {
	switch ApplicationType(strings.TrimSpace(strings.ToLower(raw))) {
	case ApplicationLoan:
		return ApplicationLoan, nil
	case ApplicationCreditCard:
		return ApplicationCreditCard, nil
	default:
		return "", fmt.Errorf("interview: unsupported application type %q", raw)
	}
}

// Label returns the human wording used in spoken prompts.
func (t ApplicationType) Label() string {
	if t == ApplicationCreditCard {
		return "credit card"
	}
	return string(t)
}

var loanQuestions = []string{
	"What is your current age?",
	"What is your monthly income in Indian Rupees?",
	"Are you a salaried employee, self-employed, or a business owner?",
	"In which city and state do you currently reside?",
	"What is your current occupation and industry?",
	"How much loan amount are you seeking in Indian Rupees?",
	"Do you have a CIBIL credit score?",
	"Are you a first-time loan applicant?",
	"Do you have any existing EMIs or loan commitments?",
	"What is the primary purpose of this loan?",
}

var creditCardQuestions = []string{
	"What is your current age?",
	"What is your annual income in Indian Rupees?",
	"Are you employed in private sector, government, or self-employed?",
	"In which city do you currently work?",
	"Do you have any existing credit cards?",
	"What is your CIBIL credit score?",
	"Have you ever defaulted on any credit or loan payment?",
	"What is your typical monthly household expenditure?",
	"Do you have any existing loan EMIs?",
	"Are you a first-time credit card applicant?",
}

// Catalog supplies the ordered prompt list per application type. Lists are
// fixed at construction; credit-card prompts can be disabled by their
// position in the full list without reordering the survivors.
type Catalog struct {
	loan       []string
	creditCard []string
}

// NewCatalog builds a catalog, dropping the credit-card prompts whose
// positions appear in disabledCC.
func NewCatalog(disabledCC []int) *Catalog {
	disabled := make(map[int]bool, len(disabledCC))
	for _, i := range disabledCC {
		disabled[i] = true
	}
	cc := make([]string, 0, len(creditCardQuestions))
	for i, q := range creditCardQuestions {
		if disabled[i] {
			continue
		}
		cc = append(cc, q)
	}
	return &Catalog{
		loan:       loanQuestions,
		creditCard: cc,
	}
}

// Questions returns the active ordered prompt list for the application type.
func (c *Catalog) Questions(t ApplicationType) []string {
	if t == ApplicationCreditCard {
		return c.creditCard
	}
	return c.loan
}

// CanonicalKey converts a prompt into the answer-record key: lower-cased,
// trailing question mark stripped, spaces replaced with underscores.
func CanonicalKey(question string) string {
	key := strings.ToLower(strings.TrimSpace(question))
	key = strings.TrimSuffix(key, "?")
	return strings.ReplaceAll(key, " ", "_")
}
