package agents

import (
	"context"
	"strings"
)

// Decision is a guardrail verdict.
type Decision string

const (
	DecisionPass Decision = "pass"
	DecisionFlag Decision = "flag"
)

// Verdict is the outcome of one guardrail check.
type Verdict struct {
	Decision Decision
	Reason   string
}

// GuardrailInput is what a guardrail inspects: the assistant's output text
// plus the company-name context it speaks for.
type GuardrailInput struct {
	Text        string
	CompanyName string
}

// Guardrail is a post-hoc content check over generated output. A FLAG
// verdict is observable but never terminates the session by itself.
type Guardrail interface {
	Name() string
	Check(ctx context.Context, in GuardrailInput) (Verdict, error)
}

// BannedTerms flags output containing any of a fixed set of terms,
// case-insensitively.
type BannedTerms struct {
	name  string
	terms []string
}

// NewBannedTerms creates a banned-term guardrail. The name keys idempotent
// appension; terms are matched case-insensitively as substrings.
func NewBannedTerms(name string, terms ...string) *BannedTerms {
	lowered := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			lowered = append(lowered, term)
		}
	}
	return &BannedTerms{name: name, terms: lowered}
}

func (g *BannedTerms) Name() string { return g.name }

func (g *BannedTerms) Check(_ context.Context, in GuardrailInput) (Verdict, error) {
	text := strings.ToLower(in.Text)
	for _, term := range g.terms {
		if strings.Contains(text, term) {
			return Verdict{Decision: DecisionFlag, Reason: "output contains banned term " + term}, nil
		}
	}
	return Verdict{Decision: DecisionPass}, nil
}
