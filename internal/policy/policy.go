// Package policy evaluates business rules before a payment is initiated.
package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/payment-confirmation/internal/adapter"
)

// PolicyDecision represents the outcome of a policy evaluation.
type PolicyDecision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// PolicyRule is one DSL rule. Expressions see the parameters amount,
// provider and transaction_type.
type PolicyRule struct {
	ID         string         `json:"id"`
	Expression string         `json:"expression"`
	Decision   PolicyDecision `json:"decision"`
}

type compiledRule struct {
	PolicyRule
	expr *govaluate.EvaluableExpression
}

// PaymentPolicyEnforcer evaluates rules in order; the first match wins.
type PaymentPolicyEnforcer struct {
	rules []compiledRule
}

// NewPaymentPolicyEnforcer compiles rules. Any invalid rule fails the whole set.
func NewPaymentPolicyEnforcer(rules []PolicyRule) (*PaymentPolicyEnforcer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Expression == "" {
			return nil, fmt.Errorf("policy rule ID '%s' has an empty expression", r.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule ID '%s': %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{PolicyRule: r, expr: expr})
	}
	return &PaymentPolicyEnforcer{rules: compiled}, nil
}

// LoadRules reads a JSON array of rules from path.
func LoadRules(path string) ([]PolicyRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy rules file %s: %w", path, err)
	}
	var rules []PolicyRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse policy rules file %s: %w", path, err)
	}
	return rules, nil
}

// Evaluate checks req against the rules. With no matching rule the payment is allowed.
func (ppe *PaymentPolicyEnforcer) Evaluate(req adapter.InitiateRequest) (PolicyDecision, error) {
	params := map[string]interface{}{
		"amount":           float64(req.Amount),
		"provider":         string(req.Provider),
		"transaction_type": string(req.TransactionType),
	}

	for _, r := range ppe.rules {
		result, err := r.expr.Evaluate(params)
		if err != nil {
			return PolicyDecision{}, fmt.Errorf("failed to evaluate rule ID '%s': %w", r.ID, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return PolicyDecision{}, fmt.Errorf("rule ID '%s' did not evaluate to a boolean (got %T)", r.ID, result)
		}
		if matched {
			d := r.Decision
			if d.Reason == "" {
				d.Reason = r.ID
			}
			return d, nil
		}
	}
	return PolicyDecision{Allow: true}, nil
}
