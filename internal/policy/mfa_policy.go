package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/sandeepkv93/session-guard/internal/domain"
)

const mfaQuery = "data.session_guard.mfa.required"

// defaultMFAPolicy decides whether a login must pass a second factor.
const defaultMFAPolicy = `package session_guard.mfa

default required := false

required if input.risk == "SEVERE"

required if {
	mfa_expected
	not input.last_mfa.present
}

required if {
	mfa_expected
	input.risk == "HIGH"
	input.last_mfa.age_hours > input.thresholds.high_hours
}

required if {
	mfa_expected
	input.risk == "MEDIUM"
	input.last_mfa.age_hours > input.thresholds.medium_hours
}

mfa_expected if input.user.mfa_enabled

mfa_expected if input.org.require_mfa
`

type MFAInput struct {
	Risk           domain.RiskLevel
	UserMFAEnabled bool
	OrgRequiresMFA bool
	LastMFAAt      *time.Time
	Now            time.Time
}

type MFAThresholds struct {
	StaleAfterHigh   time.Duration
	StaleAfterMedium time.Duration
}

// MFAPolicy evaluates the MFA requirement with an embedded Rego policy. If
// evaluation fails the same rules are applied in Go.
type MFAPolicy struct {
	thresholds MFAThresholds
	query      rego.PreparedEvalQuery
}

func NewMFAPolicy(ctx context.Context, thresholds MFAThresholds) (*MFAPolicy, error) {
	return newMFAPolicy(ctx, defaultMFAPolicy, thresholds)
}

func newMFAPolicy(ctx context.Context, module string, thresholds MFAThresholds) (*MFAPolicy, error) {
	compiler, err := ast.CompileModules(map[string]string{"mfa.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile mfa policy: %w", err)
	}
	query, err := rego.New(
		rego.Query(mfaQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare mfa policy: %w", err)
	}
	return &MFAPolicy{thresholds: thresholds, query: query}, nil
}

func (p *MFAPolicy) Required(ctx context.Context, in MFAInput) (bool, error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(p.buildInput(in)))
	if err != nil {
		slog.WarnContext(ctx, "mfa policy evaluation failed, using built-in rules", "error", err)
		return p.fallback(in), nil
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return p.fallback(in), nil
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return p.fallback(in), nil
	}
	return v, nil
}

func (p *MFAPolicy) buildInput(in MFAInput) map[string]any {
	lastMFA := map[string]any{"present": false, "age_hours": 0.0}
	if in.LastMFAAt != nil {
		lastMFA["present"] = true
		lastMFA["age_hours"] = in.Now.Sub(*in.LastMFAAt).Hours()
	}
	return map[string]any{
		"risk":     in.Risk.String(),
		"user":     map[string]any{"mfa_enabled": in.UserMFAEnabled},
		"org":      map[string]any{"require_mfa": in.OrgRequiresMFA},
		"last_mfa": lastMFA,
		"thresholds": map[string]any{
			"high_hours":   p.thresholds.StaleAfterHigh.Hours(),
			"medium_hours": p.thresholds.StaleAfterMedium.Hours(),
		},
	}
}

func (p *MFAPolicy) fallback(in MFAInput) bool {
	if in.Risk >= domain.RiskSevere {
		return true
	}
	if !in.UserMFAEnabled && !in.OrgRequiresMFA {
		return false
	}
	if in.LastMFAAt == nil {
		return true
	}
	age := in.Now.Sub(*in.LastMFAAt)
	switch in.Risk {
	case domain.RiskHigh:
		return age > p.thresholds.StaleAfterHigh
	case domain.RiskMedium:
		return age > p.thresholds.StaleAfterMedium
	default:
		return false
	}
}
