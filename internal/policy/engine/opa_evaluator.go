package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/patrickmn/go-cache"

	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/tenantsettings/domain"
)

const decisionQuery = "data.trailwatch.alerts.decision"

// Default Rego policy: notify unless the label is ignored or below the tenant's confidence floor.
const defaultRegoPolicy = `package trailwatch.alerts

reasons contains "below_min_confidence" if {
	input.confidence < input.policy.min_confidence
}

reasons contains "ignored_label" if {
	input.label in input.policy.ignored_labels
}

decision := {"notify": count(reasons) == 0, "reasons": reasons}
`

// OPAEvaluator evaluates alert policies using OPA Rego. Prepared queries for tenant
// overrides are cached by module digest.
type OPAEvaluator struct {
	defaultOnce sync.Once
	defaultQ    rego.PreparedEvalQuery
	defaultErr  error

	prepared *cache.Cache
}

// NewOPAEvaluator returns an OPA-based alert evaluator.
func NewOPAEvaluator() *OPAEvaluator {
	return &OPAEvaluator{prepared: cache.New(30*time.Minute, 10*time.Minute)}
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and evaluate the default policy.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	q, err := e.defaultQuery()
	if err != nil {
		return err
	}
	_, ok, err := evalDecision(ctx, q, buildInput(domain.AlertPolicy{}, AlertInput{Label: "deer", Confidence: 1}))
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	if !ok {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// EvaluateAlert runs the tenant's PolicyRego when set, otherwise the default policy.
// A tenant module that fails to compile or yields no decision falls back to the default.
// If even the default fails, the decision is to notify.
func (e *OPAEvaluator) EvaluateAlert(ctx context.Context, policy domain.AlertPolicy, in AlertInput) (AlertDecision, error) {
	input := buildInput(policy, in)

	if strings.TrimSpace(policy.PolicyRego) != "" {
		q, err := e.tenantQuery(ctx, policy.PolicyRego)
		if err == nil {
			d, ok, evalErr := evalDecision(ctx, q, input)
			if evalErr == nil && ok {
				return d, nil
			}
			err = evalErr
			if err == nil {
				err = fmt.Errorf("policy defines no %s", decisionQuery)
			}
		}
		logging.Warn(ctx, "policy: tenant alert policy unusable, using default",
			slog.String("owner_id", in.OwnerID), slog.Any("err", errs.Loggable(err)))
	}

	q, err := e.defaultQuery()
	if err != nil {
		return AlertDecision{Notify: true}, err
	}
	d, ok, err := evalDecision(ctx, q, input)
	if err != nil {
		return AlertDecision{Notify: true}, errs.Wrap(err, "policy: default evaluation")
	}
	if !ok {
		return AlertDecision{Notify: true}, fmt.Errorf("policy: default evaluation: %s undefined", decisionQuery)
	}
	return d, nil
}

// defaultQuery prepares the built-in policy once. The result is kept for the process
// lifetime, so it is not tied to any request context.
func (e *OPAEvaluator) defaultQuery() (rego.PreparedEvalQuery, error) {
	e.defaultOnce.Do(func() {
		e.defaultQ, e.defaultErr = prepare(context.Background(), defaultRegoPolicy)
	})
	return e.defaultQ, e.defaultErr
}

func (e *OPAEvaluator) tenantQuery(ctx context.Context, module string) (rego.PreparedEvalQuery, error) {
	sum := sha256.Sum256([]byte(module))
	key := hex.EncodeToString(sum[:])
	if v, ok := e.prepared.Get(key); ok {
		return v.(rego.PreparedEvalQuery), nil
	}
	q, err := prepare(ctx, module)
	if err != nil {
		return rego.PreparedEvalQuery{}, err
	}
	e.prepared.SetDefault(key, q)
	return q, nil
}

func prepare(ctx context.Context, module string) (rego.PreparedEvalQuery, error) {
	compiler, err := ast.CompileModules(map[string]string{"alerts.rego": module})
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("compile policy: %w", err)
	}
	return rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
}

func buildInput(policy domain.AlertPolicy, in AlertInput) map[string]interface{} {
	ignored := make([]interface{}, 0, len(policy.IgnoredLabels))
	for _, l := range policy.IgnoredLabels {
		ignored = append(ignored, strings.ToLower(strings.TrimSpace(l)))
	}
	labeledAt := ""
	if !in.LabeledAt.IsZero() {
		labeledAt = in.LabeledAt.UTC().Format(time.RFC3339)
	}
	return map[string]interface{}{
		"owner_id":   in.OwnerID,
		"label":      strings.ToLower(strings.TrimSpace(in.Label)),
		"confidence": in.Confidence,
		"labeled_at": labeledAt,
		"hour_utc":   in.LabeledAt.UTC().Hour(),
		"policy": map[string]interface{}{
			"min_confidence": policy.MinConfidence,
			"ignored_labels": ignored,
		},
	}
}

// evalDecision returns ok=false when the query is undefined or not shaped as a decision.
func evalDecision(ctx context.Context, q rego.PreparedEvalQuery, input map[string]interface{}) (AlertDecision, bool, error) {
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return AlertDecision{}, false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return AlertDecision{}, false, nil
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return AlertDecision{}, false, nil
	}
	notify, ok := obj["notify"].(bool)
	if !ok {
		return AlertDecision{}, false, nil
	}
	d := AlertDecision{Notify: notify}
	if raw, ok := obj["reasons"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				d.Reasons = append(d.Reasons, s)
			}
		}
		sort.Strings(d.Reasons)
	}
	return d, true, nil
}
