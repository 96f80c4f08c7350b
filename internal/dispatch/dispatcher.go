package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/auditfactory/internal/contract"
	"github.com/lucasnoah/auditfactory/internal/logging"
)

// Policy controls timeouts and retries for one skill.
type Policy struct {
	Timeout   time.Duration
	Retryable bool
}

// DefaultPolicy applies to skills without an explicit policy.
var DefaultPolicy = Policy{Timeout: 60 * time.Second, Retryable: false}

// Skills whose side effects make a second attempt unsafe regardless of configuration.
var neverRetry = map[string]bool{
	contract.SkillPublish: true,
}

// Dispatcher is the single entry point for invoking agent skills. Every call
// is validated against the skill's contract on the way in and on the way out.
type Dispatcher struct {
	contracts *contract.Registry
	fallback  Backend
	backends  map[string]Backend
	policies  map[string]Policy
	log       *logging.Logger
	metrics   *Metrics
}

// New creates a Dispatcher that routes every role to fallback unless SetBackend
// assigns a different backend.
func New(contracts *contract.Registry, fallback Backend, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{
		contracts: contracts,
		fallback:  fallback,
		backends:  make(map[string]Backend),
		policies:  make(map[string]Policy),
		log:       log.Named("dispatch"),
	}
}

// SetBackend routes role to b.
func (d *Dispatcher) SetBackend(role string, b Backend) {
	d.backends[role] = b
}

// SetPolicy overrides the policy for skill.
func (d *Dispatcher) SetPolicy(skill string, p Policy) {
	d.policies[skill] = p
}

// SetMetrics enables call metrics.
func (d *Dispatcher) SetMetrics(m *Metrics) {
	d.metrics = m
}

// PolicyFor returns the effective policy for skill.
func (d *Dispatcher) PolicyFor(skill string) Policy {
	p, ok := d.policies[skill]
	if !ok {
		p = DefaultPolicy
	}
	if neverRetry[skill] {
		p.Retryable = false
	}
	return p
}

// BackendFor returns the backend role is routed to.
func (d *Dispatcher) BackendFor(role string) Backend {
	if b, ok := d.backends[role]; ok {
		return b
	}
	return d.fallback
}

// Call invokes skill on role. The correlation id on ctx (one is generated
// when absent) travels with the call. Errors are *ContractError or *Error,
// or the context's error when the caller cancelled.
func (d *Dispatcher) Call(ctx context.Context, role, skill string, input map[string]any) (map[string]any, error) {
	ctx, _ = logging.EnsureCorrelationID(ctx)

	c, ok := d.contracts.Lookup(role, skill)
	if !ok {
		err := &Error{Kind: KindUnsupported, Role: role, Skill: skill, Err: errors.New("no contract declared")}
		d.observe(ctx, role, skill, "", string(KindUnsupported), 0)
		return nil, err
	}
	if err := contract.Validate(c.Input, input); err != nil {
		var ve *contract.ViolationError
		errors.As(err, &ve)
		d.observe(ctx, role, skill, "", "contract_violation", 0)
		d.log.Warn(ctx, "input contract violation",
			zap.String("role", role), zap.String("skill", skill),
			zap.String("field", ve.Field), zap.String("reason", ve.Reason))
		return nil, &ContractError{Role: role, Skill: skill, Phase: "input", Violation: ve}
	}

	backend := d.BackendFor(role)
	if backend == nil {
		return nil, &Error{Kind: KindUnsupported, Role: role, Skill: skill, Err: errors.New("no backend configured")}
	}
	policy := d.PolicyFor(skill)

	out, err := d.invoke(ctx, backend, role, skill, input, policy)
	if err != nil && policy.Retryable && retryable(err) && ctx.Err() == nil {
		d.log.Info(ctx, "retrying agent call",
			zap.String("role", role), zap.String("skill", skill), zap.Error(err))
		if d.metrics != nil {
			d.metrics.Retries.WithLabelValues(role, skill).Inc()
		}
		out, err = d.invoke(ctx, backend, role, skill, input, policy)
	}
	if err != nil {
		return nil, err
	}

	if err := contract.Validate(c.Output, out); err != nil {
		var ve *contract.ViolationError
		errors.As(err, &ve)
		d.log.Warn(ctx, "output contract violation",
			zap.String("role", role), zap.String("skill", skill),
			zap.String("field", ve.Field), zap.String("reason", ve.Reason))
		return nil, &ContractError{Role: role, Skill: skill, Phase: "output", Violation: ve}
	}
	return out, nil
}

func (d *Dispatcher) invoke(ctx context.Context, b Backend, role, skill string, input map[string]any, p Policy) (map[string]any, error) {
	callCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := b.Invoke(callCtx, role, skill, input)
	elapsed := time.Since(start)

	switch {
	case ctx.Err() != nil:
		// The caller gave up; that is not the agent's failure.
		err = fmt.Errorf("dispatch %s/%s: %w", role, skill, ctx.Err())
		out = nil
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		err = &Error{Kind: KindTimeout, Role: role, Skill: skill, Err: fmt.Errorf("no reply within %s", p.Timeout)}
		out = nil
	case err != nil:
		var de *Error
		if !errors.As(err, &de) {
			err = &Error{Kind: KindAgentFailed, Role: role, Skill: skill, Err: err}
		}
	}

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "cancelled"
		}
	}
	d.observe(ctx, role, skill, b.Name(), outcome, elapsed)
	d.log.Debug(ctx, "agent call",
		zap.String("role", role), zap.String("skill", skill), zap.String("backend", b.Name()),
		zap.String("outcome", outcome), zap.Duration("duration", elapsed))
	return out, err
}

func (d *Dispatcher) observe(_ context.Context, role, skill, backend, outcome string, elapsed time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.Calls.WithLabelValues(role, skill, backend, outcome).Inc()
	if backend != "" {
		d.metrics.Duration.WithLabelValues(role, skill, backend).Observe(elapsed.Seconds())
	}
}
