package smartcfg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Engine runs the check-set-verify state machine for one DesiredConfig
// against one transport. For each declared key it queries the current
// value, compares, sets only on a mismatch and re-queries to verify,
// so a converged modem sees exactly one query per key and zero writes.
//
// The engine owns the transport exclusively for the duration of a run;
// command/response pairing over the serial channel cannot tolerate
// interleaved traffic.
type Engine struct {
	registry   *Registry
	transport  CommandExecutor
	logger     *slog.Logger
	retries    int
	retryDelay time.Duration
}

// EngineOption is a function that modifies an Engine
type EngineOption func(*Engine)

// WithLogger sets the logger used for per-key progress and warnings.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithRetries sets how many times a failed query is retried before the
// key is recorded as failed.
func WithRetries(n int) EngineOption {
	return func(e *Engine) { e.retries = n }
}

// WithRetryDelay sets the fixed pause between query attempts.
func WithRetryDelay(d time.Duration) EngineOption {
	return func(e *Engine) { e.retryDelay = d }
}

func NewEngine(registry *Registry, transport CommandExecutor, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:   registry,
		transport:  transport,
		logger:     slog.Default(),
		retries:    3,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries the mutable state of one reconciliation pass: the report
// being built and the currently open toggle bracket, if any.
type run struct {
	*Engine
	report *Report
	open   *Toggle
}

// Reconcile processes the desired configuration in declaration order and
// returns the per-key report. Individual key failures are recorded and
// never abort the run; only ErrTransportLost does, in which case the
// partial report is returned alongside the error. Cancellation is
// observed between keys, never mid-key, and still closes an open toggle
// bracket before returning.
func (e *Engine) Reconcile(ctx context.Context, desired *DesiredConfig) (*Report, error) {
	r := &run{Engine: e, report: NewReport()}

	for _, section := range desired.Sections {
		for _, setting := range section.Settings {
			if err := ctx.Err(); err != nil {
				// The re-enable must run even now; a detached context
				// keeps the cancellation from suppressing it.
				if cerr := r.closeToggle(context.WithoutCancel(ctx)); cerr != nil {
					r.logger.Error("toggle re-enable failed during cancellation", "error", cerr)
				}
				return r.report, err
			}

			key := section.Name + "." + setting.Name
			spec, ok := e.registry.Lookup(key)
			if !ok {
				if err := r.closeToggle(ctx); err != nil {
					return r.report, err
				}
				e.logger.Warn("unknown configuration key", "key", key)
				r.report.Record(Outcome{Key: key, Section: section.Name, Status: StatusUnknown})
				continue
			}

			// Leaving a toggle bracket re-enables the subsystem
			// before anything unrelated runs.
			if r.open != nil && !sameToggle(r.open, spec.Toggle) {
				if err := r.closeToggle(ctx); err != nil {
					return r.report, err
				}
			}

			if err := r.reconcileKey(ctx, spec, setting.Value); err != nil {
				return r.report, err
			}
		}
	}

	if err := r.closeToggle(ctx); err != nil {
		return r.report, err
	}

	summary := r.report.Summary()
	e.logger.Info("reconciliation finished",
		"checked", summary.Checked,
		"changed", summary.Changed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"unknown", summary.Unknown)

	return r.report, nil
}

// reconcileKey drives one key through the state machine. It returns an
// error only for fatal transport loss; everything else is recorded in
// the report.
func (r *run) reconcileKey(ctx context.Context, spec *ParameterSpec, declared Value) error {
	resp, err := r.query(ctx, spec)
	if err != nil {
		if errors.Is(err, ErrTransportLost) {
			return err
		}
		r.logger.Error("query failed", "key", spec.Key, "error", err)
		r.report.Record(Outcome{
			Key: spec.Key, Section: spec.Section,
			Status: StatusFailed, Reason: ReasonQuery, Err: err,
		})
		return nil
	}

	current, known := r.currentValue(spec, resp)
	if known && spec.Codec.Equal(declared, current) {
		r.logger.Debug("already correct", "key", spec.Key, "value", declared)
		r.report.Record(Outcome{
			Key: spec.Key, Section: spec.Section,
			Status: StatusSkipped, Previous: current.String(),
		})
		return nil
	}

	previous := ""
	if known {
		previous = current.String()
	}
	r.logger.Info("applying change", "key", spec.Key, "from", previous, "to", declared)

	if err := r.openToggle(ctx, spec.Toggle); err != nil {
		return err
	}

	setCmd := spec.Set(spec.Codec.Render(declared))
	if _, err := r.transport.Exec(ctx, setCmd); err != nil {
		if errors.Is(err, ErrTransportLost) {
			return err
		}
		r.logger.Error("set failed", "key", spec.Key, "command", setCmd, "error", err)
		r.report.Record(Outcome{
			Key: spec.Key, Section: spec.Section,
			Status: StatusFailed, Reason: ReasonSet, Err: err,
			Previous: previous,
		})
		return nil
	}

	return r.verify(ctx, spec, declared, previous)
}

// verify re-queries after a set. A mismatch here means the modem accepted
// the command but the value did not take effect, which is suspicious but
// not fatal to the run.
func (r *run) verify(ctx context.Context, spec *ParameterSpec, declared Value, previous string) error {
	resp, err := r.query(ctx, spec)
	if err != nil {
		if errors.Is(err, ErrTransportLost) {
			return err
		}
		r.logger.Error("verify query failed", "key", spec.Key, "error", err)
		r.report.Record(Outcome{
			Key: spec.Key, Section: spec.Section,
			Status: StatusFailed, Reason: ReasonVerify, Err: err,
			Previous: previous,
		})
		return nil
	}

	current, known := r.currentValue(spec, resp)
	if known && spec.Codec.Equal(declared, current) {
		r.logger.Info("change verified", "key", spec.Key, "value", declared)
		r.report.Record(Outcome{
			Key: spec.Key, Section: spec.Section,
			Status: StatusChanged, Previous: previous, Applied: declared.String(),
		})
		return nil
	}

	got := "<unset>"
	if known {
		got = current.String()
	}
	r.logger.Warn("set accepted but value did not take effect",
		"key", spec.Key, "want", declared, "got", got)
	r.report.Record(Outcome{
		Key: spec.Key, Section: spec.Section,
		Status: StatusFailed, Reason: ReasonVerify,
		Err:      fmt.Errorf("want %s, modem reports %s", declared, got),
		Previous: previous,
	})
	return nil
}

// query sends the key's query command, retrying with a fixed delay. A
// transport-lost error aborts immediately; other errors are retried until
// the attempt budget is exhausted.
func (r *run) query(ctx context.Context, spec *ParameterSpec) (string, error) {
	var last error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.retryDelay)
		}

		resp, err := r.transport.Exec(ctx, spec.Query)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrTransportLost) {
			return "", err
		}
		last = err

		if ctx.Err() != nil {
			break
		}
	}
	return "", last
}

// currentValue extracts and parses the key's current value from a query
// response. The second return is false when the value is unknown: either
// no line matched (currently unset) or the payload did not parse. An
// unparseable current value cannot be trusted to already be correct, so
// the engine proceeds to set in both cases.
func (r *run) currentValue(spec *ParameterSpec, resp string) (Value, bool) {
	payload, found := spec.ExtractPayload(resp)
	if !found {
		if spec.AbsentValue != nil {
			return *spec.AbsentValue, true
		}
		return Value{}, false
	}

	value, err := spec.Codec.Parse(payload)
	if err != nil {
		r.logger.Warn("could not parse current value, proceeding to set",
			"key", spec.Key, "payload", payload, "error", err)
		return Value{}, false
	}
	return value, true
}

// openToggle sends the disable command before the first set that needs
// it. The disable is best-effort: some modems reject it when the
// subsystem is already off, which is not an error for the key being set.
func (r *run) openToggle(ctx context.Context, toggle *Toggle) error {
	if toggle == nil || sameToggle(r.open, toggle) {
		return nil
	}
	if _, err := r.transport.Exec(ctx, toggle.Disable); err != nil {
		if errors.Is(err, ErrTransportLost) {
			return err
		}
		r.logger.Warn("toggle disable rejected", "command", toggle.Disable, "error", err)
	}
	r.open = toggle
	return nil
}

// closeToggle sends the re-enable command of the open bracket, if any.
// This is a must-run compensating action: leaving the subsystem powered
// off is worse than leaving one parameter unconfirmed.
func (r *run) closeToggle(ctx context.Context) error {
	if r.open == nil {
		return nil
	}
	toggle := r.open
	r.open = nil

	if _, err := r.transport.Exec(ctx, toggle.Enable); err != nil {
		if errors.Is(err, ErrTransportLost) {
			return err
		}
		r.logger.Error("toggle re-enable failed", "command", toggle.Enable, "error", err)
	}
	return nil
}
