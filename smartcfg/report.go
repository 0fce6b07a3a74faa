package smartcfg

import "fmt"

// Status is the terminal state of one key's reconciliation.
type Status int

const (
	// StatusSkipped means the current value already matched.
	StatusSkipped Status = iota
	// StatusChanged means a set was applied and verified.
	StatusChanged
	// StatusFailed means the query, set or verify leg failed; see Reason.
	StatusFailed
	// StatusUnknown means the key has no registry entry.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusChanged:
		return "changed"
	case StatusFailed:
		return "failed"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Reason classifies which leg of the state machine a failure occurred in.
type Reason string

const (
	ReasonQuery  Reason = "query_error"
	ReasonSet    Reason = "set_error"
	ReasonVerify Reason = "verify_mismatch"
)

// Outcome records the result of reconciling one key. Immutable once
// recorded.
type Outcome struct {
	Key     string
	Section string
	Status  Status
	// Reason is set for StatusFailed only.
	Reason Reason
	// Err carries the underlying failure detail, if any.
	Err error
	// Previous is the current value observed before a change, for
	// display. Empty when it could not be determined.
	Previous string
	// Applied is the declared value for changed keys.
	Applied string
}

// Summary holds the aggregate counts of a run. Checked counts keys that
// resolved to a registry entry and were attempted; unknown keys are
// counted separately.
type Summary struct {
	Checked int
	Changed int
	Skipped int
	Failed  int
	Unknown int
}

func (s Summary) String() string {
	return fmt.Sprintf("checked=%d changed=%d skipped=%d failed=%d unknown=%d",
		s.Checked, s.Changed, s.Skipped, s.Failed, s.Unknown)
}

// Report accumulates per-key outcomes for one reconciliation run. It is
// exclusively owned by that run and never shared between runs.
type Report struct {
	outcomes []Outcome
	summary  Summary
}

func NewReport() *Report {
	return &Report{}
}

// Record appends an outcome and updates the running counts.
func (r *Report) Record(o Outcome) {
	r.outcomes = append(r.outcomes, o)

	switch o.Status {
	case StatusUnknown:
		r.summary.Unknown++
		return
	case StatusChanged:
		r.summary.Changed++
	case StatusSkipped:
		r.summary.Skipped++
	case StatusFailed:
		r.summary.Failed++
	}
	r.summary.Checked++
}

// Summary returns the aggregate counts recorded so far.
func (r *Report) Summary() Summary {
	return r.summary
}

// Outcomes returns all recorded outcomes in processing order.
func (r *Report) Outcomes() []Outcome {
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// OutcomesFor returns the outcomes of one section in processing order.
func (r *Report) OutcomesFor(section string) []Outcome {
	var out []Outcome
	for _, o := range r.outcomes {
		if o.Section == section {
			out = append(out, o)
		}
	}
	return out
}

// Problems returns the failed and unknown outcomes, for error listings.
func (r *Report) Problems() []Outcome {
	var out []Outcome
	for _, o := range r.outcomes {
		if o.Status == StatusFailed || o.Status == StatusUnknown {
			out = append(out, o)
		}
	}
	return out
}
