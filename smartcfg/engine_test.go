package smartcfg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"testing"
)

type scriptedResult struct {
	resp string
	err  error
}

// fakeExecutor answers commands from per-command FIFO scripts. Commands
// without a script get a bare OK. All traffic is recorded so tests can
// assert on exactly which commands were issued.
type fakeExecutor struct {
	replies  map[string][]scriptedResult
	commands []string
	after    func(cmd string)
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{replies: make(map[string][]scriptedResult)}
}

func (f *fakeExecutor) on(cmd, resp string) {
	f.replies[cmd] = append(f.replies[cmd], scriptedResult{resp: resp})
}

func (f *fakeExecutor) onErr(cmd string, err error) {
	f.replies[cmd] = append(f.replies[cmd], scriptedResult{err: err})
}

func (f *fakeExecutor) Exec(ctx context.Context, cmd string) (string, error) {
	f.commands = append(f.commands, cmd)

	result := scriptedResult{resp: "OK"}
	if queue := f.replies[cmd]; len(queue) > 0 {
		result = queue[0]
		f.replies[cmd] = queue[1:]
	}
	if f.after != nil {
		f.after(cmd)
	}
	return result.resp, result.err
}

func (f *fakeExecutor) count(cmd string) int {
	n := 0
	for _, c := range f.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

func newTestEngine(transport CommandExecutor, opts ...EngineOption) *Engine {
	base := []EngineOption{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetries(0),
		WithRetryDelay(0),
	}
	return NewEngine(Quectel(), transport, append(base, opts...)...)
}

func desired(sections ...Section) *DesiredConfig {
	return &DesiredConfig{Sections: sections}
}

func TestReconcileChange(t *testing.T) {
	f := newFakeExecutor()
	f.on("AT+CMEE?", "+CMEE: 0\nOK")
	f.on("AT+CMEE?", "+CMEE: 2\nOK")

	engine := newTestEngine(f)
	report, err := engine.Reconcile(context.Background(), desired(
		Section{Name: "basic", Settings: []Setting{{Name: "error_reporting", Value: Int(2)}}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantTrace := []string{"AT+CMEE?", "AT+CMEE=2", "AT+CMEE?"}
	if !slices.Equal(f.commands, wantTrace) {
		t.Errorf("expected trace %v, got %v", wantTrace, f.commands)
	}

	summary := report.Summary()
	if summary != (Summary{Checked: 1, Changed: 1}) {
		t.Errorf("unexpected summary: %+v", summary)
	}

	outcome := report.Outcomes()[0]
	if outcome.Status != StatusChanged {
		t.Errorf("expected changed, got %v", outcome.Status)
	}
	if outcome.Previous != "0" || outcome.Applied != "2" {
		t.Errorf("expected previous 0 and applied 2, got %q and %q", outcome.Previous, outcome.Applied)
	}
}

func TestReconcileSkipWhenConverged(t *testing.T) {
	f := newFakeExecutor()
	f.on("AT+CMEE?", "+CMEE: 2\nOK")

	engine := newTestEngine(f)
	report, err := engine.Reconcile(context.Background(), desired(
		Section{Name: "basic", Settings: []Setting{{Name: "error_reporting", Value: Int(2)}}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !slices.Equal(f.commands, []string{"AT+CMEE?"}) {
		t.Errorf("expected a single query, got %v", f.commands)
	}
	if summary := report.Summary(); summary != (Summary{Checked: 1, Skipped: 1}) {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestReconcileMinimality(t *testing.T) {
	f := newFakeExecutor()
	f.on("AT+CMEE?", "+CMEE: 2\nOK")
	f.on("AT+CTZU?", "+CTZU: 1\nOK")
	f.on("AT+QGPS?", "+QGPS: 1\nOK")

	engine := newTestEngine(f)
	report, err := engine.Reconcile(context.Background(), desired(
		Section{Name: "basic", Settings: []Setting{
			{Name: "error_reporting", Value: Int(2)},
			{Name: "time_zone_update", Value: Int(1)},
		}},
		Section{Name: "gnss", Settings: []Setting{
			{Name: "enabled", Value: Bool(true)},
		}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.commands) != 3 {
		t.Errorf("expected exactly one query per key, got %v", f.commands)
	}
	if summary := report.Summary(); summary != (Summary{Checked: 3, Skipped: 3}) {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestToggleBracketing(t *testing.T) {
	f := newFakeExecutor()
	f.on(`AT+QGPSCFG="fixfreq"`, `+QGPSCFG: "fixfreq",0`+"\nOK")
	f.on(`AT+QGPSCFG="fixfreq"`, `+QGPSCFG: "fixfreq",1`+"\nOK")
	f.on(`AT+QGPSCFG="nmeasrc"`, `+QGPSCFG: "nmeasrc",0`+"\nOK")
	f.on(`AT+QGPSCFG="nmeasrc"`, `+QGPSCFG: "nmeasrc",1`+"\nOK")
	f.on("AT+QGPS?", "+QGPS: 1\nOK")

	engine := newTestEngine(f)
	report, err := engine.Reconcile(context.Background(), desired(
		Section{Name: "gnss", Settings: []Setting{
			{Name: "fix_frequency", Value: Int(1)},
			{Name: "nmea_source", Value: Int(1)},
			{Name: "enabled", Value: Bool(true)},
		}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := f.count("AT+QGPSEND"); n != 1 {
		t.Errorf("expected exactly one disable, got %d in %v", n, f.commands)
	}
	if n := f.count("AT+QGPS=1"); n != 1 {
		t.Errorf("expected exactly one re-enable, got %d in %v", n, f.commands)
	}

	disable := slices.Index(f.commands, "AT+QGPSEND")
	firstSet := slices.Index(f.commands, `AT+QGPSCFG="fixfreq",1`)
	enable := slices.Index(f.commands, "AT+QGPS=1")
	powerQuery := slices.Index(f.commands, "AT+QGPS?")
	if disable < 0 || firstSet < 0 || disable > firstSet {
		t.Errorf("disable must precede the first set: %v", f.commands)
	}
	if enable < 0 || powerQuery < 0 || enable > powerQuery {
		t.Errorf("re-enable must precede the power query: %v", f.commands)
	}

	if summary := report.Summary(); summary != (Summary{Checked: 3, Changed: 2, Skipped: 1}) {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestToggleClosedEvenWhenSetFails(t *testing.T) {
	f := newFakeExecutor()
	f.on(`AT+QGPSCFG="fixfreq"`, `+QGPSCFG: "fixfreq",0`+"\nOK")
	f.onErr(`AT+QGPSCFG="fixfreq",1`, errors.New("ERROR"))

	engine := newTestEngine(f)
	report, err := engine.Reconcile(context.Background(), desired(
		Section{Name: "gnss", Settings: []Setting{
			{Name: "fix_frequency", Value: Int(1)},
		}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := f.count("AT+QGPS=1"); n != 1 {
		t.Errorf("re-enable must run after a failed set, got %d in %v", n, f.commands)
	}

	outcome := report.Outcomes()[0]
	if outcome.Status != StatusFailed || outcome.Reason != ReasonSet {
		t.Errorf("expected set failure, got %+v", outcome)
	}
}

func TestUnknownKeyIsolation(t *testing.T) {
	f := newFakeExecutor()
	f.on("AT+CMEE?", "+CMEE: 2\nOK")

	engine := newTestEngine(f)
	report, err := engine.Reconcile(context.Background(), desired(
		Section{Name: "basic", Settings: []Setting{
			{Name: "bogus", Value: Int(1)},
			{Name: "error_reporting", Value: Int(2)},
		}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary := report.Summary(); summary != (Summary{Checked: 1, Skipped: 1, Unknown: 1}) {
		t.Errorf("unexpected summary: %+v", summary)
	}

	outcomes := report.Outcomes()
	if outcomes[0].Key != "basic.bogus" || outcomes[0].Status != StatusUnknown {
		t.Errorf("expected unknown outcome first, got %+v", outcomes[0])
	}
	if outcomes[1].Status != StatusSkipped {
		t.Errorf("expected the known key to reconcile, got %+v", outcomes[1])
	}
}

func TestFatalPropagation(t *testing.T) {
	f := newFakeExecutor()
	f.on("AT+CMEE?", "+CMEE: 2\nOK")
	f.onErr("AT+CTZU?", fmt.Errorf("%w: %w", ErrTransportLost, io.EOF))

	engine := newTestEngine(f)
	report, err := engine.Reconcile(context.Background(), desired(
		Section{Name: "basic", Settings: []Setting{
			{Name: "error_reporting", Value: Int(2)},
			{Name: "time_zone_update", Value: Int(1)},
		}},
	))

	if !errors.Is(err, ErrTransportLost) {
		t.Fatalf("expected ErrTransportLost, got: %v", err)
	}
	if report == nil {
		t.Fatal("expected partial report alongside the error")
	}
	outcomes := report.Outcomes()
	if len(outcomes) != 1 || outcomes[0].Key != "basic.error_reporting" {
		t.Errorf("partial report must only contain keys processed before the failure: %v", outcomes)
	}
}

func TestQueryRetry(t *testing.T) {
	t.Run("Recovers within budget", func(t *testing.T) {
		f := newFakeExecutor()
		f.onErr("AT+CMEE?", errors.New("ERROR"))
		f.onErr("AT+CMEE?", errors.New("ERROR"))
		f.on("AT+CMEE?", "+CMEE: 2\nOK")

		engine := newTestEngine(f, WithRetries(2))
		report, err := engine.Reconcile(context.Background(), desired(
			Section{Name: "basic", Settings: []Setting{{Name: "error_reporting", Value: Int(2)}}},
		))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n := f.count("AT+CMEE?"); n != 3 {
			t.Errorf("expected 3 query attempts, got %d", n)
		}
		if summary := report.Summary(); summary != (Summary{Checked: 1, Skipped: 1}) {
			t.Errorf("unexpected summary: %+v", summary)
		}
	})

	t.Run("Exhaustion records query failure", func(t *testing.T) {
		f := newFakeExecutor()
		f.onErr("AT+CMEE?", errors.New("ERROR"))
		f.onErr("AT+CMEE?", errors.New("ERROR"))

		engine := newTestEngine(f, WithRetries(1))
		report, err := engine.Reconcile(context.Background(), desired(
			Section{Name: "basic", Settings: []Setting{{Name: "error_reporting", Value: Int(2)}}},
		))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		outcome := report.Outcomes()[0]
		if outcome.Status != StatusFailed || outcome.Reason != ReasonQuery {
			t.Errorf("expected query failure, got %+v", outcome)
		}
		if f.count("AT+CMEE=2") != 0 {
			t.Error("no set must be attempted when the current value is unqueryable")
		}
	})
}

func TestParseErrorProceedsToSet(t *testing.T) {
	f := newFakeExecutor()
	f.on("AT+CMEE?", "+CMEE: abc\nOK")
	f.on("AT+CMEE?", "+CMEE: 2\nOK")

	engine := newTestEngine(f)
	report, err := engine.Reconcile(context.Background(), desired(
		Section{Name: "basic", Settings: []Setting{{Name: "error_reporting", Value: Int(2)}}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.count("AT+CMEE=2") != 1 {
		t.Errorf("an unparseable current value must force a set: %v", f.commands)
	}
	outcome := report.Outcomes()[0]
	if outcome.Status != StatusChanged || outcome.Previous != "" {
		t.Errorf("expected change with unknown previous value, got %+v", outcome)
	}
}

func TestUnsetForcesSet(t *testing.T) {
	f := newFakeExecutor()
	f.on("AT+CMEE?", "OK")
	f.on("AT+CMEE?", "+CMEE: 2\nOK")

	engine := newTestEngine(f)
	report, err := engine.Reconcile(context.Background(), desired(
		Section{Name: "basic", Settings: []Setting{{Name: "error_reporting", Value: Int(2)}}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary := report.Summary(); summary != (Summary{Checked: 1, Changed: 1}) {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestVerifyMismatch(t *testing.T) {
	f := newFakeExecutor()
	f.on("AT+CMEE?", "+CMEE: 0\nOK")
	f.on("AT+CMEE?", "+CMEE: 0\nOK")

	engine := newTestEngine(f)
	report, err := engine.Reconcile(context.Background(), desired(
		Section{Name: "basic", Settings: []Setting{{Name: "error_reporting", Value: Int(2)}}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome := report.Outcomes()[0]
	if outcome.Status != StatusFailed || outcome.Reason != ReasonVerify {
		t.Errorf("expected verify mismatch, got %+v", outcome)
	}
	if outcome.Err == nil {
		t.Error("expected mismatch detail in Err")
	}
}

func TestForbiddenPlmnClear(t *testing.T) {
	t.Run("Populated listing cleared", func(t *testing.T) {
		f := newFakeExecutor()
		f.on(`AT+QFPLMNCFG="list"`, `+QFPLMNCFG: "46000",0`+"\nOK")
		f.on(`AT+QFPLMNCFG="list"`, "OK")

		engine := newTestEngine(f)
		report, err := engine.Reconcile(context.Background(), desired(
			Section{Name: "network", Settings: []Setting{{Name: "clear_forbidden_plmn", Value: Bool(true)}}},
		))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.count(`AT+QFPLMNCFG="Delete","all"`) != 1 {
			t.Errorf("expected one delete command: %v", f.commands)
		}
		if summary := report.Summary(); summary != (Summary{Checked: 1, Changed: 1}) {
			t.Errorf("unexpected summary: %+v", summary)
		}
	})

	t.Run("Empty listing skipped", func(t *testing.T) {
		f := newFakeExecutor()
		f.on(`AT+QFPLMNCFG="list"`, "OK")

		engine := newTestEngine(f)
		report, err := engine.Reconcile(context.Background(), desired(
			Section{Name: "network", Settings: []Setting{{Name: "clear_forbidden_plmn", Value: Bool(true)}}},
		))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.count(`AT+QFPLMNCFG="Delete","all"`) != 0 {
			t.Errorf("no delete must be issued for an empty listing: %v", f.commands)
		}
		if summary := report.Summary(); summary != (Summary{Checked: 1, Skipped: 1}) {
			t.Errorf("unexpected summary: %+v", summary)
		}
	})
}

func TestCancellationClosesToggle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	f := newFakeExecutor()
	f.on(`AT+QGPSCFG="fixfreq"`, `+QGPSCFG: "fixfreq",0`+"\nOK")
	f.on(`AT+QGPSCFG="fixfreq"`, `+QGPSCFG: "fixfreq",1`+"\nOK")
	queries := 0
	f.after = func(cmd string) {
		if cmd == `AT+QGPSCFG="fixfreq"` {
			queries++
			if queries == 2 {
				cancel()
			}
		}
	}

	engine := newTestEngine(f)
	report, err := engine.Reconcile(ctx, desired(
		Section{Name: "gnss", Settings: []Setting{
			{Name: "fix_frequency", Value: Int(1)},
			{Name: "nmea_source", Value: Int(1)},
		}},
	))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if n := f.count("AT+QGPS=1"); n != 1 {
		t.Errorf("re-enable must run even when the run is cancelled mid-bracket: %v", f.commands)
	}
	if f.count(`AT+QGPSCFG="nmeasrc"`) != 0 {
		t.Errorf("second key must not start after cancellation: %v", f.commands)
	}

	outcomes := report.Outcomes()
	if len(outcomes) != 1 || outcomes[0].Status != StatusChanged {
		t.Errorf("the in-flight key must complete before the abort: %v", outcomes)
	}
}

func TestCancellationBetweenKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	f := newFakeExecutor()
	f.on("AT+CMEE?", "+CMEE: 2\nOK")
	f.after = func(string) { cancel() }

	engine := newTestEngine(f)
	report, err := engine.Reconcile(ctx, desired(
		Section{Name: "basic", Settings: []Setting{
			{Name: "error_reporting", Value: Int(2)},
			{Name: "time_zone_update", Value: Int(1)},
		}},
	))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	outcomes := report.Outcomes()
	if len(outcomes) != 1 || outcomes[0].Status != StatusSkipped {
		t.Errorf("the in-flight key must complete, later keys must not start: %v", outcomes)
	}
	if f.count("AT+CTZU?") != 0 {
		t.Errorf("second key must not be queried after cancellation: %v", f.commands)
	}
}
