// Package poll runs the telemetry side of the tool: a fast cadence for
// signal quality and a slow cadence for modem identification. It only
// reads from the modem and never touches stored configuration.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cellwd/at"
)

// Executor sends one AT command and blocks for the full response.
// *modem.Modem and smartcfg.ModemExecutor both satisfy it.
type Executor interface {
	Exec(ctx context.Context, cmd string) (string, error)
}

// SignalQuality is a decoded +CSQ response. RSSI is the raw 0..31 scale,
// 99 when the modem does not know.
type SignalQuality struct {
	RSSI int
	BER  int
}

// DBm converts the raw RSSI to dBm (-113 to -51). The second return is
// false when the modem reported the value as unknown.
func (q SignalQuality) DBm() (int, bool) {
	if q.RSSI >= 99 {
		return 0, false
	}
	return -113 + 2*q.RSSI, true
}

// ParseCSQ extracts signal quality from an AT+CSQ response
// ("+CSQ: 24,99").
func ParseCSQ(response string) (SignalQuality, error) {
	for _, line := range strings.Split(response, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "+CSQ:")
		if !ok {
			continue
		}

		fields := strings.Split(rest, ",")
		if len(fields) != 2 {
			return SignalQuality{}, fmt.Errorf("malformed +CSQ line %q", line)
		}
		rssi, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return SignalQuality{}, fmt.Errorf("malformed +CSQ rssi: %w", err)
		}
		ber, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return SignalQuality{}, fmt.Errorf("malformed +CSQ ber: %w", err)
		}
		return SignalQuality{RSSI: rssi, BER: ber}, nil
	}
	return SignalQuality{}, fmt.Errorf("no +CSQ line in response %q", response)
}

// Poller periodically queries the modem and logs the results.
type Poller struct {
	transport     Executor
	logger        *slog.Logger
	signalEvery   time.Duration
	identifyEvery time.Duration
}

// Option is a function that modifies a Poller
type Option func(*Poller)

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithSignalInterval sets the fast cadence for AT+CSQ.
func WithSignalInterval(d time.Duration) Option {
	return func(p *Poller) { p.signalEvery = d }
}

// WithIdentifyInterval sets the slow cadence for ATI.
func WithIdentifyInterval(d time.Duration) Option {
	return func(p *Poller) { p.identifyEvery = d }
}

func New(transport Executor, opts ...Option) *Poller {
	p := &Poller{
		transport:     transport,
		logger:        slog.Default(),
		signalEvery:   10 * time.Second,
		identifyEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until the context is cancelled, starting with one immediate
// pass of both cadences. Individual poll failures are logged and the loop
// keeps going; the caller decides when to stop.
func (p *Poller) Run(ctx context.Context) error {
	p.identify(ctx)
	p.pollSignal(ctx)

	signalTick := time.NewTicker(p.signalEvery)
	defer signalTick.Stop()
	identifyTick := time.NewTicker(p.identifyEvery)
	defer identifyTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signalTick.C:
			p.pollSignal(ctx)
		case <-identifyTick.C:
			p.identify(ctx)
		}
	}
}

func (p *Poller) pollSignal(ctx context.Context) {
	resp, err := p.transport.Exec(ctx, at.CmdSignalQuality)
	if err != nil {
		p.logger.Warn("signal quality query failed", "error", err)
		return
	}
	quality, err := ParseCSQ(resp)
	if err != nil {
		p.logger.Warn("signal quality response unreadable", "error", err)
		return
	}

	if dbm, known := quality.DBm(); known {
		p.logger.Info("signal quality", "rssi_dbm", dbm, "rssi_raw", quality.RSSI, "ber", quality.BER)
	} else {
		p.logger.Info("signal quality unknown", "ber", quality.BER)
	}
}

func (p *Poller) identify(ctx context.Context) {
	resp, err := p.transport.Exec(ctx, at.CmdIdentify)
	if err != nil {
		p.logger.Warn("identification query failed", "error", err)
		return
	}

	var lines []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != at.OK {
			lines = append(lines, line)
		}
	}
	p.logger.Info("modem identification", "ident", strings.Join(lines, " / "))
}
