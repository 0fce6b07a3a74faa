package modem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"cellwd/at"
)

// Modem represents a cellular modem that communicates via AT commands over
// an exclusively-owned transport.
//
// Command execution is strictly synchronous: Exec sends one command and
// blocks until the modem emits a final status line or the context expires.
// AT command/response pairing over a single serial channel has no request
// IDs, so callers must never interleave commands from multiple goroutines.
type Modem struct {
	// transport provides the physical connection to the modem
	transport Transport
	// config contains the modem configuration settings
	config Config
	// closed indicates if the modem has been shut down
	closed bool

	// tokens carries response lines from the reader goroutine
	tokens chan string
	// readErr holds the terminal scanner error, if any
	readErr chan error
	// done releases the reader goroutine on Close, even when it is
	// parked on a full tokens buffer
	done chan struct{}
}

// New creates a new Modem instance with the given configuration. It
// establishes the transport connection, starts the response reader and
// runs the initialization sequence (sanity check, echo off).
//
// Returns an error if the transport connection or modem initialization
// fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport: transport,
		config:    config,
		tokens:    make(chan string, 16),
		readErr:   make(chan error, 1),
		done:      make(chan struct{}),
	}
	go m.readLoop()

	initCtx := ctx
	if config.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.InitTimeout)
		defer cancel()
	}

	if err := m.init(initCtx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	return m, nil
}

// readLoop is the only reader of the transport. It tokenizes the byte
// stream into response lines and forwards them to Exec. It exits when the
// transport reports EOF or an error, or on Close. A chatty modem can fill
// the tokens buffer with unsolicited lines while nothing is draining, so
// the forwarding send must not block past Close.
func (m *Modem) readLoop() {
	scanner := bufio.NewScanner(m.transport)
	scanner.Split(at.Splitter)

	for scanner.Scan() {
		select {
		case m.tokens <- scanner.Text():
		case <-m.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		m.readErr <- err
	}
	close(m.tokens)
}

// init performs the initial setup sequence for the modem hardware: a
// wake-up sanity check followed by disabling command echo, which the
// response tokenizer depends on.
func (m *Modem) init(ctx context.Context) error {
	if err := m.ExpectOK(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}
	if err := m.ExpectOK(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}
	return nil
}

// Exec sends an AT command to the modem and waits for the complete
// response, returned with lines joined by "\n" and including the final
// status line.
//
// A final ERROR / +CME ERROR line yields the response alongside an
// *at.Error. A broken transport yields an error wrapping ErrIO. A context
// deadline yields the context error.
func (m *Modem) Exec(ctx context.Context, cmd string) (string, error) {
	if m.closed {
		return "", ErrAlreadyClosed
	}
	if m.transport == nil {
		return "", ErrNotInitialized
	}

	// Apply per-command timeout if context has none
	if _, ok := ctx.Deadline(); !ok && m.config.ATTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ATTimeout)
		defer cancel()
	}

	// Discard lines left over from a previously timed-out command so
	// they are not attributed to this one.
drain:
	for {
		select {
		case _, ok := <-m.tokens:
			if !ok {
				return "", fmt.Errorf("%w: %w", ErrIO, m.takeReadErr())
			}
		default:
			break drain
		}
	}

	wire := strings.TrimSpace(cmd) + "\r"
	if _, err := m.transport.Write([]byte(wire)); err != nil {
		return "", fmt.Errorf("write command %q: %w: %w", cmd, ErrIO, err)
	}

	var lines []string
	for {
		select {
		case <-ctx.Done():
			return strings.Join(lines, "\n"), fmt.Errorf("command %q: %w", cmd, ctx.Err())

		case token, ok := <-m.tokens:
			if !ok {
				return strings.Join(lines, "\n"), fmt.Errorf("%w: %w", ErrIO, m.takeReadErr())
			}
			if token == "" {
				continue
			}

			switch at.Classify(token) {
			case at.TypeURC:
				// Unsolicited codes can interleave with any response.
				continue

			case at.TypeData:
				lines = append(lines, token)

			case at.TypeFinal:
				lines = append(lines, token)
				response := strings.Join(lines, "\n")
				if token == at.OK {
					return response, nil
				}
				return response, at.NewError(token)
			}
		}
	}
}

// ExpectOK executes an AT command and validates that it finished with a
// plain OK. Used for configuration commands whose payload is irrelevant.
func (m *Modem) ExpectOK(ctx context.Context, cmd string) error {
	resp, err := m.Exec(ctx, cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(resp, at.OK) {
		return fmt.Errorf("unexpected response: %q", resp)
	}
	return nil
}

// takeReadErr returns the scanner's terminal error, or io.EOF when the
// transport ended cleanly.
func (m *Modem) takeReadErr() error {
	select {
	case err := <-m.readErr:
		return err
	default:
		return io.EOF
	}
}

// Close shuts down the modem and releases the transport. After calling
// Close, the modem cannot be reused.
func (m *Modem) Close() error {
	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true
	close(m.done)

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}
