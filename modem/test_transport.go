package modem

import (
	"io"
	"strings"
	"sync"

	"cellwd/at"
)

// TestTransport is a test helper that simulates a blocking transport using
// channels. This is needed because the modem's reader goroutine continuously
// reads from the transport, and reads must block until data is available
// (like a real serial port would).
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	closed   bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 16),
	}
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// ScriptTransport simulates a modem that answers written commands with
// canned responses. Each On entry is consumed in FIFO order; commands
// without a scripted response are answered with a bare OK. All written
// commands are recorded for traffic assertions.
type ScriptTransport struct {
	mu       sync.Mutex
	replies  map[string][]string
	commands []string
	readChan chan []byte
	closed   bool
}

func NewScriptTransport() *ScriptTransport {
	return &ScriptTransport{
		replies:  make(map[string][]string),
		readChan: make(chan []byte, 64),
	}
}

// On queues responses for a command (without the trailing carriage
// return). Responses must be complete raw modem output including CRLFs
// and the final status line.
func (t *ScriptTransport) On(cmd string, responses ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[cmd] = append(t.replies[cmd], responses...)
}

// Commands returns all commands written so far, in order.
func (t *ScriptTransport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.commands))
	copy(out, t.commands)
	return out
}

func (t *ScriptTransport) Write(p []byte) (n int, err error) {
	cmd := strings.TrimSuffix(string(p), "\r")

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	t.commands = append(t.commands, cmd)

	reply := at.OK + at.CRLF
	if queue := t.replies[cmd]; len(queue) > 0 {
		reply = queue[0]
		t.replies[cmd] = queue[1:]
	}
	t.mu.Unlock()

	t.readChan <- []byte(reply)
	return len(p), nil
}

func (t *ScriptTransport) Read(p []byte) (n int, err error) {
	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *ScriptTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}
