package smartcfg

import (
	"context"
	"errors"
	"fmt"

	"cellwd/modem"
)

// ErrTransportLost signals that the connection to the modem is no longer
// usable. It is the only error that aborts a reconciliation run; the
// partial report built so far is returned alongside it.
var ErrTransportLost = errors.New("transport lost")

// CommandExecutor is the single capability the engine consumes from the
// transport layer: send one AT command, block until the full response or
// a timeout. Implementations must mark unusable-connection failures with
// ErrTransportLost; any other error is treated as recoverable for the
// current key only.
type CommandExecutor interface {
	Exec(ctx context.Context, cmd string) (string, error)
}

// ModemExecutor adapts *modem.Modem to the engine's executor contract,
// promoting transport-level failures to ErrTransportLost.
type ModemExecutor struct {
	Modem *modem.Modem
}

func (e ModemExecutor) Exec(ctx context.Context, cmd string) (string, error) {
	resp, err := e.Modem.Exec(ctx, cmd)
	if err != nil && isConnectionGone(err) {
		return resp, fmt.Errorf("%w: %w", ErrTransportLost, err)
	}
	return resp, err
}

func isConnectionGone(err error) bool {
	return errors.Is(err, modem.ErrIO) ||
		errors.Is(err, modem.ErrAlreadyClosed) ||
		errors.Is(err, modem.ErrNotInitialized)
}
