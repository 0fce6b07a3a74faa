package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order
	// to establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a
	// Modem that has not been successfully initialized.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that
	// has already been closed, or when a command is executed after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrIO wraps transport-level failures (write errors, unexpected EOF,
	// serial read errors). It signals that the connection to the modem is
	// no longer usable, as opposed to a command that merely timed out or
	// was rejected.
	ErrIO = errors.New("modem i/o failure")
)
