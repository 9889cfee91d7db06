package tpuart

import "errors"

// Domain errors for the TP-UART link layer.
var (
	// ErrResetFailed is returned when the chip does not answer a reset
	// request within the configured number of attempts.
	ErrResetFailed = errors.New("tpuart: reset failed")

	// ErrNotInitState is returned when an operation requires the link
	// to be in the INIT state but it is not.
	ErrNotInitState = errors.New("tpuart: link is not in INIT state")

	// ErrNotIdle is returned when SendTelegram is called while a
	// previous send is still in progress.
	ErrNotIdle = errors.New("tpuart: link is not idle")

	// ErrCallbacksNotSet is returned from Init when the event or ack
	// callback has not been registered yet.
	ErrCallbacksNotSet = errors.New("tpuart: event and ack callbacks must be set before Init")

	// ErrDuplicateAddress is returned by AttachComObjects when two
	// communication-flagged objects share a group address.
	ErrDuplicateAddress = errors.New("tpuart: duplicate group address among communication objects")
)
