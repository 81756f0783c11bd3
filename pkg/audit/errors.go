package audit

import "errors"

// Sentinel errors for the audit log, checked with errors.Is rather than
// typed panics.
var (
	// ErrChainBroken is returned when an append's previous_hash does not
	// match the current head, or a verify_chain scan finds a mismatched
	// link. It is fatal: the log refuses further appends until an
	// operator intervenes (see Store.Halted).
	ErrChainBroken = errors.New("audit: chain broken")

	// ErrHalted is returned by Append once the store has observed
	// ErrChainBroken and has stopped accepting new entries.
	ErrHalted = errors.New("audit: store halted after chain break")

	// ErrSequenceNotFound is returned by Read/verify when a requested
	// range references a sequence number the store never recorded.
	ErrSequenceNotFound = errors.New("audit: sequence not found")

	// ErrClosed is returned by any operation performed after Close.
	ErrClosed = errors.New("audit: store closed")
)

// ChainBreak describes where verify_chain detected the first broken link.
type ChainBreak struct {
	Sequence     uint64
	Expected     string
	Found        string
}
