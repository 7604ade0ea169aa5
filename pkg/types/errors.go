package types

import "errors"

var (
	// Coordinator errors
	ErrRequestInFlight = errors.New("a critical-section request is already in flight")
	ErrNotWanted       = errors.New("node is not in WANTED state")
	ErrNotHeld         = errors.New("node is not in HELD state")

	// Print errors
	ErrPrintFailed = errors.New("print service reported failure")
)
