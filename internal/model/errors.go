package model

import "errors"

var (
	// ErrValidation marks bad or missing client input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned for unknown ids and missing lookup parameters.
	ErrNotFound = errors.New("not found")
	// ErrUpstream wraps failures of the external weather provider.
	ErrUpstream = errors.New("upstream error")
	// ErrTransaction wraps storage write conflicts and aborted transactions.
	ErrTransaction = errors.New("transaction error")
)
