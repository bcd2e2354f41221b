package core

import "errors"

var (
	// ErrValidation marks bad request input (HTTP 400).
	ErrValidation = errors.New("validation failed")
	// ErrTransport marks a network failure or non-2xx response.
	ErrTransport = errors.New("transport error")
	// ErrCancelled marks a request abandoned by either party.
	ErrCancelled = errors.New("request cancelled")
	// ErrOutdated marks a response superseded by a newer revision.
	ErrOutdated = errors.New("response outdated")
	// ErrInternal marks an unexpected handler fault (HTTP 500).
	ErrInternal = errors.New("internal error")
)
