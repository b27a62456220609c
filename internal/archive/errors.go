package archive

import "errors"

var (
	// ErrMalformedTrigger is returned by ParseTrigger for input lacking a
	// "/"-separated source and version.
	ErrMalformedTrigger = errors.New("malformed trigger string")
)
