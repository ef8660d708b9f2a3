package answer

import "errors"

var (
	// ErrInvalidArgument is returned for an empty subject, question or answer
	ErrInvalidArgument = errors.New("answer: invalid argument")

	// ErrNoBackend is returned when an answer must be generated but no
	// generator is configured
	ErrNoBackend = errors.New("answer: no generation backend configured")

	// ErrDisabled is returned by operations that need the cache while the
	// service runs in pass-through mode
	ErrDisabled = errors.New("answer: cache disabled")
)
