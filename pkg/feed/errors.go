// pkg/feed/errors.go
package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEndpoint is returned by NewConnector for unusable URLs.
	ErrInvalidEndpoint = errors.New("feed: invalid endpoint")

	// ErrFiltered is returned by decoders for frames that are valid but
	// not of interest. Such frames are dropped silently.
	ErrFiltered = errors.New("feed: frame filtered")
)

// DecodeError reports a frame that could not be turned into a value.
// It never terminates the stream.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed: decode: %s: %v", e.Reason, e.Err)
	}
	return "feed: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// TransportError is the terminal failure of a session. Op is "dial" or "read".
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("feed: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
