package econia

import "fmt"

// TransportError reports a failed request to the order-book service: the
// network call failed or the service answered with a non-2xx status.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("econia %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("econia %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a response body that did not match the expected rows.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("econia %s: decode: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
