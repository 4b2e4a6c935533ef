package iso7816

import (
	"errors"
	"fmt"
)

// Error kinds shared by every layer above the transport. Concrete errors match them with
// errors.Is, so callers can classify without knowing the concrete type.
var (
	// ErrTransport reports an I/O or connection-level failure.
	ErrTransport = errors.New("transport error")

	// ErrMalformedResponse reports a reply that violates the decoder's layout assumptions.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrProtocolRejection reports a non-success status from the card or SAM.
	ErrProtocolRejection = errors.New("protocol rejection")
)

// ErrorKind classifies an error into one of the three protocol error kinds.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransport
	KindMalformed
	KindRejection
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindMalformed:
		return "malformed_response"
	case KindRejection:
		return "protocol_rejection"
	default:
		return "other"
	}
}

// KindOf returns the protocol error kind carried by err.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformed
	case errors.Is(err, ErrProtocolRejection):
		return KindRejection
	default:
		return KindOther
	}
}

// TransportError wraps a failure of the underlying reader link.
type TransportError struct {
	Endpoint Endpoint
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// MalformedResponseError reports a reply shorter than the layout being decoded.
type MalformedResponseError struct {
	Op   string
	Want int // minimum number of bytes required
	Got  int
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: need %d bytes, got %d", e.Op, e.Want, e.Got)
}

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }

// RejectionError reports a response whose status says the command was refused.
//
// Code is the native status byte for card commands; for ISO commands it is SW1.
type RejectionError struct {
	Endpoint Endpoint
	Op       string
	Status   StatusWord
	Code     byte
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s %s rejected: code %02X, %s", e.Endpoint, e.Op, e.Code, e.Status.Verbose())
}

func (e *RejectionError) Is(target error) bool { return target == ErrProtocolRejection }
