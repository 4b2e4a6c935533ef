package iso7816

import (
	"errors"
	"fmt"
)

// Endpoint addresses one of the two secure elements taking part in a transaction.
type Endpoint int

const (
	SAM Endpoint = iota
	PICC
)

func (e Endpoint) String() string {
	switch e {
	case SAM:
		return "SAM"
	case PICC:
		return "PICC"
	default:
		return fmt.Sprintf("Endpoint(%d)", int(e))
	}
}

// MarshalText encodes the endpoint by name.
func (e Endpoint) MarshalText() ([]byte, error) {
	if e != SAM && e != PICC {
		return nil, fmt.Errorf("unknown endpoint %d", int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText accepts the names written by MarshalText.
func (e *Endpoint) UnmarshalText(text []byte) error {
	switch string(text) {
	case "SAM":
		*e = SAM
	case "PICC":
		*e = PICC
	default:
		return fmt.Errorf("unknown endpoint %q", text)
	}
	return nil
}

// Transmitter abstracts the physical card connection.
// *scard.Card satisfies it.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Transport is the capability the sessions are written against: send a raw command to an
// endpoint, and fetch pending response bytes after a '61 XX'.
//
// Implementations return an error only for transport or framing failures. A non-success
// status word is returned as data.
type Transport interface {
	Transmit(ep Endpoint, cmd []byte) (*ResponseAPDU, error)
	Continue(ep Endpoint, remaining byte) (*ResponseAPDU, error)
}

// Observer is told about every exchange, including failed ones (resp is nil then).
type Observer func(ep Endpoint, cmd []byte, resp *ResponseAPDU, err error)

// PortOption configures a Port.
type PortOption func(*Port)

// WithObserver registers a callback invoked after each exchange.
func WithObserver(o Observer) PortOption {
	return func(p *Port) { p.observer = o }
}

// Port routes commands to the SAM and PICC readers and records a Trace of the exchanges.
// A Port is not safe for concurrent use; one transaction owns it at a time.
type Port struct {
	transmitters map[Endpoint]Transmitter
	observer     Observer
	trace        Trace
}

var (
	_ Transport = (*Port)(nil)
	_ Recorder  = (*Port)(nil)
)

// NewPort creates a Port over the two reader connections.
func NewPort(sam, picc Transmitter, opts ...PortOption) *Port {
	p := &Port{
		transmitters: map[Endpoint]Transmitter{SAM: sam, PICC: picc},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Transmit sends a raw command to ep and parses the reply.
func (p *Port) Transmit(ep Endpoint, cmd []byte) (*ResponseAPDU, error) {
	tx, ok := p.transmitters[ep]
	if !ok || tx == nil {
		err := &TransportError{Endpoint: ep, Err: errors.New("no reader attached")}
		p.notify(ep, cmd, nil, err)
		return nil, err
	}

	raw, err := tx.Transmit(cmd)
	if err != nil {
		err = &TransportError{Endpoint: ep, Err: err}
		p.notify(ep, cmd, nil, err)
		return nil, err
	}

	resp, err := ParseResponseAPDU(raw)
	if err != nil {
		err = fmt.Errorf("%s: %w", ep, err)
		p.notify(ep, cmd, nil, err)
		return nil, err
	}

	p.trace = append(p.trace, Transaction{Endpoint: ep, Command: cmd, Response: resp})
	p.notify(ep, cmd, resp, nil)

	return resp, nil
}

// Continue issues GET RESPONSE for the remaining byte count announced in SW2.
func (p *Port) Continue(ep Endpoint, remaining byte) (*ResponseAPDU, error) {
	cmd, err := GetResponse(ClaInterindustry, remaining).Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding GET RESPONSE: %w", err)
	}
	return p.Transmit(ep, cmd)
}

// Trace returns a copy of the exchanges recorded so far.
func (p *Port) Trace() Trace {
	out := make(Trace, len(p.trace))
	copy(out, p.trace)
	return out
}

// Reset forgets the recorded trace.
func (p *Port) Reset() {
	p.trace = nil
}

func (p *Port) notify(ep Endpoint, cmd []byte, resp *ResponseAPDU, err error) {
	if p.observer != nil {
		p.observer(ep, cmd, resp, err)
	}
}
