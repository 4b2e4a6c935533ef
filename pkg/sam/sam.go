// Package sam drives the secure access module that holds the debit keys.
//
// Authentication and hashing are two-phase: the SAM first answers 61XX and the caller fetches
// the XX bytes with an explicit GET RESPONSE. The continuation length is protocol data, so it is
// never retried or hidden behind the transport.
package sam

import (
	"fmt"

	"github.com/gregLibert/brizzi-terminal/pkg/codec"
	"github.com/gregLibert/brizzi-terminal/pkg/iso7816"
)

// KeySize is the length of the random key returned by AuthenticateKey.
const KeySize = 16

// Session issues SAM commands over a transport.
type Session struct {
	port iso7816.Transport
}

// NewSession returns a session addressing the SAM endpoint of port.
func NewSession(port iso7816.Transport) *Session {
	return &Session{port: port}
}

// Drain returns the SAM exchanges recorded since the last call and clears them.
func (s *Session) Drain() iso7816.Trace {
	return iso7816.Drain(s.port)
}

// Select selects the debit applet.
func (s *Session) Select() error {
	resp, err := s.port.Transmit(iso7816.SAM, codec.SAMSelect())
	if err != nil {
		return fmt.Errorf("sam select: %w", err)
	}
	if !resp.Status.IsSuccess() {
		return reject("select", resp)
	}
	return nil
}

// AuthenticateKey derives the random key the card expects for its authentication challenge.
func (s *Session) AuthenticateKey(cardNumber, uid, keyCard []byte) ([]byte, error) {
	cmd, err := codec.SAMAuthenticate(cardNumber, uid, keyCard)
	if err != nil {
		return nil, fmt.Errorf("sam authenticate: %w", err)
	}

	resp, err := s.twoPhase("authenticate", cmd)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < KeySize {
		return nil, &iso7816.MalformedResponseError{Op: "sam authenticate", Want: KeySize, Got: len(resp.Data)}
	}
	return resp.Data[len(resp.Data)-KeySize:], nil
}

// CreateHash has the SAM sign the debit described by f.
func (s *Session) CreateHash(f codec.HashFields) ([]byte, error) {
	cmd, err := codec.CreateHash(f)
	if err != nil {
		return nil, fmt.Errorf("sam create hash: %w", err)
	}

	resp, err := s.twoPhase("create hash", cmd)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &iso7816.MalformedResponseError{Op: "sam create hash", Want: 1, Got: 0}
	}
	return resp.Data, nil
}

func (s *Session) twoPhase(op string, cmd []byte) (*iso7816.ResponseAPDU, error) {
	first, err := s.port.Transmit(iso7816.SAM, cmd)
	if err != nil {
		return nil, fmt.Errorf("sam %s: %w", op, err)
	}
	if !first.Status.HasMoreData() {
		return nil, reject(op, first)
	}

	resp, err := s.port.Continue(iso7816.SAM, first.Status.SW2())
	if err != nil {
		return nil, fmt.Errorf("sam %s: get response: %w", op, err)
	}
	if !resp.Status.IsSuccess() {
		return nil, reject(op+" get response", resp)
	}
	return resp, nil
}

func reject(op string, resp *iso7816.ResponseAPDU) error {
	return &iso7816.RejectionError{
		Endpoint: iso7816.SAM,
		Op:       op,
		Status:   resp.Status,
		Code:     resp.Status.SW1(),
	}
}
