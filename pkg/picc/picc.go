// Package picc drives the contactless stored-value card.
//
// Most card commands are native frames: the first reply byte is the card status (00 on
// success) and the reader reports the last two bytes of the frame as the status word. Decoders
// therefore work on the reassembled buffer.
package picc

import (
	"errors"
	"fmt"
	"time"

	"github.com/gregLibert/brizzi-terminal/pkg/codec"
	"github.com/gregLibert/brizzi-terminal/pkg/iso7816"
)

// Balance values reported when the balance cannot be read.
const (
	BalanceTransportFailure int64 = -1
	BalanceMalformed        int64 = -2
)

// RandomSize is the length of the card random number returned by Authenticate.
const RandomSize = 10

// ErrSessionClosed is returned by any call made after Commit or Abort.
var ErrSessionClosed = errors.New("picc session closed")

// LastTransaction is the record of the previous debit kept on the card.
type LastTransaction = codec.LastTransaction

// Session issues card commands over a transport. It is single use: a successful Commit or any
// Abort ends it.
type Session struct {
	port   iso7816.Transport
	closed bool
}

// NewSession returns a session addressing the PICC endpoint of port.
func NewSession(port iso7816.Transport) *Session {
	return &Session{port: port}
}

// Closed reports whether Commit or Abort already ended the session.
func (s *Session) Closed() bool {
	return s.closed
}

// Drain returns the card exchanges recorded since the last call and clears them.
func (s *Session) Drain() iso7816.Trace {
	return iso7816.Drain(s.port)
}

// SelectAID1 selects the identity application.
func (s *Session) SelectAID1() error {
	return s.selectApp("select aid1", codec.SelectAID1())
}

// SelectAID3 selects the purse application.
func (s *Session) SelectAID3() error {
	return s.selectApp("select aid3", codec.SelectAID3())
}

func (s *Session) selectApp(op string, cmd []byte) error {
	resp, err := s.exchange(op, cmd)
	if err != nil {
		return err
	}
	if !codec.SelectAccepted(resp) {
		return reject(op, resp)
	}
	return nil
}

// CardNumber reads the 8-byte card number.
func (s *Session) CardNumber() ([]byte, error) {
	resp, err := s.accepted("card number", codec.GetCardNumber())
	if err != nil {
		return nil, err
	}
	return codec.CardNumber(resp)
}

// CheckStatus verifies the card is in good standing.
func (s *Session) CheckStatus() error {
	resp, err := s.accepted("card status", codec.GetCardStatus())
	if err != nil {
		return err
	}
	status, err := codec.CardStatus(resp)
	if err != nil {
		return err
	}
	if status != codec.CardStatusSentinel {
		return &iso7816.RejectionError{Endpoint: iso7816.PICC, Op: "card status", Status: resp.Status, Code: status[0]}
	}
	return nil
}

// RequestKeyCard starts authentication and returns the card key material. The card answers
// with either a plain success or an additional-frame status.
func (s *Session) RequestKeyCard() ([]byte, error) {
	const op = "request key card"
	resp, err := s.exchange(op, codec.RequestKeyCard())
	if err != nil {
		return nil, err
	}
	if st := codec.LeadingStatus(resp); st != codec.StatusOK && st != codec.StatusAdditionalFrame {
		return nil, reject(op, resp)
	}
	return codec.Tail(op, resp, 1)
}

// UID reads the card serial number through the reader pseudo-APDU.
func (s *Session) UID() ([]byte, error) {
	const op = "uid"
	resp, err := s.exchange(op, codec.GetUID())
	if err != nil {
		return nil, err
	}
	if !resp.Status.IsSuccess() {
		return nil, &iso7816.RejectionError{Endpoint: iso7816.PICC, Op: op, Status: resp.Status, Code: resp.Status.SW1()}
	}
	if len(resp.Data) == 0 {
		return nil, &iso7816.MalformedResponseError{Op: op, Want: 3, Got: 2}
	}
	return resp.Data, nil
}

// Authenticate answers the card challenge with the SAM random key and returns the card random
// number.
func (s *Session) Authenticate(samKey []byte) ([]byte, error) {
	const op = "authenticate"
	cmd, err := codec.CardAuthenticate(samKey)
	if err != nil {
		return nil, fmt.Errorf("picc %s: %w", op, err)
	}
	resp, err := s.accepted(op, cmd)
	if err != nil {
		return nil, err
	}
	random, err := codec.Tail(op, resp, RandomSize)
	if err != nil {
		return nil, err
	}
	if len(random) != RandomSize {
		return nil, &iso7816.MalformedResponseError{Op: op, Want: 1 + RandomSize, Got: 1 + len(random)}
	}
	return random, nil
}

// LastTransaction reads the date and monthly total of the previous debit.
func (s *Session) LastTransaction() (LastTransaction, error) {
	resp, err := s.accepted("last transaction", codec.GetLastTransaction())
	if err != nil {
		return LastTransaction{}, err
	}
	return codec.DecodeLastTransaction(resp)
}

// Balance reads the purse value. On failure the returned value is BalanceTransportFailure when
// the reader link failed and BalanceMalformed for any reply that could not be used.
func (s *Session) Balance() (int64, error) {
	resp, err := s.accepted("balance", codec.GetBalance())
	if err != nil {
		return balanceSentinel(err), err
	}
	v, err := codec.DecodeBalance(resp)
	if err != nil {
		return BalanceMalformed, err
	}
	return int64(v), nil
}

func balanceSentinel(err error) int64 {
	if iso7816.KindOf(err) == iso7816.KindTransport {
		return BalanceTransportFailure
	}
	return BalanceMalformed
}

// Debit decrements the purse by amount.
func (s *Session) Debit(amount uint32) error {
	cmd, err := codec.Debit(amount)
	if err != nil {
		return fmt.Errorf("picc debit: %w", err)
	}
	_, err = s.accepted("debit", cmd)
	return err
}

// WriteLog appends the debit to the card transaction log.
func (s *Session) WriteLog(f codec.LogFields) error {
	cmd, err := codec.WriteLog(f)
	if err != nil {
		return fmt.Errorf("picc write log: %w", err)
	}
	_, err = s.accepted("write log", cmd)
	return err
}

// WriteLastTransaction stores the record following prev once amount is debited at now, and
// returns what was written.
func (s *Session) WriteLastTransaction(prev LastTransaction, amount uint32, now time.Time) (LastTransaction, error) {
	next := prev.Next(amount, now)
	cmd, err := codec.WriteLastTransaction(next.Date, next.Accumulated)
	if err != nil {
		return LastTransaction{}, fmt.Errorf("picc write last transaction: %w", err)
	}
	if _, err := s.accepted("write last transaction", cmd); err != nil {
		return LastTransaction{}, err
	}
	return next, nil
}

// Commit makes every write of the session durable and ends the session.
func (s *Session) Commit() error {
	if _, err := s.accepted("commit", codec.Commit()); err != nil {
		return err
	}
	s.closed = true
	return nil
}

// Abort discards the uncommitted writes and ends the session whatever the outcome.
func (s *Session) Abort() error {
	_, err := s.accepted("abort", codec.Abort())
	s.closed = true
	return err
}

func (s *Session) exchange(op string, cmd []byte) (*iso7816.ResponseAPDU, error) {
	if s.closed {
		return nil, fmt.Errorf("picc %s: %w", op, ErrSessionClosed)
	}
	resp, err := s.port.Transmit(iso7816.PICC, cmd)
	if err != nil {
		return nil, fmt.Errorf("picc %s: %w", op, err)
	}
	return resp, nil
}

// accepted sends cmd and requires the leading status byte to be StatusOK.
func (s *Session) accepted(op string, cmd []byte) (*iso7816.ResponseAPDU, error) {
	resp, err := s.exchange(op, cmd)
	if err != nil {
		return nil, err
	}
	if !codec.Accepted(resp) {
		return nil, reject(op, resp)
	}
	return resp, nil
}

func reject(op string, resp *iso7816.ResponseAPDU) error {
	return &iso7816.RejectionError{
		Endpoint: iso7816.PICC,
		Op:       op,
		Status:   resp.Status,
		Code:     codec.LeadingStatus(resp),
	}
}
