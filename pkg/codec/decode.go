package codec

import (
	"fmt"
	"math"
	"time"

	"github.com/gregLibert/brizzi-terminal/pkg/bits"
	"github.com/gregLibert/brizzi-terminal/pkg/iso7816"
)

// Native card status bytes carried in the first byte of the reply buffer.
const (
	StatusOK              byte = 0x00
	StatusAdditionalFrame byte = 0xAF
)

// CardStatusSentinel is the value found at bytes 4..6 of a card in good standing.
var CardStatusSentinel = [2]byte{0x61, 0x61}

// Date is a calendar date as stored on the card.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate reads three BCD bytes laid out as yymmdd. The all-zero date of a fresh card is
// accepted and yields a zero Month.
func ParseDate(b []byte) (Date, error) {
	if len(b) != 3 {
		return Date{}, fmt.Errorf("date: expected 3 bytes, got %d", len(b))
	}
	digits, err := bits.UnpackBCD(b)
	if err != nil {
		return Date{}, fmt.Errorf("date: %w", err)
	}

	var yy, mm, dd int
	if _, err := fmt.Sscanf(digits, "%2d%2d%2d", &yy, &mm, &dd); err != nil {
		return Date{}, fmt.Errorf("date %s: %w", digits, err)
	}
	if mm > 12 || dd > 31 {
		return Date{}, fmt.Errorf("date %s: out of range", digits)
	}
	return Date{Year: 2000 + yy, Month: time.Month(mm), Day: dd}, nil
}

// BCD renders d as yymmdd digits.
func (d Date) BCD() string {
	return fmt.Sprintf("%02d%02d%02d", d.Year%100, int(d.Month), d.Day)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the blank date of a card that was never debited.
func (d Date) IsZero() bool {
	return d.Month == 0 && d.Day == 0
}

// LastTransaction is the record the card keeps about its previous debit.
type LastTransaction struct {
	Date        Date
	Accumulated uint32
}

// LeadingStatus returns the native status byte that opens every card reply.
func LeadingStatus(resp *iso7816.ResponseAPDU) byte {
	return resp.Buffer()[0]
}

// Accepted reports whether the card reply opens with StatusOK.
func Accepted(resp *iso7816.ResponseAPDU) bool {
	return LeadingStatus(resp) == StatusOK
}

// SelectAccepted reports whether an application select succeeded: both the native status
// and the status word must say so.
func SelectAccepted(resp *iso7816.ResponseAPDU) bool {
	return Accepted(resp) && resp.Status.IsSuccess()
}

// CardNumber extracts the 8-byte card number.
func CardNumber(resp *iso7816.ResponseAPDU) ([]byte, error) {
	buf := resp.Buffer()
	if err := need("card number", buf, 12); err != nil {
		return nil, err
	}
	return buf[4:12], nil
}

// CardStatus extracts the two status bytes compared against CardStatusSentinel.
func CardStatus(resp *iso7816.ResponseAPDU) ([2]byte, error) {
	buf := resp.Buffer()
	if err := need("card status", buf, 6); err != nil {
		return [2]byte{}, err
	}
	return [2]byte{buf[4], buf[5]}, nil
}

// Tail returns everything after the leading status byte, status word included.
func Tail(op string, resp *iso7816.ResponseAPDU, min int) ([]byte, error) {
	buf := resp.Buffer()
	if err := need(op, buf, 1+min); err != nil {
		return nil, err
	}
	return buf[1:], nil
}

// DecodeBalance reads the little-endian balance that follows the status byte.
func DecodeBalance(resp *iso7816.ResponseAPDU) (uint32, error) {
	tail, err := Tail("balance", resp, 1)
	if err != nil {
		return 0, err
	}
	if len(tail) > 4 {
		return 0, &iso7816.MalformedResponseError{Op: "balance", Want: 5, Got: len(tail) + 1}
	}
	return uint32(DecodeUintLE(tail)), nil
}

// DecodeLastTransaction reads the date and accumulated total. The total is big-endian while
// WriteLastTransaction stores it little-endian; both match what deployed cards hold.
func DecodeLastTransaction(resp *iso7816.ResponseAPDU) (LastTransaction, error) {
	buf := resp.Buffer()
	if err := need("last transaction", buf, 5); err != nil {
		return LastTransaction{}, err
	}
	if len(buf) > 8 {
		return LastTransaction{}, &iso7816.MalformedResponseError{Op: "last transaction", Want: 8, Got: len(buf)}
	}

	date, err := ParseDate(buf[1:4])
	if err != nil {
		return LastTransaction{}, fmt.Errorf("last transaction: %w: %v", iso7816.ErrMalformedResponse, err)
	}
	return LastTransaction{Date: date, Accumulated: uint32(DecodeUintBE(buf[4:]))}, nil
}

// DecodeUintLE reads b least significant byte first.
func DecodeUintLE(b []byte) uint64 {
	var n uint64
	for i := len(b) - 1; i >= 0; i-- {
		n = n<<8 | uint64(b[i])
	}
	return n
}

// DecodeUintBE reads b most significant byte first.
func DecodeUintBE(b []byte) uint64 {
	var n uint64
	for _, v := range b {
		n = n<<8 | uint64(v)
	}
	return n
}

func need(op string, buf []byte, n int) error {
	if len(buf) < n {
		return &iso7816.MalformedResponseError{Op: op, Want: n, Got: len(buf)}
	}
	return nil
}

// Next returns the record to store after debiting amount at now. The total keeps growing while
// the stored month matches the current one and restarts otherwise. Only the month is compared,
// so a card last used in March of a previous year keeps accumulating. The total saturates at
// the largest value the 4-byte field holds.
func (lt LastTransaction) Next(amount uint32, now time.Time) LastTransaction {
	today := DateOf(now)
	if lt.Date.Month == today.Month {
		total := lt.Accumulated + amount
		if total < lt.Accumulated {
			total = math.MaxUint32
		}
		return LastTransaction{Date: today, Accumulated: total}
	}
	return LastTransaction{Date: today, Accumulated: amount}
}
