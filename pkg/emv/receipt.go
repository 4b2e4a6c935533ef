// Package emv encodes transaction receipts as BER-TLV records using EMV data element tags.
package emv

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/moov-io/bertlv"

	"github.com/gregLibert/brizzi-terminal/pkg/bits"
	"github.com/gregLibert/brizzi-terminal/pkg/tlv"
	"github.com/gregLibert/brizzi-terminal/pkg/transaction"
)

// ReceiptTemplate is the record template tag wrapping a receipt.
const ReceiptTemplate = "70"

// Receipt is the durable record of one transaction. Dates and amounts use the EMV numeric
// (BCD) formats; proprietary values live in the DFxx range.
type Receipt struct {
	CardNumber    []byte `tlv:"5A"`
	Date          []byte `tlv:"9A"`                 // YYMMDD
	Time          []byte `tlv:"9F21"`               // HHMMSS
	Amount        []byte `tlv:"9F02" fmt:"bcd"`     // n12
	MerchantID    []byte `tlv:"9F16" fmt:"ascii"`   // ans15
	TerminalID    []byte `tlv:"9F1C" fmt:"ascii"`   // an8
	BalanceBefore []byte `tlv:"DF01" fmt:"int"`
	RefNumber     []byte `tlv:"DF02" fmt:"ascii"`
	BatchNumber   []byte `tlv:"DF03" fmt:"ascii"`
	Hash          []byte `tlv:"DF04"`
	Status        []byte `tlv:"DF05" fmt:"int"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// NewReceipt builds the receipt of res. A run that failed before the hash step carries its
// start time instead of the signed transaction time.
func NewReceipt(res *transaction.Result) (*Receipt, error) {
	date, clock := res.TransactionDate, res.TransactionTime
	if date == "" || clock == "" {
		date, clock = res.StartedAt.Format("020106"), res.StartedAt.Format("150405")
	}
	if len(date) != 6 {
		return nil, fmt.Errorf("receipt: invalid transaction date %q", date)
	}

	r := &Receipt{
		MerchantID:  []byte(res.MID),
		TerminalID:  []byte(res.TID),
		RefNumber:   []byte(res.RefNumber),
		BatchNumber: []byte(res.BatchNumber),
		Hash:        res.Hash,
		Status:      []byte{0x00},
	}
	if res.Status {
		r.Status[0] = 0x01
	}

	var err error
	if r.CardNumber, err = hex.DecodeString(res.CardNumber); err != nil {
		return nil, fmt.Errorf("receipt: card number: %w", err)
	}
	// ddmmyy to yymmdd
	if r.Date, err = bits.PackBCD(date[4:6] + date[2:4] + date[0:2]); err != nil {
		return nil, fmt.Errorf("receipt: date: %w", err)
	}
	if r.Time, err = bits.PackBCD(clock); err != nil {
		return nil, fmt.Errorf("receipt: time: %w", err)
	}
	if r.Amount, err = bits.PackBCD(fmt.Sprintf("%012d", res.Amount)); err != nil {
		return nil, fmt.Errorf("receipt: amount: %w", err)
	}
	if res.BalanceBefore >= 0 {
		r.BalanceBefore = binary.BigEndian.AppendUint32(nil, uint32(res.BalanceBefore))
	}
	return r, nil
}

// Encode serializes the receipt inside its record template.
func (r *Receipt) Encode() ([]byte, error) {
	return tlv.MarshalTemplate(ReceiptTemplate, r)
}

// ParseReceipt decodes a receipt produced by Encode.
func ParseReceipt(data []byte) (*Receipt, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty receipt data")
	}

	r := &Receipt{}
	if err := tlv.UnmarshalTemplate(data, ReceiptTemplate, r); err != nil {
		return nil, fmt.Errorf("failed to map receipt: %w", err)
	}
	return r, nil
}

// Committed reports whether the receipt records a committed debit.
func (r *Receipt) Committed() bool {
	return len(r.Status) == 1 && r.Status[0] == 0x01
}

// AmountValue decodes the n12 amount.
func (r *Receipt) AmountValue() (uint64, error) {
	digits, err := bits.UnpackBCD(r.Amount)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %s: %w", digits, err)
	}
	return n, nil
}

// Describe renders the receipt for display.
func (r *Receipt) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== TRANSACTION RECEIPT ===")

	tlv.WriteStructFields(&sb, "Receipt", r)

	return strings.TrimRight(sb.String(), "\n")
}
