package iso7816

import (
	"fmt"

	"github.com/gregLibert/brizzi-terminal/pkg/bits"
)

// Instruction Byte (INS) Logic according to ISO/IEC 7816-4.
//
// Only the interindustry instructions the terminal issues itself are named here. The stored-value
// card speaks its native command set (wrapped by the reader), which is built by the codec package
// from fixed templates instead.
//
// INS values where the upper nibble is '6' or '9' are invalid: they are reserved for SW1 and for
// ISO/IEC 7816-3 procedure bytes.

// InsCode is a typed representation of the instruction byte.
type InsCode byte

// Interindustry instruction codes used by the terminal.
const (
	INS_SELECT       InsCode = 0xA4
	INS_GET_RESPONSE InsCode = 0xC0
	INS_GET_DATA     InsCode = 0xCA
)

var insNames = map[InsCode]string{
	INS_SELECT:       "SELECT",
	INS_GET_RESPONSE: "GET RESPONSE",
	INS_GET_DATA:     "GET DATA",
}

func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("INS(0x%02X)", byte(i))
}

// Instruction represents the parsed ISO 7816-4 Instruction byte (INS).
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction creates an Instruction object with validation.
// It rejects '6X' and '9X' values as they are invalid according to ISO 7816-3.
func NewInstruction(ins InsCode) (Instruction, error) {
	if hi := bits.High(byte(ins)); hi == 0x6 || hi == 0x9 {
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", byte(ins))
	}

	return Instruction{
		Raw:      ins,
		IsBERTLV: bits.IsSet(byte(ins), 1), // Bit 1 indicates BER-TLV preference
	}, nil
}

// mustInstruction is for the package's own constants, which are known to be valid.
func mustInstruction(ins InsCode) Instruction {
	i, err := NewInstruction(ins)
	if err != nil {
		panic(err)
	}
	return i
}

// Verbose returns a human-readable description of the instruction.
func (i Instruction) Verbose() string {
	format := "Standard"
	if i.IsBERTLV {
		format = "BER-TLV"
	}
	return fmt.Sprintf("INS: 0x%02X | Command: %s | Format: %s", byte(i.Raw), i.Raw, format)
}
