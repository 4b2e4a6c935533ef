// Package bits holds the bit and nibble helpers shared by the APDU layers.
//
// Bits are numbered 1 to 8 (b1 is the least significant), which is how ISO 7816-4
// tables describe CLA, INS and SW bytes.
package bits

import "fmt"

// Bit returns a byte with only the n-th bit set (1 to 8).
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet checks if the n-th bit is set (1 to 8).
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// Set returns b with the n-th bit raised.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// GetRange extracts the value from a range of bits (e.g., bits 4 to 3).
// Example: GetRange(0b00001100, 4, 3) returns 3 (0b11)
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}

	width := high - low + 1
	mask := byte((1 << width) - 1)

	return (b >> (low - 1)) & mask
}

// High returns the upper nibble (bits 8-5).
func High(b byte) byte { return GetRange(b, 8, 5) }

// Low returns the lower nibble (bits 4-1).
func Low(b byte) byte { return GetRange(b, 4, 1) }

// PackBCD packs a string of decimal digits two per byte, most significant first.
// An odd number of digits is left-padded with a zero nibble.
func PackBCD(digits string) ([]byte, error) {
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}

	out := make([]byte, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		hi, lo := digits[i], digits[i+1]
		if !isDigit(hi) || !isDigit(lo) {
			return nil, fmt.Errorf("invalid BCD digits %q", digits[i:i+2])
		}
		out[i/2] = (hi-'0')<<4 | (lo - '0')
	}
	return out, nil
}

// UnpackBCD decodes packed BCD into its decimal digits.
// A nibble above 9 is an error.
func UnpackBCD(data []byte) (string, error) {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		hi, lo := High(b), Low(b)
		if hi > 9 || lo > 9 {
			return "", fmt.Errorf("invalid BCD byte 0x%02X", b)
		}
		out = append(out, '0'+hi, '0'+lo)
	}
	return string(out), nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
