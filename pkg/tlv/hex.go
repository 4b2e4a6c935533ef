package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex builds a byte slice from hex strings. Parts are concatenated and spaces are ignored, so
// "00 A4", "04 00" is accepted. It panics on invalid input and is meant for constants and tests.
func Hex(parts ...string) []byte {
	clean := strings.ReplaceAll(strings.Join(parts, ""), " ", "")

	data, err := hex.DecodeString(clean)
	if err != nil {
		panic(fmt.Sprintf("invalid input '%s': %v", clean, err))
	}
	return data
}

// HexString renders b as upper-case hex without separators.
func HexString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
