package tlv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// WriteStructFields writes one line per non-empty byte field of s, plus one per unknown tag.
// Lines are joined with newlines without a trailing one; a newline separates the block from
// any content already in sb.
//
// The `fmt` struct tag selects the rendering: "ascii", "int" (big-endian), "bcd", or raw hex.
func WriteStructFields(sb *strings.Builder, prefix string, s any) {
	v, ok := structValue(s)
	if !ok {
		return
	}
	t := v.Type()

	var lines []string
	for i := 0; i < t.NumField(); i++ {
		field, sf := v.Field(i), t.Field(i)

		switch {
		case isByteSlice(sf.Type):
			if line := describeBytes(prefix, sf, field.Bytes()); line != "" {
				lines = append(lines, line)
			}
		case sf.Type == reflect.TypeOf([]bertlv.TLV{}):
			for _, p := range field.Interface().([]bertlv.TLV) {
				lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %s", prefix, p.Tag, HexString(rawValue(p))))
			}
		}
	}

	if len(lines) == 0 {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Join(lines, "\n"))
}

func describeBytes(prefix string, sf reflect.StructField, data []byte) string {
	if len(data) == 0 {
		return ""
	}

	name := sf.Name
	if spec, ok := specOf(sf); ok && spec.tag != "" {
		name = fmt.Sprintf("%s (%s)", name, spec.tag)
	}
	return fmt.Sprintf("    - %s.%s: %s", prefix, name, FormatValue(data, sf.Tag.Get("fmt")))
}

// FormatValue renders data according to a `fmt` struct tag value.
func FormatValue(data []byte, format string) string {
	switch format {
	case "ascii":
		return fmt.Sprintf("%X (%q)", data, MakeSafeASCII(data))
	case "int":
		var n uint64
		for _, b := range data {
			n = n<<8 | uint64(b)
		}
		return fmt.Sprintf("%X (Dec: %d)", data, n)
	case "bcd":
		digits := HexString(data)
		n := strings.TrimLeft(digits, "0")
		if n == "" {
			n = "0"
		}
		return fmt.Sprintf("%s (Dec: %s)", digits, n)
	default:
		return HexString(data)
	}
}

// MakeSafeASCII replaces non-printable bytes with '.'.
func MakeSafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}
