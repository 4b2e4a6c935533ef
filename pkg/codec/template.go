// Package codec builds the fixed-width command APDUs understood by the stored-value card and the
// SAM, and decodes typed values out of their replies.
//
// A Template is a sequence of segments. Literal segments are copied as-is; field segments take a
// named value and render it into a slot of fixed width. Values never change the width of the
// command: short values are padded and long values are truncated, which is what the card
// firmware has always received.
package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Justify selects which side of a field keeps the value when padding.
type Justify int

const (
	// AlignRight pads on the left ("000123").
	AlignRight Justify = iota
	// AlignLeft pads on the right ("123   ").
	AlignLeft
)

// Values carries the named substitutions for one Encode call.
type Values map[string]any

// Segment is one slot of a Template.
type Segment interface {
	// Width is the encoded size in bytes.
	Width() int
	render(v Values) (string, error)
}

// FieldError reports a value that cannot be rendered into its slot.
type FieldError struct {
	Template string
	Field    string
	Err      error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %q: %v", e.Template, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Template is a fixed-width command layout.
type Template struct {
	Name     string
	segments []Segment
	width    int
}

// NewTemplate assembles a template. It panics on a malformed literal since templates are
// package-level constants.
func NewTemplate(name string, segments ...Segment) *Template {
	t := &Template{Name: name, segments: segments}
	for _, s := range segments {
		if lit, ok := s.(literal); ok {
			if _, err := hex.DecodeString(string(lit)); err != nil {
				panic(fmt.Sprintf("template %s: invalid literal %q: %v", name, string(lit), err))
			}
		}
		t.width += s.Width()
	}
	return t
}

// Width is the encoded length of every command built from t.
func (t *Template) Width() int {
	return t.width
}

// Encode renders the template with the given values.
func (t *Template) Encode(v Values) ([]byte, error) {
	var sb strings.Builder
	sb.Grow(t.width * 2)

	for _, s := range t.segments {
		part, err := s.render(v)
		if err != nil {
			return nil, &FieldError{Template: t.Name, Field: fieldName(s), Err: err}
		}
		sb.WriteString(part)
	}

	out, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name, err)
	}
	return out, nil
}

// MustEncode is Encode for templates without fields.
func (t *Template) MustEncode() []byte {
	out, err := t.Encode(nil)
	if err != nil {
		panic(err)
	}
	return out
}

type literal string

// Literal is a fixed run of hex digits.
func Literal(hexDigits string) Segment {
	return literal(strings.ToUpper(strings.ReplaceAll(hexDigits, " ", "")))
}

func (l literal) Width() int { return len(l) / 2 }

func (l literal) render(Values) (string, error) { return string(l), nil }

type hexField struct {
	name string
	size int
}

// Hex is a slot for an identifier given as hex text or raw bytes. The value is
// right-justified and left-padded with '0'; an overlong value keeps its leftmost digits.
func Hex(name string, size int) Segment {
	return hexField{name: name, size: size}
}

func (f hexField) Width() int { return f.size }

func (f hexField) render(v Values) (string, error) {
	raw, ok := v[f.name]
	if !ok {
		return "", fmt.Errorf("missing value")
	}

	var digits string
	switch val := raw.(type) {
	case string:
		digits = strings.ToUpper(val)
		if !IsHex(digits) {
			return "", fmt.Errorf("not hex: %q", val)
		}
	case []byte:
		digits = strings.ToUpper(hex.EncodeToString(val))
	default:
		return "", fmt.Errorf("unsupported type %T", raw)
	}

	return fit(digits, f.size*2, '0', AlignRight), nil
}

type asciiField struct {
	name string
	size int
	pad  byte
	just Justify
}

// ASCII is a slot for text that travels as its character codes. The text is padded with pad
// on the side given by just, or truncated to size characters.
func ASCII(name string, size int, pad byte, just Justify) Segment {
	return asciiField{name: name, size: size, pad: pad, just: just}
}

func (f asciiField) Width() int { return f.size }

func (f asciiField) render(v Values) (string, error) {
	raw, ok := v[f.name]
	if !ok {
		return "", fmt.Errorf("missing value")
	}
	text, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("unsupported type %T", raw)
	}
	return strings.ToUpper(hex.EncodeToString([]byte(fit(text, f.size, f.pad, f.just)))), nil
}

type leField struct {
	name string
	size int
}

// LE is a slot for an unsigned integer written little-endian over size bytes.
// Bytes above size are dropped.
func LE(name string, size int) Segment {
	return leField{name: name, size: size}
}

func (f leField) Width() int { return f.size }

func (f leField) render(v Values) (string, error) {
	raw, ok := v[f.name]
	if !ok {
		return "", fmt.Errorf("missing value")
	}

	var n uint64
	switch val := raw.(type) {
	case uint32:
		n = uint64(val)
	case uint64:
		n = val
	case int:
		if val < 0 {
			return "", fmt.Errorf("negative value %d", val)
		}
		n = uint64(val)
	case int64:
		if val < 0 {
			return "", fmt.Errorf("negative value %d", val)
		}
		n = uint64(val)
	default:
		return "", fmt.Errorf("unsupported type %T", raw)
	}

	return strings.ToUpper(hex.EncodeToString(EncodeUintLE(n, f.size))), nil
}

// EncodeUintLE writes the low size bytes of n, least significant first.
func EncodeUintLE(n uint64, size int) []byte {
	out := make([]byte, size)
	for i := 0; i < size && i < 8; i++ {
		out[i] = byte(n >> (8 * i))
	}
	return out
}

func fit(s string, width int, pad byte, just Justify) string {
	if len(s) >= width {
		return s[:width]
	}
	padding := strings.Repeat(string(pad), width-len(s))
	if just == AlignLeft {
		return s + padding
	}
	return padding + s
}

// IsHex reports whether s holds only hex digits, in either case. The empty string is hex.
func IsHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func fieldName(s Segment) string {
	switch f := s.(type) {
	case hexField:
		return f.name
	case asciiField:
		return f.name
	case leField:
		return f.name
	default:
		return ""
	}
}
