package tlv

import (
	"bytes"
	"testing"
)

func TestHex(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  []byte
	}{
		{"Single Part", []string{"5A010000"}, []byte{0x5A, 0x01, 0x00, 0x00}},
		{"Parts Are Joined", []string{"DC00", "010000", "00"}, []byte{0xDC, 0x00, 0x01, 0x00, 0x00, 0x00}},
		{"Spaces Ignored", []string{"00 C0 00 00", " 10"}, []byte{0x00, 0xC0, 0x00, 0x00, 0x10}},
		{"Lower Case", []string{"af"}, []byte{0xAF}},
		{"Empty", nil, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Hex(tt.parts...); !bytes.Equal(got, tt.want) {
				t.Errorf("Hex(%q) = %X, want %X", tt.parts, got, tt.want)
			}
		})
	}
}

func TestHexPanics(t *testing.T) {
	for _, in := range []string{"6G", "ABC"} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Hex(%q) did not panic", in)
				}
			}()
			Hex(in)
		}()
	}
}

func TestHexString(t *testing.T) {
	tests := map[string][]byte{
		"CAFE01": {0xca, 0xfe, 0x01},
		"":       nil,
	}
	for want, in := range tests {
		if got := HexString(in); got != want {
			t.Errorf("HexString(%X) = %q, want %q", in, got, want)
		}
	}
}
