package iso7816

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/gregLibert/brizzi-terminal/pkg/tlv"
)

func TestCommandAPDU_Encoding(t *testing.T) {
	insSelect := mustInstruction(INS_SELECT)
	insGetData := mustInstruction(INS_GET_DATA)

	tests := []struct {
		name     string
		cmd      *CommandAPDU
		expected string
	}{
		{
			name:     "Case 1: Header Only (No Data, No Le)",
			cmd:      NewCommandAPDU(0x00, insSelect, 0x01, 0x02, nil, 0),
			expected: "00A40102",
		},
		{
			name:     "Case 3 Short: Data, no Le",
			cmd:      NewCommandAPDU(0x00, insSelect, 0x04, 0x00, []byte{0xA0, 0x00}, 0),
			expected: "00A4040002A000",
		},
		{
			name: "Case 2 Short: reader GET DATA UID (Le=256)",
			cmd:  NewCommandAPDU(0xFF, insGetData, 0x00, 0x00, nil, MaxShortLe),
			// Le=00 means 256 in Short mode
			expected: "FFCA000000",
		},
		{
			name:     "Case 4 Short: Data and Le",
			cmd:      NewCommandAPDU(0x00, insSelect, 0x00, 0x00, []byte{0x01}, 10),
			expected: "00A4000001010A",
		},
		{
			name: "Case 3 Extended: Data > MaxShortLc",
			cmd: func() *CommandAPDU {
				return NewCommandAPDU(0x00, insSelect, 0x00, 0x00, make([]byte, 260), 0)
			}(),
			// Lc Extended: 00 (Flag) + 0104 (Len 260) + Data...
			expected: "00A40000000104" + hex.EncodeToString(make([]byte, 260)),
		},
		{
			name:     "Case 2 Extended: No Data, Le=MaxExtendedLe (65536)",
			cmd:      NewCommandAPDU(0x00, insGetData, 0x00, 0x00, nil, MaxExtendedLe),
			expected: "00CA0000000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotBytes, err := tt.cmd.Bytes()
			if err != nil {
				t.Fatalf("Encoding failed: %v", err)
			}
			gotHex := strings.ToUpper(hex.EncodeToString(gotBytes))
			expectedHex := strings.ToUpper(tt.expected)

			if gotHex != expectedHex {
				dispGot := gotHex
				dispExp := expectedHex
				if len(dispGot) > 50 {
					dispGot = dispGot[:20] + "..." + dispGot[len(dispGot)-10:]
					dispExp = dispExp[:20] + "..." + dispExp[len(dispExp)-10:]
				}
				t.Errorf("Mismatch\nExpected: %s\nGot:      %s", dispExp, dispGot)
			}
		})
	}
}

func TestCommandAPDU_InvalidNe(t *testing.T) {
	cmd := NewCommandAPDU(0x00, mustInstruction(INS_SELECT), 0, 0, nil, MaxExtendedLe+1)
	if _, err := cmd.Bytes(); err == nil {
		t.Error("Expected error for Ne above MaxExtendedLe")
	}
}

func TestParseResponseAPDU(t *testing.T) {
	resp, err := ParseResponseAPDU(tlv.Hex("01 02 03", "90 00"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(resp.Data) != 3 {
		t.Errorf("Wrong data length: got %d, want 3", len(resp.Data))
	}
	if resp.Status != SW_NO_ERROR {
		t.Errorf("Wrong status: got %04X, want %04X", uint16(resp.Status), uint16(SW_NO_ERROR))
	}
}

func TestParseResponseAPDU_TooShort(t *testing.T) {
	_, err := ParseResponseAPDU([]byte{0x90})
	if err == nil {
		t.Fatal("Expected error for short response, got nil")
	}
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", err)
	}
}

func TestResponseAPDU_Buffer(t *testing.T) {
	// Native reply "00 | 10 27 00 00" split by the reader as data=00 10 27, SW=00 00.
	resp := NewResponseAPDU(tlv.Hex("00 10 27"), 0x00, 0x00)

	got := resp.Buffer()
	want := tlv.Hex("00 10 27 00 00")
	if hex.EncodeToString(got) != hex.EncodeToString(want) {
		t.Errorf("Buffer() = %X; want %X", got, want)
	}

	// Buffer must not alias Data.
	got[0] = 0xFF
	if resp.Data[0] != 0x00 {
		t.Error("Buffer() aliases the response data")
	}
}
