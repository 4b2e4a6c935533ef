package iso7816

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gregLibert/brizzi-terminal/pkg/tlv"
)

// scriptedCard replays canned raw responses and remembers what it was sent.
type scriptedCard struct {
	responses [][]byte
	err       error
	sent      [][]byte
}

func (c *scriptedCard) Transmit(cmd []byte) ([]byte, error) {
	c.sent = append(c.sent, cmd)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func TestPort_TransmitRoutesByEndpoint(t *testing.T) {
	sam := &scriptedCard{responses: [][]byte{tlv.Hex("90 00")}}
	picc := &scriptedCard{responses: [][]byte{tlv.Hex("00 90 00")}}
	port := NewPort(sam, picc)

	if _, err := port.Transmit(SAM, tlv.Hex("00 A4 04 0C")); err != nil {
		t.Fatalf("SAM transmit failed: %v", err)
	}
	resp, err := port.Transmit(PICC, tlv.Hex("5A 01 00 00"))
	if err != nil {
		t.Fatalf("PICC transmit failed: %v", err)
	}

	if len(sam.sent) != 1 || len(picc.sent) != 1 {
		t.Fatalf("sent = %d/%d; want 1/1", len(sam.sent), len(picc.sent))
	}
	if !bytes.Equal(resp.Data, []byte{0x00}) || !resp.Status.IsSuccess() {
		t.Errorf("PICC response = %s", resp)
	}
	if got := len(port.Trace()); got != 2 {
		t.Errorf("trace length = %d; want 2", got)
	}
}

func TestPort_StatusWordIsNotAnError(t *testing.T) {
	sam := &scriptedCard{responses: [][]byte{tlv.Hex("6A 82")}}
	port := NewPort(sam, nil)

	resp, err := port.Transmit(SAM, tlv.Hex("00 A4 04 0C"))
	if err != nil {
		t.Fatalf("non-success status must not be an error: %v", err)
	}
	if resp.Status != SW_ERR_FILE_NOT_FOUND {
		t.Errorf("status = %s", resp.Status.Verbose())
	}
}

func TestPort_TransportFailure(t *testing.T) {
	var observed error
	sam := &scriptedCard{err: errors.New("reader unplugged")}
	port := NewPort(sam, nil, WithObserver(func(_ Endpoint, _ []byte, _ *ResponseAPDU, err error) {
		observed = err
	}))

	_, err := port.Transmit(SAM, tlv.Hex("00 A4 04 0C"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}
	if KindOf(err) != KindTransport {
		t.Errorf("KindOf = %s", KindOf(err))
	}
	if observed == nil {
		t.Error("observer was not told about the failure")
	}

	if _, err := port.Transmit(PICC, tlv.Hex("C7")); !errors.Is(err, ErrTransport) {
		t.Errorf("missing reader: want ErrTransport, got %v", err)
	}
}

func TestPort_ShortReplyIsMalformed(t *testing.T) {
	picc := &scriptedCard{responses: [][]byte{{0x00}}}
	port := NewPort(nil, picc)

	_, err := port.Transmit(PICC, tlv.Hex("C7"))
	if KindOf(err) != KindMalformed {
		t.Errorf("KindOf = %s; want malformed_response (%v)", KindOf(err), err)
	}
}

func TestPort_Continue(t *testing.T) {
	sam := &scriptedCard{responses: [][]byte{tlv.Hex("01 02 03", "90 00")}}
	port := NewPort(sam, nil)

	resp, err := port.Continue(SAM, 0x03)
	if err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	if !bytes.Equal(sam.sent[0], tlv.Hex("00 C0 00 00 03")) {
		t.Errorf("GET RESPONSE = %X", sam.sent[0])
	}
	if len(resp.Data) != 3 {
		t.Errorf("data length = %d; want 3", len(resp.Data))
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{&TransportError{Endpoint: SAM, Err: errors.New("x")}, KindTransport},
		{&MalformedResponseError{Op: "balance", Want: 2, Got: 1}, KindMalformed},
		{&RejectionError{Endpoint: PICC, Op: "debit", Code: 0xBE}, KindRejection},
		{errors.New("other"), KindOther},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s; want %s", tt.err, got, tt.want)
		}
	}
}
