package iso7816

import (
	"testing"
)

func makeTx(ep Endpoint, sw StatusWord) Transaction {
	return Transaction{
		Endpoint: ep,
		Command:  []byte{0x00},
		Response: &ResponseAPDU{Status: sw},
	}
}

func TestTrace_Logic(t *testing.T) {
	t.Run("Empty Trace", func(t *testing.T) {
		var tr Trace
		if tr.Last() != nil {
			t.Error("Empty trace Last() should be nil")
		}
		if tr.For(SAM) != nil {
			t.Error("Empty trace For(SAM) should be nil")
		}
	})

	t.Run("Explicit continuation (61XX then 9000)", func(t *testing.T) {
		tr := Trace{
			makeTx(SAM, NewStatusWord(0x61, 0x20)),
			makeTx(SAM, SW_NO_ERROR),
		}

		if tr.Last().Response.Status != SW_NO_ERROR {
			t.Errorf("Last transaction mismatch")
		}
	})

	t.Run("Filter by endpoint", func(t *testing.T) {
		tr := Trace{
			makeTx(SAM, SW_NO_ERROR),
			makeTx(PICC, SW_NO_ERROR),
			makeTx(SAM, SW_NO_ERROR),
		}

		if got := len(tr.For(SAM)); got != 2 {
			t.Errorf("For(SAM) = %d transactions; want 2", got)
		}
		if got := len(tr.For(PICC)); got != 1 {
			t.Errorf("For(PICC) = %d transactions; want 1", got)
		}
	})
}

func TestDrain(t *testing.T) {
	ok := []byte{0x90, 0x00}
	card := &scriptedCard{responses: [][]byte{ok, ok, ok}}
	p := NewPort(card, card)

	if got := Drain(p); got != nil {
		t.Fatalf("Drain() on a fresh port = %v; want nil", got)
	}

	for _, ep := range []Endpoint{SAM, PICC, SAM} {
		if _, err := p.Transmit(ep, []byte{0x00, 0xB0, 0x00, 0x00}); err != nil {
			t.Fatalf("Transmit(%s): %v", ep, err)
		}
	}

	tr := Drain(p)
	if len(tr) != 3 {
		t.Fatalf("Drain() = %d transactions; want 3", len(tr))
	}
	if tr.Last().Endpoint != SAM {
		t.Errorf("Last().Endpoint = %s; want SAM", tr.Last().Endpoint)
	}
	if got := len(p.Trace()); got != 0 {
		t.Errorf("port kept %d transactions after Drain", got)
	}
	if got := Drain(plainTransport{}); got != nil {
		t.Errorf("Drain() on a non-recording transport = %v; want nil", got)
	}
}

type plainTransport struct{}

func (plainTransport) Transmit(Endpoint, []byte) (*ResponseAPDU, error) { return nil, nil }
func (plainTransport) Continue(Endpoint, byte) (*ResponseAPDU, error)   { return nil, nil }

func TestEndpointText(t *testing.T) {
	for _, ep := range []Endpoint{SAM, PICC} {
		text, err := ep.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%s): %v", ep, err)
		}
		var got Endpoint
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if got != ep {
			t.Errorf("round trip of %s gave %s", ep, got)
		}
	}

	if _, err := Endpoint(7).MarshalText(); err == nil {
		t.Error("MarshalText accepted an unknown endpoint")
	}
	var ep Endpoint
	if err := ep.UnmarshalText([]byte("READER")); err == nil {
		t.Error("UnmarshalText accepted an unknown name")
	}
}
