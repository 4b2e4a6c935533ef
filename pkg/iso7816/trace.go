package iso7816

// TRANSACTION:
// A Transaction is the atomic unit of communication defined in ISO 7816-3: one command sent
// to an endpoint, followed by one response.
//
// TRACE:
// A Trace is a chronological sequence of Transactions across both endpoints. A debit run is a
// single Trace, so when a card rejects a step the full conversation that led there is at hand.

// Transaction represents a completed Command-Response pair.
type Transaction struct {
	Endpoint Endpoint      `json:"endpoint"`
	Command  []byte        `json:"command"`
	Response *ResponseAPDU `json:"response"`
}

// Trace is a sequence of transactions (Command-Response pairs).
type Trace []Transaction

// Last returns the final transaction of the trace.
// Returns nil if the trace is empty.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// For returns the transactions exchanged with a single endpoint, in order.
func (t Trace) For(ep Endpoint) Trace {
	var out Trace
	for _, tx := range t {
		if tx.Endpoint == ep {
			out = append(out, tx)
		}
	}
	return out
}

// Recorder is a Transport that keeps the exchanges it carried.
type Recorder interface {
	Trace() Trace
	Reset()
}

// Drain returns what t recorded since the previous Drain and forgets it.
// It returns nil when t does not record.
func Drain(t Transport) Trace {
	r, ok := t.(Recorder)
	if !ok {
		return nil
	}
	tr := r.Trace()
	r.Reset()
	if len(tr) == 0 {
		return nil
	}
	return tr
}
