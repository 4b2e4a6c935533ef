package transaction

// Signal is what the actuation side (buzzer, gate) is told about a run.
type Signal int

const (
	Success Signal = iota
	Failure
)

func (s Signal) String() string {
	if s == Success {
		return "success"
	}
	return "failure"
}

// SignalOf maps a result to its signal.
func SignalOf(r *Result) Signal {
	if r.Status {
		return Success
	}
	return Failure
}

// Feedback receives one signal per run, after the result is final.
type Feedback interface {
	Notify(Signal)
}

// FeedbackFunc adapts a function to Feedback.
type FeedbackFunc func(Signal)

func (f FeedbackFunc) Notify(s Signal) { f(s) }
