package transaction

import (
	"context"

	"github.com/looplab/fsm"
)

// State is a stage of the debit protocol.
type State string

const (
	Start                  State = "start"
	SamSelected            State = "sam_selected"
	Aid1Selected           State = "aid1_selected"
	CardNumberRead         State = "card_number_read"
	StatusOk               State = "status_ok"
	Aid3Selected           State = "aid3_selected"
	KeyCardRead            State = "key_card_read"
	UidRead                State = "uid_read"
	SamAuthenticated       State = "sam_authenticated"
	CardAuthenticated      State = "card_authenticated"
	LastTransactionRead    State = "last_transaction_read"
	BalanceRead            State = "balance_read"
	Debited                State = "debited"
	HashCreated            State = "hash_created"
	LogWritten             State = "log_written"
	LastTransactionWritten State = "last_transaction_written"
	Committed              State = "committed"
	Aborted                State = "aborted"
)

// Terminal reports whether no event leaves s.
func (s State) Terminal() bool {
	return s == Committed || s == Aborted
}

// EventAbort leaves any non-terminal state for Aborted.
const EventAbort = "abort"

// Step is one forward edge of the protocol. Its action performs the exchange and the edge is
// taken only when the action succeeds.
type Step struct {
	Event string
	From  State
	To    State
	do    func(*run) error
}

// Steps is the protocol in execution order.
var Steps = []Step{
	{Event: "select_sam", From: Start, To: SamSelected, do: (*run).selectSAM},
	{Event: "select_aid1", From: SamSelected, To: Aid1Selected, do: (*run).selectAID1},
	{Event: "read_card_number", From: Aid1Selected, To: CardNumberRead, do: (*run).readCardNumber},
	{Event: "check_status", From: CardNumberRead, To: StatusOk, do: (*run).checkStatus},
	{Event: "select_aid3", From: StatusOk, To: Aid3Selected, do: (*run).selectAID3},
	{Event: "request_key_card", From: Aid3Selected, To: KeyCardRead, do: (*run).requestKeyCard},
	{Event: "read_uid", From: KeyCardRead, To: UidRead, do: (*run).readUID},
	{Event: "authenticate_sam", From: UidRead, To: SamAuthenticated, do: (*run).authenticateSAM},
	{Event: "authenticate_card", From: SamAuthenticated, To: CardAuthenticated, do: (*run).authenticateCard},
	{Event: "read_last_transaction", From: CardAuthenticated, To: LastTransactionRead, do: (*run).readLastTransaction},
	{Event: "read_balance", From: LastTransactionRead, To: BalanceRead, do: (*run).readBalance},
	{Event: "debit", From: BalanceRead, To: Debited, do: (*run).debit},
	{Event: "create_hash", From: Debited, To: HashCreated, do: (*run).createHash},
	{Event: "write_log", From: HashCreated, To: LogWritten, do: (*run).writeLog},
	{Event: "write_last_transaction", From: LogWritten, To: LastTransactionWritten, do: (*run).writeLastTransaction},
	{Event: "commit", From: LastTransactionWritten, To: Committed, do: (*run).commit},
}

// States lists every state, terminal ones last.
func States() []State {
	out := make([]State, 0, len(Steps)+2)
	for _, s := range Steps {
		out = append(out, s.From)
	}
	return append(out, Committed, Aborted)
}

// Events converts Steps into the transition table of the state machine, adding the abort edge
// of every non-terminal state.
func Events() fsm.Events {
	events := make(fsm.Events, 0, len(Steps)+1)
	abortFrom := make([]string, 0, len(Steps))

	for _, s := range Steps {
		events = append(events, fsm.EventDesc{Name: s.Event, Src: []string{string(s.From)}, Dst: string(s.To)})
		abortFrom = append(abortFrom, string(s.From))
	}
	return append(events, fsm.EventDesc{Name: EventAbort, Src: abortFrom, Dst: string(Aborted)})
}

func newMachine(onEnter func(from, to State)) *fsm.FSM {
	callbacks := fsm.Callbacks{}
	if onEnter != nil {
		callbacks["enter_state"] = func(_ context.Context, e *fsm.Event) {
			onEnter(State(e.Src), State(e.Dst))
		}
	}
	return fsm.NewFSM(string(Start), Events(), callbacks)
}
