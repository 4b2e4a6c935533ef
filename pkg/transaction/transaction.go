// Package transaction sequences the SAM and card sessions into one all-or-nothing debit.
//
// A run walks Steps in order. The first failing step sends the card an abort, which rolls back
// every uncommitted write, and the run ends in Aborted. Nothing is retried.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/gregLibert/brizzi-terminal/pkg/codec"
	"github.com/gregLibert/brizzi-terminal/pkg/iso7816"
	"github.com/gregLibert/brizzi-terminal/pkg/picc"
	"github.com/gregLibert/brizzi-terminal/pkg/sam"
	"github.com/gregLibert/brizzi-terminal/pkg/tlv"
)

// StepValidate names the pre-flight check in Result.FailedStep.
const StepValidate = "validate"

var (
	// ErrInvalidRequest is returned by Request.Validate.
	ErrInvalidRequest = errors.New("invalid transaction request")

	// ErrInsufficientBalance fails the balance step when the purse cannot cover the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Request describes the debit to perform.
type Request struct {
	Amount      uint32
	MID         string
	TID         string
	ProcCode    string
	RefNumber   string
	BatchNumber string
}

// Validate checks the request before any card is touched.
func (r Request) Validate() error {
	switch {
	case r.Amount == 0 || r.Amount > codec.MaxAmount:
		return fmt.Errorf("%w: amount %d outside 1..%d", ErrInvalidRequest, r.Amount, codec.MaxAmount)
	case r.MID == "":
		return fmt.Errorf("%w: missing MID", ErrInvalidRequest)
	case r.TID == "":
		return fmt.Errorf("%w: missing TID", ErrInvalidRequest)
	case !codec.IsHex(r.MID):
		return fmt.Errorf("%w: MID %q is not hex", ErrInvalidRequest, r.MID)
	case !codec.IsHex(r.TID):
		return fmt.Errorf("%w: TID %q is not hex", ErrInvalidRequest, r.TID)
	case !codec.IsHex(r.RefNumber):
		return fmt.Errorf("%w: reference number %q is not hex", ErrInvalidRequest, r.RefNumber)
	}
	return nil
}

// Result is the outcome of one run. It starts with failure values and is filled in as steps
// succeed.
type Result struct {
	ID              uuid.UUID `json:"id"`
	Status          bool      `json:"status"`
	CardNumber      string    `json:"card_number"`
	TransactionDate string    `json:"transaction_date"` // ddmmyy
	TransactionTime string    `json:"transaction_time"` // hhmmss
	BalanceBefore   int64     `json:"balance_before"`
	BalanceAfter    int64     `json:"balance_after"`
	Amount          uint32    `json:"amount"`
	Accumulated     uint32    `json:"accumulated"`
	RefNumber       string    `json:"ref_number"`
	BatchNumber     string    `json:"batch_number"`
	MID             string    `json:"mid"`
	TID             string    `json:"tid"`
	Hash            []byte    `json:"hash,omitempty"`
	State           State     `json:"state"`
	FailedStep      string    `json:"failed_step,omitempty"`
	Error           string    `json:"error,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`

	// Trace holds the exchanges of an aborted run, SAM first and then card. It is empty for
	// committed runs.
	Trace iso7816.Trace `json:"trace,omitempty"`
}

func newResult(req Request, now time.Time) *Result {
	return &Result{
		ID:            uuid.New(),
		BalanceBefore: picc.BalanceTransportFailure,
		BalanceAfter:  picc.BalanceTransportFailure,
		Amount:        req.Amount,
		RefNumber:     req.RefNumber,
		BatchNumber:   req.BatchNumber,
		MID:           req.MID,
		TID:           req.TID,
		State:         Start,
		StartedAt:     now,
	}
}

// CardIdentity is read once per run and never changes afterwards.
type CardIdentity struct {
	CardNumber []byte
	UID        []byte
}

// authChallenge lives only for the authentication handshake of one run.
type authChallenge struct {
	samKey     []byte
	keyCard    []byte
	cardRandom []byte
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for step outcomes.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithFeedback sets the collaborator told about every outcome.
func WithFeedback(f Feedback) Option {
	return func(o *Orchestrator) { o.feedback = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs debits against cards with a single SAM. Runs are serialized: the SAM is
// held for the whole of a run.
type Orchestrator struct {
	mu       sync.Mutex
	sam      *sam.Session
	feedback Feedback
	logger   *zap.Logger
	now      func() time.Time
}

// New returns an orchestrator that owns s.
func New(s *sam.Session, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sam:    s,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one debit on card. It blocks until the card is committed or aborted and never
// returns nil.
func (o *Orchestrator) Run(card *picc.Session, req Request) *Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Anything recorded before this run belongs to no result.
	o.sam.Drain()
	card.Drain()

	r := &run{
		sam:    o.sam,
		card:   card,
		req:    req,
		now:    o.now,
		res:    newResult(req, o.now()),
		logger: o.logger,
	}
	machine := newMachine(func(from, to State) {
		r.logger.Debug("transaction state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	})
	ctx := context.Background()

	if err := req.Validate(); err != nil {
		r.abort(ctx, machine, StepValidate, err)
	} else {
		for _, step := range Steps {
			if err := step.do(r); err != nil {
				r.abort(ctx, machine, step.Event, err)
				break
			}
			if err := machine.Event(ctx, step.Event); err != nil {
				r.abort(ctx, machine, step.Event, err)
				break
			}
		}
	}

	r.res.State = State(machine.Current())
	r.res.Status = r.res.State == Committed
	r.res.FinishedAt = o.now()

	trace := append(o.sam.Drain(), card.Drain()...)
	if r.res.Status {
		o.logger.Info("transaction committed",
			zap.Stringer("id", r.res.ID),
			zap.String("card_number", r.res.CardNumber),
			zap.Uint32("amount", r.res.Amount),
			zap.Int64("balance_after", r.res.BalanceAfter),
		)
	} else {
		r.res.Trace = trace
		o.logAborted(r.res)
	}

	if o.feedback != nil {
		o.feedback.Notify(SignalOf(r.res))
	}
	return r.res
}

func (o *Orchestrator) logAborted(res *Result) {
	fields := []zap.Field{
		zap.Stringer("id", res.ID),
		zap.String("failed_step", res.FailedStep),
		zap.Int("exchanges", len(res.Trace)),
	}
	for _, ep := range []iso7816.Endpoint{iso7816.SAM, iso7816.PICC} {
		last := res.Trace.For(ep).Last()
		if last == nil {
			continue
		}
		prefix := strings.ToLower(ep.String())
		fields = append(fields, zap.String(prefix+"_last_command", tlv.HexString(last.Command)))
		if last.Response != nil {
			fields = append(fields, zap.String(prefix+"_last_status", last.Response.Status.String()))
		}
	}
	o.logger.Warn("transaction aborted", fields...)
}

type run struct {
	sam    *sam.Session
	card   *picc.Session
	req    Request
	now    func() time.Time
	res    *Result
	logger *zap.Logger

	identity CardIdentity
	auth     authChallenge
	last     picc.LastTransaction
	balance  int64
	at       time.Time
}

// abort records the failure and moves the machine to Aborted. The card abort is best effort:
// its failure is logged and dropped.
func (r *run) abort(ctx context.Context, machine *fsm.FSM, step string, cause error) {
	r.res.FailedStep = step
	r.res.Error = cause.Error()
	r.res.ErrorKind = iso7816.KindOf(cause).String()

	r.logger.Warn("transaction step failed",
		zap.String("step", step),
		zap.String("state", machine.Current()),
		zap.String("kind", r.res.ErrorKind),
		zap.Error(cause),
	)

	if err := r.card.Abort(); err != nil {
		r.logger.Error("card abort failed", zap.String("step", step), zap.Error(err))
	}
	if err := machine.Event(ctx, EventAbort); err != nil {
		r.logger.Error("abort transition failed", zap.String("state", machine.Current()), zap.Error(err))
	}
}

func (r *run) selectSAM() error {
	return r.sam.Select()
}

func (r *run) selectAID1() error {
	return r.card.SelectAID1()
}

func (r *run) readCardNumber() error {
	n, err := r.card.CardNumber()
	if err != nil {
		return err
	}
	r.identity.CardNumber = n
	r.res.CardNumber = tlv.HexString(n)
	return nil
}

func (r *run) checkStatus() error {
	return r.card.CheckStatus()
}

func (r *run) selectAID3() error {
	return r.card.SelectAID3()
}

func (r *run) requestKeyCard() error {
	k, err := r.card.RequestKeyCard()
	if err != nil {
		return err
	}
	r.auth.keyCard = k
	return nil
}

func (r *run) readUID() error {
	uid, err := r.card.UID()
	if err != nil {
		return err
	}
	r.identity.UID = uid
	return nil
}

func (r *run) authenticateSAM() error {
	key, err := r.sam.AuthenticateKey(r.identity.CardNumber, r.identity.UID, r.auth.keyCard)
	if err != nil {
		return err
	}
	r.auth.samKey = key
	return nil
}

func (r *run) authenticateCard() error {
	random, err := r.card.Authenticate(r.auth.samKey)
	if err != nil {
		return err
	}
	r.auth.cardRandom = random
	return nil
}

func (r *run) readLastTransaction() error {
	last, err := r.card.LastTransaction()
	if err != nil {
		return err
	}
	r.last = last
	return nil
}

func (r *run) readBalance() error {
	balance, err := r.card.Balance()
	r.res.BalanceBefore = balance
	if err != nil {
		return err
	}
	if balance < int64(r.req.Amount) {
		return fmt.Errorf("%w: balance %d, amount %d", ErrInsufficientBalance, balance, r.req.Amount)
	}
	r.balance = balance
	return nil
}

func (r *run) debit() error {
	if err := r.card.Debit(r.req.Amount); err != nil {
		return err
	}
	r.res.BalanceAfter = r.balance - int64(r.req.Amount)
	return nil
}

func (r *run) createHash() error {
	r.at = r.now()
	hash, err := r.sam.CreateHash(codec.HashFields{
		CardNumber:  r.identity.CardNumber,
		UID:         r.identity.UID,
		CardRandom:  r.auth.cardRandom,
		Amount:      r.req.Amount,
		At:          r.at,
		ProcCode:    r.req.ProcCode,
		RefNumber:   r.req.RefNumber,
		BatchNumber: r.req.BatchNumber,
	})
	if err != nil {
		return err
	}
	r.res.Hash = hash
	r.res.TransactionDate = r.at.Format("020106")
	r.res.TransactionTime = r.at.Format("150405")
	return nil
}

func (r *run) writeLog() error {
	return r.card.WriteLog(codec.LogFields{
		MID:           r.req.MID,
		TID:           r.req.TID,
		At:            r.at,
		Amount:        r.req.Amount,
		BalanceBefore: uint32(r.balance),
		BalanceAfter:  uint32(r.res.BalanceAfter),
		RefNumber:     r.req.RefNumber,
	})
}

func (r *run) writeLastTransaction() error {
	next, err := r.card.WriteLastTransaction(r.last, r.req.Amount, r.at)
	if err != nil {
		return err
	}
	r.res.Accumulated = next.Accumulated
	return nil
}

func (r *run) commit() error {
	return r.card.Commit()
}
