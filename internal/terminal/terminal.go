// Package terminal drives the card-presence loop: it pairs the SAM, charges every newly presented
// card one at a time, journals the outcome and publishes it.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gregLibert/brizzi-terminal/internal/logging"
	"github.com/gregLibert/brizzi-terminal/internal/pcsc"
	"github.com/gregLibert/brizzi-terminal/internal/publish"
	"github.com/gregLibert/brizzi-terminal/pkg/emv"
	"github.com/gregLibert/brizzi-terminal/pkg/iso7816"
	"github.com/gregLibert/brizzi-terminal/pkg/picc"
	"github.com/gregLibert/brizzi-terminal/pkg/sam"
	"github.com/gregLibert/brizzi-terminal/pkg/transaction"
)

// RefSequence is the journal counter reference numbers are drawn from.
const RefSequence = "ref"

// ErrNoSAM is returned when a card is charged before the SAM is paired.
var ErrNoSAM = errors.New("no SAM paired")

// Card is a connected reader.
type Card interface {
	iso7816.Transmitter
	Close() error
}

// Connector opens a connection to the card in a reader.
type Connector interface {
	Connect(reader string) (Card, error)
}

// ConnectFunc adapts a function to Connector.
type ConnectFunc func(reader string) (Card, error)

func (f ConnectFunc) Connect(reader string) (Card, error) { return f(reader) }

// Watcher reports card insertions and removals.
type Watcher interface {
	Next(ctx context.Context) (pcsc.Change, error)
}

// Journal numbers and stores transactions.
type Journal interface {
	NextSequence(ctx context.Context, name string) (uint64, error)
	Record(ctx context.Context, res *transaction.Result, receipt []byte) error
}

// Config is the terminal identity and the readers it drives.
type Config struct {
	SAMReader   string
	PICCReader  string // empty accepts a card in any reader but the SAM's
	MID         string
	TID         string
	ProcCode    string
	BatchNumber string
	Amount      uint32
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithPublisher sets where results are shipped after being journaled.
func WithPublisher(p publish.Publisher) Option {
	return func(t *Terminal) { t.publisher = p }
}

// WithFeedback replaces the default LogFeedback.
func WithFeedback(f transaction.Feedback) Option {
	return func(t *Terminal) { t.feedback = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Terminal) { t.now = now }
}

// Terminal is one payment point: a SAM and a card reader.
type Terminal struct {
	cfg       Config
	connector Connector
	journal   Journal
	publisher publish.Publisher
	feedback  transaction.Feedback
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	samCard Card
	orch    *transaction.Orchestrator
}

func New(cfg Config, connector Connector, journal Journal, logger *zap.Logger, opts ...Option) *Terminal {
	t := &Terminal{
		cfg:       cfg,
		connector: connector,
		journal:   journal,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.feedback == nil {
		t.feedback = LogFeedback{Logger: logger}
	}
	return t
}

// PairSAM connects to the SAM reader. Pairing an already paired terminal is a no-op.
func (t *Terminal) PairSAM() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.samCard != nil {
		return nil
	}

	card, err := t.connector.Connect(t.cfg.SAMReader)
	if err != nil {
		return fmt.Errorf("pair SAM: %w", err)
	}

	port := iso7816.NewPort(card, nil, iso7816.WithObserver(logging.APDUObserver(t.logger)))
	t.samCard = card
	t.orch = transaction.New(sam.NewSession(port),
		transaction.WithLogger(t.logger),
		transaction.WithFeedback(t.feedback),
		transaction.WithClock(t.now),
	)

	t.logger.Info("SAM paired", logging.Reader(t.cfg.SAMReader))
	return nil
}

// UnpairSAM drops the SAM connection.
func (t *Terminal) UnpairSAM() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.samCard == nil {
		return
	}
	if err := t.samCard.Close(); err != nil {
		t.logger.Warn("closing SAM connection", zap.Error(err))
	}
	t.samCard, t.orch = nil, nil
	t.logger.Info("SAM unpaired", logging.Reader(t.cfg.SAMReader))
}

// Paired reports whether a SAM is connected.
func (t *Terminal) Paired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orch != nil
}

// Close releases the SAM and the publisher.
func (t *Terminal) Close() {
	t.UnpairSAM()
	if t.publisher != nil {
		t.publisher.Close()
	}
}

// Charge debits amount from the card in reader. The returned result is nil only when no run
// took place; a failed run is a result with Status false and a nil error. The error reports
// failures around the run, such as the journal refusing the record.
func (t *Terminal) Charge(ctx context.Context, reader string, amount uint32) (*transaction.Result, error) {
	t.mu.Lock()
	orch := t.orch
	t.mu.Unlock()
	if orch == nil {
		return nil, ErrNoSAM
	}

	seq, err := t.journal.NextSequence(ctx, RefSequence)
	if err != nil {
		return nil, fmt.Errorf("allocate reference number: %w", err)
	}

	card, err := t.connector.Connect(reader)
	if err != nil {
		return nil, fmt.Errorf("connect card: %w", err)
	}
	defer func() {
		if err := card.Close(); err != nil {
			t.logger.Warn("closing card connection", logging.Reader(reader), zap.Error(err))
		}
	}()

	port := iso7816.NewPort(nil, card, iso7816.WithObserver(logging.APDUObserver(t.logger)))
	res := orch.Run(picc.NewSession(port), transaction.Request{
		Amount:      amount,
		MID:         t.cfg.MID,
		TID:         t.cfg.TID,
		ProcCode:    t.cfg.ProcCode,
		RefNumber:   fmt.Sprintf("%06d", seq%1_000_000),
		BatchNumber: t.cfg.BatchNumber,
	})

	receipt, err := encodeReceipt(res)
	if err != nil {
		t.logger.Warn("building receipt", logging.TransactionID(res.ID.String()), zap.Error(err))
	}

	if err := t.journal.Record(ctx, res, receipt); err != nil {
		return res, fmt.Errorf("journal: %w", err)
	}

	if t.publisher != nil {
		if err := t.publisher.Publish(ctx, res); err != nil {
			t.logger.Error("publishing result", logging.TransactionID(res.ID.String()), zap.Error(err))
		}
	}
	return res, nil
}

func encodeReceipt(res *transaction.Result) ([]byte, error) {
	r, err := emv.NewReceipt(res)
	if err != nil {
		return nil, err
	}
	return r.Encode()
}

// Serve reacts to card presence until ctx is done. Insertions within one change are handled in
// order and each charge completes before the next starts.
func (t *Terminal) Serve(ctx context.Context, w Watcher) error {
	for {
		change, err := w.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch readers: %w", err)
		}

		for _, r := range change.Removed {
			if r == t.cfg.SAMReader {
				t.UnpairSAM()
			}
		}

		for _, r := range change.Inserted {
			if r != t.cfg.SAMReader {
				continue
			}
			if err := t.PairSAM(); err != nil {
				t.logger.Error("SAM inserted but could not be paired", logging.Reader(r), zap.Error(err))
			}
		}

		for _, r := range change.Inserted {
			if !t.accepts(r) {
				continue
			}
			t.handleCard(ctx, r)
		}
	}
}

func (t *Terminal) accepts(reader string) bool {
	if reader == t.cfg.SAMReader {
		return false
	}
	return t.cfg.PICCReader == "" || reader == t.cfg.PICCReader
}

func (t *Terminal) handleCard(ctx context.Context, reader string) {
	logger := t.logger.With(logging.Reader(reader))

	res, err := t.Charge(ctx, reader, t.cfg.Amount)
	if res == nil {
		logger.Warn("card not charged", zap.Error(err))
		return
	}
	if err != nil {
		logger.Error("transaction not journaled", logging.TransactionID(res.ID.String()), zap.Error(err))
	}

	fields := []zap.Field{
		logging.TransactionID(res.ID.String()),
		logging.CardNumber(res.CardNumber),
		zap.String("state", string(res.State)),
	}
	if res.Status {
		logger.Info("card charged", append(fields, zap.Int64("balance_after", res.BalanceAfter))...)
		return
	}
	logger.Warn("card not charged", append(fields, logging.Step(res.FailedStep), zap.String("error", res.Error))...)
}
