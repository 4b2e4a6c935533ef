// Package publish ships transaction results off the terminal.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gregLibert/brizzi-terminal/pkg/transaction"
)

// Publisher delivers a finished transaction result.
type Publisher interface {
	Publish(ctx context.Context, res *transaction.Result) error
	Close()
}

// Record is the message form of a result: keyed by card number so that every transaction of a
// card lands in the same partition.
type Record struct {
	Key   []byte
	Value []byte
}

// NewRecord encodes res.
func NewRecord(res *transaction.Result) (Record, error) {
	value, err := json.Marshal(res)
	if err != nil {
		return Record{}, fmt.Errorf("encode result %s: %w", res.ID, err)
	}
	key := res.CardNumber
	if key == "" {
		key = res.ID.String()
	}
	return Record{Key: []byte(key), Value: value}, nil
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, res *transaction.Result) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}

// Fallback publishes to Primary and parks the result in Secondary when that fails.
type Fallback struct {
	Primary   Publisher
	Secondary Publisher
	Logger    *zap.Logger
}

func (f *Fallback) Publish(ctx context.Context, res *transaction.Result) error {
	err := f.Primary.Publish(ctx, res)
	if err == nil {
		return nil
	}

	f.Logger.Warn("publish failed, sending to dead letter queue", zap.Stringer("transaction_id", res.ID), zap.Error(err))
	if dlqErr := f.Secondary.Publish(ctx, res); dlqErr != nil {
		return errors.Join(err, dlqErr)
	}
	return nil
}

func (f *Fallback) Close() {
	f.Primary.Close()
	f.Secondary.Close()
}
