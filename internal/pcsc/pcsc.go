// Package pcsc connects the terminal to PC/SC readers.
package pcsc

import (
	"errors"
	"fmt"

	"github.com/ebfe/scard"

	"github.com/gregLibert/brizzi-terminal/pkg/iso7816"
)

// Context is an established PC/SC context.
type Context struct {
	ctx *scard.Context
}

// Establish opens a PC/SC context. Release it when done.
func Establish() (*Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// Release releases the context. Blocked monitors return.
func (c *Context) Release() error {
	_ = c.ctx.Cancel()
	return c.ctx.Release()
}

// Readers lists the attached readers. No reader is not an error.
func (c *Context) Readers() ([]string, error) {
	readers, err := c.ctx.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list readers: %w", err)
	}
	return readers, nil
}

// Connect opens a shared connection to the card in reader.
func (c *Context) Connect(reader string) (*Reader, error) {
	card, err := c.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, fmt.Errorf("connect %q: %w", reader, err)
	}
	return &Reader{Name: reader, card: card}, nil
}

// Monitor returns a presence monitor over this context.
func (c *Context) Monitor(opts ...MonitorOption) *Monitor {
	return NewMonitor(c.ctx, opts...)
}

// Reader is a connected card.
type Reader struct {
	Name string
	card *scard.Card
}

var _ iso7816.Transmitter = (*Reader)(nil)

// Transmit sends a raw command and returns the raw reply, status word included.
func (r *Reader) Transmit(cmd []byte) ([]byte, error) {
	if r == nil || r.card == nil {
		return nil, errors.New("connection not established")
	}
	return r.card.Transmit(cmd)
}

// Close disconnects, leaving the card powered.
func (r *Reader) Close() error {
	if r == nil || r.card == nil {
		return nil
	}
	return r.card.Disconnect(scard.LeaveCard)
}
