package pcsc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ebfe/scard"
)

// Change is one transition of the set of readers holding a card.
type Change struct {
	Inserted []string
	Removed  []string
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Removed) == 0
}

// statusSource is the part of *scard.Context the monitor polls.
type statusSource interface {
	ListReaders() ([]string, error)
	GetStatusChange(rs []scard.ReaderState, timeout time.Duration) error
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithPollInterval bounds how long one status wait blocks, which is also how quickly a
// cancelled context is noticed.
func WithPollInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// Monitor turns PC/SC status changes into card insertion and removal events.
type Monitor struct {
	src      statusSource
	interval time.Duration
	states   map[string]scard.StateFlag
	present  map[string]bool
}

func NewMonitor(src statusSource, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		src:      src,
		interval: 500 * time.Millisecond,
		states:   map[string]scard.StateFlag{},
		present:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Present returns the readers currently holding a card, sorted.
func (m *Monitor) Present() []string {
	out := make([]string, 0, len(m.present))
	for r := range m.present {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Next blocks until the set of cards changes or ctx is done. The first call reports every
// card already present as inserted.
func (m *Monitor) Next(ctx context.Context) (Change, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Change{}, err
		}

		readers, err := m.src.ListReaders()
		if err != nil && !errors.Is(err, scard.ErrNoReadersAvailable) {
			return Change{}, fmt.Errorf("list readers: %w", err)
		}

		if len(readers) == 0 {
			if change := m.update(nil); !change.Empty() {
				return change, nil
			}
			select {
			case <-ctx.Done():
				return Change{}, ctx.Err()
			case <-time.After(m.interval):
			}
			continue
		}

		rs := make([]scard.ReaderState, len(readers))
		for i, r := range readers {
			rs[i] = scard.ReaderState{Reader: r, CurrentState: m.states[r]}
		}

		err = m.src.GetStatusChange(rs, m.interval)
		switch {
		case errors.Is(err, scard.ErrTimeout):
			// Nothing moved on the readers we know of, but one may have been unplugged.
			if change := m.forget(readers); !change.Empty() {
				return change, nil
			}
			continue
		case errors.Is(err, scard.ErrCancelled):
			return Change{}, context.Canceled
		case err != nil:
			return Change{}, fmt.Errorf("get status change: %w", err)
		}

		if change := m.update(rs); !change.Empty() {
			return change, nil
		}
	}
}

func (m *Monitor) update(rs []scard.ReaderState) Change {
	seen := make([]string, 0, len(rs))
	var change Change

	for _, s := range rs {
		seen = append(seen, s.Reader)
		m.states[s.Reader] = s.EventState &^ scard.StateChanged

		has := s.EventState&scard.StatePresent != 0 && s.EventState&scard.StateMute == 0
		switch {
		case has && !m.present[s.Reader]:
			m.present[s.Reader] = true
			change.Inserted = append(change.Inserted, s.Reader)
		case !has && m.present[s.Reader]:
			delete(m.present, s.Reader)
			change.Removed = append(change.Removed, s.Reader)
		}
	}

	gone := m.forget(seen)
	change.Removed = append(change.Removed, gone.Removed...)
	return change
}

// forget drops every reader not in attached.
func (m *Monitor) forget(attached []string) Change {
	var change Change
	for r := range m.states {
		if slices.Contains(attached, r) {
			continue
		}
		delete(m.states, r)
		if m.present[r] {
			delete(m.present, r)
			change.Removed = append(change.Removed, r)
		}
	}
	slices.Sort(change.Removed)
	return change
}
