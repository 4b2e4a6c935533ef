package pcsc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ebfe/scard"
	"github.com/stretchr/testify/require"
)

// fakeSource replays one reader snapshot per GetStatusChange call.
type fakeSource struct {
	readers [][]string
	present []map[string]bool
	waits   [][]scard.ReaderState
	listErr error
	call    int
}

func (f *fakeSource) ListReaders() ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.readers[min(f.call, len(f.readers)-1)], nil
}

func (f *fakeSource) GetStatusChange(rs []scard.ReaderState, _ time.Duration) error {
	defer func() { f.call++ }()
	if f.call >= len(f.present) {
		return scard.ErrTimeout
	}
	seen := make([]scard.ReaderState, len(rs))
	copy(seen, rs)
	f.waits = append(f.waits, seen)

	for i := range rs {
		rs[i].EventState = scard.StateChanged | scard.StateEmpty
		if f.present[f.call][rs[i].Reader] {
			rs[i].EventState = scard.StateChanged | scard.StatePresent
		}
	}
	return nil
}

func TestMonitorInsertAndRemove(t *testing.T) {
	src := &fakeSource{
		readers: [][]string{{"SAM", "PICC"}},
		present: []map[string]bool{
			{"SAM": true},
			{"SAM": true, "PICC": true},
			{"SAM": true},
		},
	}
	m := NewMonitor(src, WithPollInterval(time.Millisecond))
	ctx := context.Background()

	change, err := m.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"SAM"}, change.Inserted)
	require.Empty(t, change.Removed)

	change, err = m.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"PICC"}, change.Inserted)
	require.Equal(t, []string{"PICC", "SAM"}, m.Present())

	change, err = m.Next(ctx)
	require.NoError(t, err)
	require.Empty(t, change.Inserted)
	require.Equal(t, []string{"PICC"}, change.Removed)

	// Known readers are waited on from their last state, with the changed bit cleared.
	require.Equal(t, scard.StateUnaware, src.waits[0][0].CurrentState)
	require.Equal(t, scard.StatePresent, src.waits[1][0].CurrentState)
}

func TestMonitorReaderUnplugged(t *testing.T) {
	src := &fakeSource{
		readers: [][]string{{"SAM", "PICC"}, {"SAM"}},
		present: []map[string]bool{{"SAM": true, "PICC": true}},
	}
	m := NewMonitor(src, WithPollInterval(time.Millisecond))

	change, err := m.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"SAM", "PICC"}, change.Inserted)

	change, err = m.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"PICC"}, change.Removed)
	require.Equal(t, []string{"SAM"}, m.Present())
}

func TestMonitorStops(t *testing.T) {
	src := &fakeSource{readers: [][]string{{"PICC"}}}
	m := NewMonitor(src, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMonitorNoReaders(t *testing.T) {
	src := &fakeSource{listErr: scard.ErrNoReadersAvailable}
	m := NewMonitor(src, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMonitorFailure(t *testing.T) {
	boom := errors.New("service stopped")
	m := NewMonitor(&fakeSource{listErr: boom})

	_, err := m.Next(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestChangeEmpty(t *testing.T) {
	require.True(t, Change{}.Empty())
	require.False(t, Change{Removed: []string{"PICC"}}.Empty())
}
