package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]func(t *testing.T) storage.EventLog {
	return map[string]func(t *testing.T) storage.EventLog{
		"memory": func(t *testing.T) storage.EventLog { return storage.NewMemoryStore(4) },
		"sqlite": func(t *testing.T) storage.EventLog {
			s, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), 4)
			require.NoError(t, err)
			require.NoError(t, s.Migrate(context.Background()))
			t.Cleanup(s.Close)
			return s
		},
	}
}

func TestRecordDebounce(t *testing.T) {
	ctx := context.Background()

	for name, newLog := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := New(newLog(t), DefaultCooldown)

			first, err := l.Record(ctx, "E001", 0.31, "", t0)
			require.NoError(t, err)
			require.False(t, first.Debounced())
			assert.Equal(t, "E001", first.Event.IdentityID)
			assert.True(t, first.Event.Timestamp.Equal(t0))
			assert.InDelta(t, 0.31, first.Event.MatchDistance, 1e-9)

			second, err := l.Record(ctx, "E001", 0.2, "", t0.Add(10*time.Second))
			require.NoError(t, err)
			require.True(t, second.Debounced())
			assert.True(t, second.LastEventTimestamp.Equal(t0))

			third, err := l.Record(ctx, "E001", 0.25, "", t0.Add(61*time.Second))
			require.NoError(t, err)
			require.False(t, third.Debounced())

			events, total, err := l.List(ctx, models.EventQuery{IdentityID: "E001"})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			require.Len(t, events, 2)
			assert.True(t, events[0].Timestamp.Equal(t0.Add(61*time.Second)))
			assert.True(t, events[1].Timestamp.Equal(t0))

			got, err := l.Get(ctx, third.Event.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "E001", got.IdentityID)
		})
	}
}

func TestRecordCooldownBoundary(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		elapsed   time.Duration
		debounced bool
	}{
		{"same instant", 0, true},
		{"just inside", DefaultCooldown - time.Millisecond, true},
		{"exactly cooldown", DefaultCooldown, false},
		{"well after", 10 * time.Minute, false},
		{"clock went backwards", -5 * time.Second, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := New(storage.NewMemoryStore(4), DefaultCooldown)
			_, err := l.Record(ctx, "E001", 0.1, "", t0)
			require.NoError(t, err)

			res, err := l.Record(ctx, "E001", 0.1, "", t0.Add(tc.elapsed))
			require.NoError(t, err)
			assert.Equal(t, tc.debounced, res.Debounced())
		})
	}
}

func TestRecordIdentitiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := New(storage.NewMemoryStore(4), DefaultCooldown)

	a, err := l.Record(ctx, "A", 0.1, "", t0)
	require.NoError(t, err)
	b, err := l.Record(ctx, "B", 0.1, "", t0.Add(time.Second))
	require.NoError(t, err)

	assert.False(t, a.Debounced())
	assert.False(t, b.Debounced())
}

func TestRecordZeroCooldownNeverDebounces(t *testing.T) {
	ctx := context.Background()
	l := New(storage.NewMemoryStore(4), 0)

	for i := 0; i < 3; i++ {
		res, err := l.Record(ctx, "A", 0.1, "", t0)
		require.NoError(t, err)
		assert.False(t, res.Debounced())
	}
}

func TestRecordConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()

	for name, newLog := range backends(t) {
		t.Run(name, func(t *testing.T) {
			log := newLog(t)
			l := New(log, DefaultCooldown)

			const workers = 16
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				recorded int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := l.Record(ctx, "E001", 0.1, "", t0.Add(time.Duration(i)*time.Millisecond))
					if err != nil {
						t.Errorf("record: %v", err)
						return
					}
					if !res.Debounced() {
						mu.Lock()
						recorded++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, 1, recorded)
			_, total, err := log.ListEvents(ctx, models.EventQuery{IdentityID: "E001"})
			require.NoError(t, err)
			assert.Equal(t, 1, total)
		})
	}
}

func TestRecordValidates(t *testing.T) {
	l := New(storage.NewMemoryStore(4), DefaultCooldown)
	var ve *descriptor.ValidationError

	_, err := l.Record(context.Background(), " ", 0.1, "", t0)
	assert.True(t, errors.As(err, &ve))

	_, err = l.Record(context.Background(), "E001", 0.1, "", time.Time{})
	assert.True(t, errors.As(err, &ve))
}

type brokenLog struct{ storage.EventLog }

func (brokenLog) WithIdentity(ctx context.Context, id string, fn func(storage.History) error) error {
	return errors.Join(storage.ErrUnavailable, errors.New("disk full"))
}

func TestRecordStorageFailure(t *testing.T) {
	l := New(brokenLog{}, DefaultCooldown)
	_, err := l.Record(context.Background(), "E001", 0.1, "", t0)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}
