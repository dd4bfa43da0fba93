package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openQueue(t *testing.T, max int) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry_queue")
	q, err := Open(path, max)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, path
}

func payload(i int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
}

func TestEnqueueHeadPop(t *testing.T) {
	q, _ := openQueue(t, 10)
	require.NoError(t, q.Enqueue(payload(1)))
	require.NoError(t, q.Enqueue(payload(2)))

	head, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, int64(1), head.Seq)
	assert.JSONEq(t, `{"n":1}`, string(head.Payload))

	require.NoError(t, q.Pop())
	head, ok = q.Head()
	require.True(t, ok)
	assert.Equal(t, int64(2), head.Seq)
}

func TestOverflowDropsOldest(t *testing.T) {
	q, _ := openQueue(t, 3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Enqueue(payload(i)))
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Drops())

	head, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, int64(3), head.Seq, "oldest surviving entry should be seq 3")
}

func TestSeqStrictlyIncreasing(t *testing.T) {
	q, _ := openQueue(t, 2)
	for i := 1; i <= 4; i++ {
		require.NoError(t, q.Enqueue(payload(i)))
	}
	// Drain completely, then enqueue again: seq must not restart.
	require.NoError(t, q.Pop())
	require.NoError(t, q.Pop())
	require.NoError(t, q.Enqueue(payload(5)))

	head, ok := q.Head()
	require.True(t, ok)
	assert.Equal(t, int64(5), head.Seq)
}

func TestCrashRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry_queue")
	q, err := Open(path, 10)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(payload(1)))
	require.NoError(t, q.Enqueue(payload(2)))

	head, _ := q.Head()
	head.Attempts = 3
	head.NextAttemptTS = time.Now().Add(time.Hour)
	require.NoError(t, q.UpdateHead(head))
	require.NoError(t, q.Close())

	q2, err := Open(path, 10)
	require.NoError(t, err)
	defer q2.Close()

	assert.Equal(t, 2, q2.Len())
	head, ok := q2.Head()
	require.True(t, ok)
	assert.Equal(t, int64(1), head.Seq)
	assert.Equal(t, 3, head.Attempts)
	assert.True(t, head.NextAttemptTS.After(time.Now()))

	// Seq continues past what was on disk.
	require.NoError(t, q2.Enqueue(payload(3)))
	assert.Equal(t, 3, q2.Len())
	require.NoError(t, q2.Pop())
	require.NoError(t, q2.Pop())
	head, ok = q2.Head()
	require.True(t, ok)
	assert.Equal(t, int64(3), head.Seq)
}

func TestSecondProcessLockedOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry_queue")
	q, err := Open(path, 10)
	require.NoError(t, err)
	defer q.Close()

	_, err = Open(path, 10)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestSenderDrainsOn2xx(t *testing.T) {
	var posts atomic.Int64
	var auth atomic.Value
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	q, _ := openQueue(t, 10)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(payload(i)))
	}

	s := NewSender(q, SenderConfig{
		URL:          sink.URL,
		Token:        "secret",
		IdleInterval: 20 * time.Millisecond,
		Log:          zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return q.Len() == 0 }, 5*time.Second, 20*time.Millisecond,
		"queue did not drain")
	assert.Equal(t, int64(3), posts.Load())
	assert.Equal(t, "Bearer secret", auth.Load())
}

func TestSenderBacksOffOn5xx(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer sink.Close()

	q, _ := openQueue(t, 10)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(payload(i)))
	}

	s := NewSender(q, SenderConfig{
		URL:         sink.URL,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
		MaxAttempts: 100,
		Log:         zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		head, ok := q.Head()
		return ok && head.Attempts >= 2
	}, 5*time.Second, 10*time.Millisecond, "attempts did not grow")

	head, _ := q.Head()
	assert.Equal(t, int64(1), head.Seq, "failing head must not be reordered")
	assert.Equal(t, 3, q.Len(), "queue length must hold while head retries")
	assert.False(t, head.NextAttemptTS.IsZero())
}

func TestSenderRecoversWhenSinkHeals(t *testing.T) {
	var healthy atomic.Bool
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer sink.Close()

	q, _ := openQueue(t, 10)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(payload(i)))
	}

	s := NewSender(q, SenderConfig{
		URL:         sink.URL,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
		MaxAttempts: 1000,
		Log:         zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		head, ok := q.Head()
		return ok && head.Attempts >= 1
	}, 5*time.Second, 10*time.Millisecond)

	healthy.Store(true)
	require.Eventually(t, func() bool { return q.Len() == 0 }, 5*time.Second, 10*time.Millisecond,
		"queue did not drain after sink healed")
}

func TestSenderDropsAfterMaxAttempts(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer sink.Close()

	q, _ := openQueue(t, 10)
	require.NoError(t, q.Enqueue(payload(1)))

	s := NewSender(q, SenderConfig{
		URL:         sink.URL,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		MaxAttempts: 3,
		Log:         zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return q.Len() == 0 }, 5*time.Second, 10*time.Millisecond,
		"exhausted entry was never dropped")
	assert.Equal(t, uint64(1), q.Drops())
}

func TestBackoffFormula(t *testing.T) {
	s := NewSender(nil, SenderConfig{
		BackoffBase: time.Second,
		BackoffMax:  8 * time.Second,
		Log:         zerolog.Nop(),
	})
	for attempts, base := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		9: 8 * time.Second, // capped
	} {
		got := s.backoff(attempts)
		assert.GreaterOrEqual(t, got, base, "attempts=%d", attempts)
		assert.LessOrEqual(t, got, base+base/4, "attempts=%d", attempts)
	}
}
