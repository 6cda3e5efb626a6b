package chain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
	"github.com/UkralStul/codenode-comments/internal/storage/inmemory"
)

// flakyStore fails the first `failures` transactions with a transient conflict.
type flakyStore struct {
	storage.Store
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) InTx(ctx context.Context, entityKey string, fn func(tx storage.Tx) error) error {
	if s.calls.Add(1) <= s.failures {
		return fmt.Errorf("%w: simulated serialization failure", domain.ErrConflict)
	}
	return s.Store.InTx(ctx, entityKey, fn)
}

func fastRetries(max int) Option {
	return WithOptions(Options{
		MaxRetries:     max,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
		MaxTextLength:  2000,
	})
}

func TestRetry_RecoversFromTransientConflicts(t *testing.T) {
	store := &flakyStore{Store: inmemory.New(), failures: 3}
	e := New(store, fastRetries(5))
	before := testutil.ToFloat64(retriesTotal.WithLabelValues(domain.OpAppend))

	id, err := e.Append(context.Background(), node, "eventually", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, int32(4), store.calls.Load())
	assert.Equal(t, before+3, testutil.ToFloat64(retriesTotal.WithLabelValues(domain.OpAppend)))
	assert.Equal(t, []string{"eventually"}, texts(t, e, node))
}

func TestRetry_Exhausted(t *testing.T) {
	tests := []struct {
		name     string
		op       func(e *Engine, id string) error
		isFailed func(error) bool
	}{
		{
			name: "append",
			op: func(e *Engine, _ string) error {
				_, err := e.Append(context.Background(), node, "never", "alice")
				return err
			},
			isFailed: domain.IsSaveFailure,
		},
		{
			name:     "edit",
			op:       func(e *Engine, id string) error { return e.Edit(context.Background(), node, id, "alice", "never") },
			isFailed: domain.IsSaveFailure,
		},
		{
			name:     "delete",
			op:       func(e *Engine, id string) error { return e.Delete(context.Background(), node, id, "alice") },
			isFailed: domain.IsDeleteFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := inmemory.New()
			id := mustAppend(t, New(mem), node, "original", "alice")

			store := &flakyStore{Store: mem, failures: 1000}
			e := New(store, fastRetries(2))

			err := tt.op(e, id)
			require.ErrorIs(t, err, domain.ErrRetriesExhausted)
			assert.ErrorIs(t, err, domain.ErrConflict)
			assert.True(t, tt.isFailed(err))
			assert.Equal(t, int32(3), store.calls.Load())

			// Nothing changed.
			assert.Equal(t, []string{"original"}, texts(t, e, node))
		})
	}
}

func TestRetry_NonTransientErrorsAreNotRetried(t *testing.T) {
	mem := inmemory.New()
	id := mustAppend(t, New(mem), node, "original", "alice")
	store := &flakyStore{Store: mem}
	e := New(store, fastRetries(5))

	err := e.Edit(context.Background(), node, id, "bob", "x")
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	store := &flakyStore{Store: inmemory.New(), failures: 1000}
	e := New(store, WithOptions(Options{MaxRetries: 100, RetryBaseDelay: time.Hour}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Append(ctx, node, "x", "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestRetry_BackoffIsCapped(t *testing.T) {
	store := &flakyStore{Store: inmemory.New(), failures: 4}
	e := New(store, WithOptions(Options{
		MaxRetries:     4,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
	}))

	start := time.Now()
	_, err := e.Append(context.Background(), node, "x", "alice")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
