package dataloader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graph-gophers/dataloader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
	"github.com/UkralStul/codenode-comments/internal/storage/inmemory"
	"github.com/UkralStul/codenode-comments/internal/storage/storagetest"
)

// countingStore counts batch scans.
type countingStore struct {
	storage.Store
	batches atomic.Int32
}

func (s *countingStore) ScanChains(ctx context.Context, entityKeys []string) (map[string][]*domain.Comment, error) {
	s.batches.Add(1)
	return s.Store.ScanChains(ctx, entityKeys)
}

func TestLoaders_LoadChainsBatches(t *testing.T) {
	mem := inmemory.New()
	a := "function:kernel32.dll:4096"
	b := "text_node:kernel32.dll:12"
	storagetest.Append(t, mem, a, "alice", "a1")
	storagetest.Append(t, mem, a, "bob", "a2")
	storagetest.Append(t, mem, b, "alice", "b1")

	store := &countingStore{Store: mem}
	ctx := context.WithValue(context.Background(), key, NewLoaders(store, dataloader.WithWait(50*time.Millisecond)))

	chains, err := For(ctx).LoadChains(ctx, []string{b, a, "section:kernel32.dll:.data"})
	require.NoError(t, err)
	require.Len(t, chains, 3)
	assert.Equal(t, []string{"b1"}, storagetest.Texts(t, chains[0]))
	assert.Equal(t, []string{"a1", "a2"}, storagetest.Texts(t, chains[1]))
	assert.Empty(t, chains[2])
	assert.Equal(t, int32(1), store.batches.Load())
}

func TestWithLoaders(t *testing.T) {
	ctx := WithLoaders(context.Background(), inmemory.New())
	require.NotNil(t, For(ctx))
	assert.Same(t, For(ctx), For(ctx))
}

func TestLoaders_LoadChain(t *testing.T) {
	mem := inmemory.New()
	key := "global_code_node:kernel32.dll:4096"
	storagetest.Append(t, mem, key, "alice", "first")
	storagetest.Append(t, mem, key, "alice", "second")

	l := NewLoaders(mem)
	chain, err := l.LoadChain(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, storagetest.Texts(t, chain))
}

func TestLoaders_IntegrityErrorIsPerKey(t *testing.T) {
	mem := inmemory.New()
	bad := "function:kernel32.dll:1"
	good := "function:kernel32.dll:2"
	first := storagetest.Append(t, mem, bad, "alice", "x")
	second := storagetest.Append(t, mem, bad, "alice", "y")
	storagetest.Append(t, mem, good, "alice", "fine")

	require.NoError(t, mem.InTx(context.Background(), bad, func(tx storage.Tx) error {
		return tx.SetPrevious(context.Background(), first.ID, domain.StringPtr(second.ID))
	}))

	l := NewLoaders(mem)
	_, err := l.LoadChain(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrIntegrity)

	chain, err := l.LoadChain(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, []string{"fine"}, storagetest.Texts(t, chain))

	_, err = l.LoadChains(context.Background(), []string{good, bad})
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}
