package inmemory

import (
	"context"
	"testing"

	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
	"github.com/UkralStul/codenode-comments/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Suite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	})
}

func TestStore_StagedWritesInvisibleUntilCommit(t *testing.T) {
	store := New()
	ctx := context.Background()
	key := "function:notepad.exe:sub_1002B87"

	err := store.InTx(ctx, key, func(tx storage.Tx) error {
		require.NoError(t, tx.Insert(ctx, &domain.Comment{EntityKey: key, AuthorID: "user-1", Text: "pending"}))

		outside, err := store.ScanChain(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, outside)
		return nil
	})
	require.NoError(t, err)

	committed, err := store.ScanChain(ctx, key)
	require.NoError(t, err)
	assert.Len(t, committed, 1)
}

func TestStore_InsertRejectsOtherEntity(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.InTx(ctx, "edge:m:1", func(tx storage.Tx) error {
		return tx.Insert(ctx, &domain.Comment{EntityKey: "edge:m:2", AuthorID: "user-1", Text: "x"})
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	c := storagetest.Append(t, store, "edge:m:1", "user-1", "original")

	got, err := store.GetComment(ctx, c.ID)
	require.NoError(t, err)
	got.Text = "mutated by caller"

	again, err := store.GetComment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Text)
}

func TestStore_CanceledContext(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.InTx(ctx, "edge:m:1", func(tx storage.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
