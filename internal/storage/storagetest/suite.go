// Package storagetest holds the behavioural tests every storage.Store backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"TailAndSuccessor", testTailAndSuccessor},
		{"ScanChainIsPartitioned", testScanChainIsPartitioned},
		{"KeysSharingAPrefix", testKeysSharingAPrefix},
		{"MutationScopedToEntity", testMutationScopedToEntity},
		{"ScanChains", testScanChains},
		{"UpdateText", testUpdateText},
		{"SpliceMiddle", testSpliceMiddle},
		{"SpliceHead", testSpliceHead},
		{"DeleteOnlyComment", testDeleteOnlyComment},
		{"RollbackOnError", testRollbackOnError},
		{"NotFound", testNotFound},
		{"ReadYourWrites", testReadYourWrites},
		{"ConcurrentAppends", testConcurrentAppends},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// Append links a new comment to the current tail, retrying on transient conflicts.
func Append(t *testing.T, s storage.Store, entityKey, authorID, text string) *domain.Comment {
	t.Helper()
	c, err := appendWithRetry(context.Background(), s, entityKey, authorID, text)
	require.NoError(t, err)
	return c
}

func appendWithRetry(ctx context.Context, s storage.Store, entityKey, authorID, text string) (*domain.Comment, error) {
	var created *domain.Comment
	for attempt := 0; attempt < 50; attempt++ {
		err := s.InTx(ctx, entityKey, func(tx storage.Tx) error {
			tail, err := tx.Tail(ctx, entityKey)
			if err != nil {
				return err
			}
			c := &domain.Comment{EntityKey: entityKey, AuthorID: authorID, Text: text}
			if tail != nil {
				c.PreviousID = domain.StringPtr(tail.ID)
			}
			if err := tx.Insert(ctx, c); err != nil {
				return err
			}
			created = c
			return nil
		})
		if errors.Is(err, domain.ErrConflict) {
			time.Sleep(time.Duration(attempt+1) * time.Millisecond)
			continue
		}
		return created, err
	}
	return nil, fmt.Errorf("append %q: %w", text, domain.ErrRetriesExhausted)
}

// Texts walks the comments from head to tail and fails the test if they are not a simple path.
func Texts(t *testing.T, comments []*domain.Comment) []string {
	t.Helper()
	if len(comments) == 0 {
		return nil
	}
	next := make(map[string]*domain.Comment, len(comments))
	var head *domain.Comment
	for _, c := range comments {
		if c.PreviousID == nil {
			require.Nil(t, head, "more than one head")
			head = c
			continue
		}
		_, dup := next[*c.PreviousID]
		require.False(t, dup, "two comments share predecessor %s", *c.PreviousID)
		next[*c.PreviousID] = c
	}
	require.NotNil(t, head, "chain has no head")

	texts := make([]string, 0, len(comments))
	for c := head; c != nil; c = next[c.ID] {
		texts = append(texts, c.Text)
		require.LessOrEqual(t, len(texts), len(comments), "cycle in chain")
	}
	require.Len(t, texts, len(comments), "chain is not connected")
	return texts
}

func scan(t *testing.T, s storage.Store, entityKey string) []*domain.Comment {
	t.Helper()
	comments, err := s.ScanChain(context.Background(), entityKey)
	require.NoError(t, err)
	return comments
}

func testInsertAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := Append(t, s, "function:notepad.exe:sub_1002B87", "user-1", " PASS ")
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := s.GetComment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "function:notepad.exe:sub_1002B87", got.EntityKey)
	assert.Equal(t, "user-1", got.AuthorID)
	assert.Equal(t, " PASS ", got.Text)
	assert.Nil(t, got.PreviousID)
}

func testTailAndSuccessor(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := "global_code_node:notepad.exe:sub_1002B87"
	c1 := Append(t, s, key, "user-1", "Comment 1:")
	c2 := Append(t, s, key, "user-1", "Comment 2:")
	c3 := Append(t, s, key, "user-1", "Comment 3:")

	require.NotNil(t, c2.PreviousID)
	assert.Equal(t, c1.ID, *c2.PreviousID)
	require.NotNil(t, c3.PreviousID)
	assert.Equal(t, c2.ID, *c3.PreviousID)

	err := s.InTx(ctx, key, func(tx storage.Tx) error {
		tail, err := tx.Tail(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, tail)
		assert.Equal(t, c3.ID, tail.ID)

		next, err := tx.Successor(ctx, key, c1.ID)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, c2.ID, next.ID)

		none, err := tx.Successor(ctx, key, c3.ID)
		require.NoError(t, err)
		assert.Nil(t, none)

		empty, err := tx.Tail(ctx, "function:notepad.exe:other")
		require.NoError(t, err)
		assert.Nil(t, empty)
		return nil
	})
	require.NoError(t, err)
}

func testScanChainIsPartitioned(t *testing.T, s storage.Store) {
	Append(t, s, "edge:a:1", "user-1", "a1")
	Append(t, s, "edge:a:1", "user-1", "a2")
	Append(t, s, "edge:b:1", "user-2", "b1")

	assert.Equal(t, []string{"a1", "a2"}, Texts(t, scan(t, s, "edge:a:1")))
	assert.Equal(t, []string{"b1"}, Texts(t, scan(t, s, "edge:b:1")))
	assert.Empty(t, scan(t, s, "edge:c:1"))
}

func testKeysSharingAPrefix(t *testing.T, s storage.Store) {
	ctx := context.Background()
	keys := []string{"k", "kx", "k/x", "k:x"}
	// Backends whose columns cannot hold NUL reject that key up front.
	if _, err := appendWithRetry(ctx, s, "k\x00x", "user-2", "k\x00x"); err == nil {
		keys = append(keys, "k\x00x")
	} else {
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
	for _, key := range keys {
		if key != "k\x00x" {
			Append(t, s, key, "user-1", key)
		}
	}
	Append(t, s, "k", "user-1", "k again")

	assert.Equal(t, []string{"k", "k again"}, Texts(t, scan(t, s, "k")))
	for _, key := range keys[1:] {
		assert.Equal(t, []string{key}, Texts(t, scan(t, s, key)), "key %q", key)
	}

	chains, err := s.ScanChains(ctx, keys)
	require.NoError(t, err)
	for _, key := range keys {
		for _, c := range chains[key] {
			assert.Equal(t, key, c.EntityKey)
		}
	}

	err = s.InTx(ctx, "k", func(tx storage.Tx) error {
		tail, err := tx.Tail(ctx, "k")
		if err != nil {
			return err
		}
		assert.Equal(t, "k again", tail.Text)
		return nil
	})
	require.NoError(t, err)
}

func testMutationScopedToEntity(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := Append(t, s, "edge:m:1", "user-1", "first")
	b := Append(t, s, "edge:m:1", "user-1", "second")

	mutations := map[string]func(tx storage.Tx) error{
		"UpdateText":  func(tx storage.Tx) error { return tx.UpdateText(ctx, b.ID, "hijacked") },
		"SetPrevious": func(tx storage.Tx) error { return tx.SetPrevious(ctx, b.ID, nil) },
		"Delete":      func(tx storage.Tx) error { return tx.Delete(ctx, b.ID) },
	}
	for name, mutate := range mutations {
		err := s.InTx(ctx, "edge:m:2", mutate)
		assert.ErrorIs(t, err, domain.ErrNotFound, name)
	}

	got, err := s.GetComment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Text)
	require.NotNil(t, got.PreviousID)
	assert.Equal(t, a.ID, *got.PreviousID)
}

func testScanChains(t *testing.T, s storage.Store) {
	Append(t, s, "text_node:m:1", "user-1", "one")
	Append(t, s, "text_node:m:2", "user-1", "two")
	Append(t, s, "text_node:m:2", "user-1", "three")

	chains, err := s.ScanChains(context.Background(), []string{"text_node:m:1", "text_node:m:2", "text_node:m:3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, Texts(t, chains["text_node:m:1"]))
	assert.Equal(t, []string{"two", "three"}, Texts(t, chains["text_node:m:2"]))
	assert.Empty(t, chains["text_node:m:3"])
}

func testUpdateText(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := "local_code_node:m:n"
	c1 := Append(t, s, key, "user-1", "first")
	c2 := Append(t, s, key, "user-1", " BEFORE EDIT ")

	err := s.InTx(ctx, key, func(tx storage.Tx) error {
		return tx.UpdateText(ctx, c2.ID, " AFTER EDIT ")
	})
	require.NoError(t, err)

	got, err := s.GetComment(ctx, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, " AFTER EDIT ", got.Text)
	assert.Equal(t, "user-1", got.AuthorID)
	require.NotNil(t, got.PreviousID)
	assert.Equal(t, c1.ID, *got.PreviousID)
}

func testSpliceMiddle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := "group_node:m:g"
	c1 := Append(t, s, key, "user-1", "Comment 1:")
	c2 := Append(t, s, key, "user-1", "Comment 2:")
	c3 := Append(t, s, key, "user-1", "Comment 3:")

	err := s.InTx(ctx, key, func(tx storage.Tx) error {
		if err := tx.Delete(ctx, c2.ID); err != nil {
			return err
		}
		return tx.SetPrevious(ctx, c3.ID, c2.PreviousID)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Comment 1:", "Comment 3:"}, Texts(t, scan(t, s, key)))
	got, err := s.GetComment(ctx, c3.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PreviousID)
	assert.Equal(t, c1.ID, *got.PreviousID)
}

func testSpliceHead(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := "group_node:m:h"
	c1 := Append(t, s, key, "user-1", "Comment 1:")
	c2 := Append(t, s, key, "user-1", "Comment 2:")
	Append(t, s, key, "user-1", "Comment 3:")

	err := s.InTx(ctx, key, func(tx storage.Tx) error {
		if err := tx.Delete(ctx, c1.ID); err != nil {
			return err
		}
		return tx.SetPrevious(ctx, c2.ID, nil)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Comment 2:", "Comment 3:"}, Texts(t, scan(t, s, key)))
	got, err := s.GetComment(ctx, c2.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PreviousID)
}

func testDeleteOnlyComment(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := "section:m:.text"
	c := Append(t, s, key, "user-1", "alone")

	err := s.InTx(ctx, key, func(tx storage.Tx) error {
		return tx.Delete(ctx, c.ID)
	})
	require.NoError(t, err)
	assert.Empty(t, scan(t, s, key))

	again := Append(t, s, key, "user-1", "again")
	assert.Nil(t, again.PreviousID)
	assert.NotEqual(t, c.ID, again.ID)
}

func testRollbackOnError(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := "function:m:rollback"
	c1 := Append(t, s, key, "user-1", "kept")
	boom := errors.New("boom")

	err := s.InTx(ctx, key, func(tx storage.Tx) error {
		if err := tx.Insert(ctx, &domain.Comment{EntityKey: key, AuthorID: "user-1", Text: "lost", PreviousID: domain.StringPtr(c1.ID)}); err != nil {
			return err
		}
		if err := tx.UpdateText(ctx, c1.ID, "changed"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"kept"}, Texts(t, scan(t, s, key)))
}

func testNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := "function:m:missing"
	missing := "00000000-0000-4000-8000-000000000000"

	_, err := s.GetComment(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.InTx(ctx, key, func(tx storage.Tx) error {
		_, err := tx.Get(ctx, missing)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, tx.UpdateText(ctx, missing, "x"), domain.ErrNotFound)
		assert.ErrorIs(t, tx.Delete(ctx, missing), domain.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func testReadYourWrites(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := "type_instance:m:t"
	err := s.InTx(ctx, key, func(tx storage.Tx) error {
		c := &domain.Comment{EntityKey: key, AuthorID: "user-1", Text: "staged"}
		if err := tx.Insert(ctx, c); err != nil {
			return err
		}
		tail, err := tx.Tail(ctx, key)
		if err != nil {
			return err
		}
		require.NotNil(t, tail)
		assert.Equal(t, c.ID, tail.ID)

		got, err := tx.Get(ctx, c.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, "staged", got.Text)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"staged"}, Texts(t, scan(t, s, key)))
}

func testConcurrentAppends(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := "global_instruction:m:n:0x1000"
	const n = 16

	var g errgroup.Group
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("comment %02d", i)
		g.Go(func() error {
			_, err := appendWithRetry(ctx, s, key, "user-1", text)
			return err
		})
	}
	require.NoError(t, g.Wait())

	texts := Texts(t, scan(t, s, key))
	assert.Len(t, texts, n)
}
