package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
	"github.com/UkralStul/codenode-comments/internal/storage/inmemory"
)

func comment(id string, prev *string) *domain.Comment {
	return &domain.Comment{
		ID:         id,
		EntityKey:  node,
		AuthorID:   "alice",
		Text:       "text " + id,
		PreviousID: prev,
		CreatedAt:  time.Unix(0, 0).UTC(),
	}
}

func ptr(s string) *string { return &s }

func TestOrder(t *testing.T) {
	tests := []struct {
		name    string
		records []*domain.Comment
		want    []string
		reason  domain.IntegrityReason
	}{
		{
			name: "empty",
			want: []string{},
		},
		{
			name:    "single",
			records: []*domain.Comment{comment("a", nil)},
			want:    []string{"a"},
		},
		{
			name:    "shuffled",
			records: []*domain.Comment{comment("c", ptr("b")), comment("a", nil), comment("d", ptr("c")), comment("b", ptr("a"))},
			want:    []string{"a", "b", "c", "d"},
		},
		{
			name:    "two heads",
			records: []*domain.Comment{comment("a", nil), comment("b", nil)},
			reason:  domain.ReasonMultipleHeads,
		},
		{
			name:    "no head",
			records: []*domain.Comment{comment("a", ptr("b")), comment("b", ptr("a"))},
			reason:  domain.ReasonNoHead,
		},
		{
			name:    "fork",
			records: []*domain.Comment{comment("a", nil), comment("b", ptr("a")), comment("c", ptr("a"))},
			reason:  domain.ReasonFork,
		},
		{
			name:    "dangling",
			records: []*domain.Comment{comment("a", nil), comment("b", ptr("gone"))},
			reason:  domain.ReasonDangling,
		},
		{
			name:    "self reference",
			records: []*domain.Comment{comment("a", nil), comment("b", ptr("b"))},
			reason:  domain.ReasonSelfReference,
		},
		{
			name:    "detached cycle",
			records: []*domain.Comment{comment("a", nil), comment("b", ptr("c")), comment("c", ptr("b"))},
			reason:  domain.ReasonCycle,
		},
		{
			name:    "duplicate id",
			records: []*domain.Comment{comment("a", nil), comment("a", nil)},
			reason:  domain.ReasonDuplicateID,
		},
		{
			name: "wrong entity",
			records: []*domain.Comment{comment("a", nil), func() *domain.Comment {
				c := comment("b", ptr("a"))
				c.EntityKey = "function:other.dll:1"
				return c
			}()},
			reason: domain.ReasonWrongEntityScope,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Order(node, tt.records)
			if tt.reason != "" {
				require.ErrorIs(t, err, domain.ErrIntegrity)
				var ie *domain.IntegrityError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, tt.reason, ie.Reason)
				assert.Equal(t, node, ie.EntityKey)
				return
			}
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

// corrupt rewrites links behind the engine's back.
func corrupt(t *testing.T, s storage.Store, entityKey string, fn func(tx storage.Tx) error) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), entityKey, fn))
}

func TestEngine_DetectsCorruption(t *testing.T) {
	mem := inmemory.New()
	e := New(mem)
	ctx := context.Background()
	a := mustAppend(t, e, node, "a", "alice")
	mustAppend(t, e, node, "b", "alice")
	c := mustAppend(t, e, node, "c", "alice")

	// c now shares a's successor slot with b.
	corrupt(t, mem, node, func(tx storage.Tx) error {
		return tx.SetPrevious(ctx, c, domain.StringPtr(a))
	})

	_, err := e.LoadChain(ctx, node)
	require.ErrorIs(t, err, domain.ErrIntegrity)
	var ie *domain.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, domain.ReasonFork, ie.Reason)
	_, err = e.Verify(ctx, node)
	assert.ErrorIs(t, err, domain.ErrIntegrity)

	_, err = e.LoadByID(ctx, node, a)
	assert.ErrorIs(t, err, domain.ErrIntegrity)

	// Appending needs a single tail.
	_, err = e.Append(ctx, node, "d", "alice")
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestEngine_DetectsForeignPredecessor(t *testing.T) {
	mem := inmemory.New()
	e := New(mem)
	ctx := context.Background()
	other := "function:kernel32.dll:4096"
	foreign := mustAppend(t, e, other, "elsewhere", "alice")
	mustAppend(t, e, node, "a", "alice")
	b := mustAppend(t, e, node, "b", "alice")

	corrupt(t, mem, node, func(tx storage.Tx) error {
		return tx.SetPrevious(ctx, b, domain.StringPtr(foreign))
	})

	_, err := e.Verify(ctx, node)
	require.ErrorIs(t, err, domain.ErrIntegrity)
	var ie *domain.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, domain.ReasonForeign, ie.Reason)

	err = e.Delete(ctx, node, b, "alice")
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, domain.ReasonForeign, ie.Reason)

	// The other chain is untouched.
	assert.Equal(t, []string{"elsewhere"}, texts(t, e, other))
}

func TestEngine_DeleteRefusesDanglingPredecessor(t *testing.T) {
	mem := inmemory.New()
	e := New(mem)
	ctx := context.Background()
	mustAppend(t, e, node, "a", "alice")
	b := mustAppend(t, e, node, "b", "alice")

	corrupt(t, mem, node, func(tx storage.Tx) error {
		return tx.SetPrevious(ctx, b, domain.StringPtr("00000000-0000-4000-8000-000000000000"))
	})

	err := e.Delete(ctx, node, b, "alice")
	var ie *domain.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, domain.ReasonDangling, ie.Reason)
	assert.False(t, domain.IsDeleteFailure(err))
}
