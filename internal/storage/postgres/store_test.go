package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/UkralStul/codenode-comments/internal/chain"
	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
	"github.com/UkralStul/codenode-comments/internal/storage/storagetest"
)

// These tests need a live database; point COMMENTCHAIN_TEST_POSTGRES_DSN at a scratch one.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("COMMENTCHAIN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COMMENTCHAIN_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

func newTestStore(t *testing.T, dsn string, opts ...Option) *Store {
	t.Helper()
	s, err := New(dsn, opts...)
	require.NoError(t, err)
	require.NoError(t, s.db.Exec("DELETE FROM comments").Error)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Suite(t *testing.T) {
	dsn := testDSN(t)
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t, dsn)
	})
}

func TestInTx_WritersQueueOnEntityLock(t *testing.T) {
	s := newTestStore(t, testDSN(t))
	ctx := context.Background()
	const key = "function:kernel32.dll:4096"
	const writers = 16

	// One attempt each: a stale tail would surface as ErrConflict.
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		text := fmt.Sprintf("comment %d", i)
		g.Go(func() error {
			return s.InTx(ctx, key, func(tx storage.Tx) error {
				tail, err := tx.Tail(ctx, key)
				if err != nil {
					return err
				}
				c := &domain.Comment{EntityKey: key, AuthorID: "alice", Text: text}
				if tail != nil {
					c.PreviousID = domain.StringPtr(tail.ID)
				}
				return tx.Insert(ctx, c)
			})
		})
	}
	require.NoError(t, g.Wait())

	records, err := s.ScanChain(ctx, key)
	require.NoError(t, err)
	ordered, err := chain.Order(key, records)
	require.NoError(t, err)
	assert.Len(t, ordered, writers)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped lock timeout", fmt.Errorf("read tail: %w", &pgconn.PgError{Code: "55P03"}), true},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"not found", domain.ErrNotFound, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.transient, errors.Is(got, domain.ErrConflict))
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, classify(nil))
}

func TestParseIsolation(t *testing.T) {
	level, err := ParseIsolation("")
	require.NoError(t, err)
	assert.Equal(t, sql.LevelReadCommitted, level)

	level, err = ParseIsolation("serializable")
	require.NoError(t, err)
	assert.Equal(t, sql.LevelSerializable, level)

	_, err = ParseIsolation("chaos")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
