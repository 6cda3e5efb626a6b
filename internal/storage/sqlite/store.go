// Package sqlite stores comment chains in a SQLite database file.
//
// The database is configured with:
//   - WAL mode: concurrent reads during writes
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: previous_id must reference a live comment at commit
//   - a single open connection, so transactions in one process never interleave
//
// Partial unique indexes on previous_id and on the chain head turn a racing
// double-link from another process into a constraint error, which is reported
// as domain.ErrConflict.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - comments table with head/successor uniqueness
const currentSchemaVersion = 1

const commentColumns = "id, entity_key, author_id, text, previous_id, created_at"

// Store provides durable storage for comment chains.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Tests use it to plant corrupt rows.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// InTx runs fn inside one database transaction.
func (s *Store) InTx(ctx context.Context, entityKey string, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&tx{tx: sqlTx, entityKey: entityKey}); err != nil {
		return classify(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) GetComment(ctx context.Context, id string) (*domain.Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)
	c, err := scanComment(row)
	if err != nil {
		return nil, fmt.Errorf("get comment %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) ScanChain(ctx context.Context, entityKey string) ([]*domain.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE entity_key = ?`, entityKey)
	if err != nil {
		return nil, fmt.Errorf("scan chain: %w", err)
	}
	return collect(rows)
}

func (s *Store) ScanChains(ctx context.Context, entityKeys []string) (map[string][]*domain.Comment, error) {
	result := make(map[string][]*domain.Comment, len(entityKeys))
	if len(entityKeys) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityKeys)), ",")
	args := make([]any, len(entityKeys))
	for i, k := range entityKeys {
		args[i] = k
		result[k] = []*domain.Comment{}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE entity_key IN (`+placeholders+`)`, args...) // #nosec G202 - placeholders only
	if err != nil {
		return nil, fmt.Errorf("scan chains: %w", err)
	}
	comments, err := collect(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range comments {
		result[c.EntityKey] = append(result[c.EntityKey], c)
	}
	return result, nil
}

type tx struct {
	tx        *sql.Tx
	entityKey string
}

func (t *tx) Insert(ctx context.Context, comment *domain.Comment) error {
	if comment.EntityKey != t.entityKey {
		return fmt.Errorf("%w: insert into %q inside a transaction on %q", domain.ErrInvalidArgument, comment.EntityKey, t.entityKey)
	}
	comment.ID = uuid.NewString()
	comment.CreatedAt = time.Now().UTC()

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO comments (id, entity_key, author_id, text, previous_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, comment.ID, comment.EntityKey, comment.AuthorID, comment.Text, nullable(comment.PreviousID), comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (t *tx) Get(ctx context.Context, id string) (*domain.Comment, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)
	c, err := scanComment(row)
	if err != nil {
		return nil, fmt.Errorf("get comment %s: %w", id, err)
	}
	return c, nil
}

func (t *tx) Tail(ctx context.Context, entityKey string) (*domain.Comment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments c
		WHERE c.entity_key = ?
		  AND NOT EXISTS (SELECT 1 FROM comments n WHERE n.previous_id = c.id)
		LIMIT 2
	`, entityKey)
	if err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
	}
	tails, err := collect(rows)
	if err != nil {
		return nil, err
	}
	switch len(tails) {
	case 0:
		return nil, nil
	case 1:
		return tails[0], nil
	default:
		return nil, domain.NewIntegrityError(entityKey, tails[1].ID, domain.ReasonMultipleTails)
	}
}

func (t *tx) Successor(ctx context.Context, entityKey, id string) (*domain.Comment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments
		WHERE entity_key = ? AND previous_id = ?
		LIMIT 2
	`, entityKey, id)
	if err != nil {
		return nil, fmt.Errorf("read successor: %w", err)
	}
	next, err := collect(rows)
	if err != nil {
		return nil, err
	}
	switch len(next) {
	case 0:
		return nil, nil
	case 1:
		return next[0], nil
	default:
		return nil, domain.NewIntegrityError(entityKey, id, domain.ReasonFork)
	}
}

func (t *tx) SetPrevious(ctx context.Context, id string, previousID *string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE comments SET previous_id = ? WHERE id = ? AND entity_key = ?`,
		nullable(previousID), id, t.entityKey)
	return affectedOne(res, err, "set previous", id)
}

func (t *tx) UpdateText(ctx context.Context, id, text string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE comments SET text = ? WHERE id = ? AND entity_key = ?`,
		text, id, t.entityKey)
	return affectedOne(res, err, "update text", id)
}

func (t *tx) Delete(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM comments WHERE id = ? AND entity_key = ?`,
		id, t.entityKey)
	return affectedOne(res, err, "delete comment", id)
}

func affectedOne(res sql.Result, err error, op, id string) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (*domain.Comment, error) {
	var (
		c    domain.Comment
		prev sql.NullString
	)
	if err := row.Scan(&c.ID, &c.EntityKey, &c.AuthorID, &c.Text, &prev, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan comment: %w", err)
	}
	if prev.Valid {
		c.PreviousID = domain.StringPtr(prev.String)
	}
	return &c, nil
}

func collect(rows *sql.Rows) ([]*domain.Comment, error) {
	defer rows.Close()

	comments := []*domain.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// classify marks lock contention and racing uniqueness violations as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return err
	}
	switch {
	case sqlErr.Code == sqlite3.ErrBusy,
		sqlErr.Code == sqlite3.ErrLocked,
		sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	return err
}
