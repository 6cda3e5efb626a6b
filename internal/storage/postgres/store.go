package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLSTATE codes that mean "try again".
var transientCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"23505": {}, // unique_violation: a concurrent append linked to the same tail
	"55P03": {}, // lock_not_available
}

// Store implements storage.Store on PostgreSQL through GORM.
type Store struct {
	db        *gorm.DB
	isolation sql.IsolationLevel
}

var _ storage.Store = (*Store)(nil)

// Option configures the store.
type Option func(*options)

type options struct {
	isolation sql.IsolationLevel
	logger    logger.Interface
}

// WithIsolation sets the isolation level of every InTx transaction.
// Above read committed the snapshot predates the entity lock, so concurrent
// writers of one chain fail with retryable conflicts instead of queueing.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(o *options) { o.isolation = level }
}

// WithLogger replaces GORM's default logger.
func WithLogger(l logger.Interface) Option {
	return func(o *options) { o.logger = l }
}

// ParseIsolation maps a config value onto sql.IsolationLevel.
func ParseIsolation(name string) (sql.IsolationLevel, error) {
	switch name {
	case "", "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return 0, fmt.Errorf("%w: unknown isolation level %q", domain.ErrInvalidArgument, name)
	}
}

// New connects to PostgreSQL and migrates the comments table.
func New(dsn string, opts ...Option) (*Store, error) {
	o := options{
		isolation: sql.LevelReadCommitted,
		logger:    logger.Default.LogMode(logger.Warn),
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: o.logger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, isolation: o.isolation}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.Comment{}); err != nil {
		return err
	}
	// GORM cannot express partial unique indexes through AutoMigrate tags portably.
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_comments_previous_id ON comments (previous_id) WHERE previous_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_comments_head ON comments (entity_key) WHERE previous_id IS NULL`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InTx takes a transaction-scoped advisory lock on the entity key before running fn.
// At read committed every statement after the lock sees the previous writer's
// commit, so writers of one chain queue up on the lock.
func (s *Store) InTx(ctx context.Context, entityKey string, fn func(tx storage.Tx) error) error {
	if hasNUL(entityKey) {
		return fmt.Errorf("%w: NUL byte in entity key %q", domain.ErrInvalidArgument, entityKey)
	}
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		if err := gtx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", entityKey).Error; err != nil {
			return fmt.Errorf("lock entity: %w", err)
		}
		return fn(&tx{db: gtx, entityKey: entityKey})
	}, &sql.TxOptions{Isolation: s.isolation})
	return classify(err)
}

func (s *Store) GetComment(ctx context.Context, id string) (*domain.Comment, error) {
	return getComment(s.db.WithContext(ctx), id)
}

func (s *Store) ScanChain(ctx context.Context, entityKey string) ([]*domain.Comment, error) {
	comments := []*domain.Comment{}
	if hasNUL(entityKey) {
		return comments, nil
	}
	if err := s.db.WithContext(ctx).Where("entity_key = ?", entityKey).Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("scan chain: %w", err)
	}
	return comments, nil
}

func (s *Store) ScanChains(ctx context.Context, entityKeys []string) (map[string][]*domain.Comment, error) {
	result := make(map[string][]*domain.Comment, len(entityKeys))
	if len(entityKeys) == 0 {
		return result, nil
	}
	queried := make([]string, 0, len(entityKeys))
	for _, k := range entityKeys {
		result[k] = []*domain.Comment{}
		if !hasNUL(k) {
			queried = append(queried, k)
		}
	}
	if len(queried) == 0 {
		return result, nil
	}

	var comments []*domain.Comment
	// One query for every requested chain.
	if err := s.db.WithContext(ctx).Where("entity_key IN ?", queried).Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("scan chains: %w", err)
	}
	for _, c := range comments {
		result[c.EntityKey] = append(result[c.EntityKey], c)
	}
	return result, nil
}

// hasNUL reports whether s cannot be stored in a text column.
func hasNUL(s string) bool {
	return strings.IndexByte(s, 0) >= 0
}

func getComment(db *gorm.DB, id string) (*domain.Comment, error) {
	// A malformed id would abort the surrounding transaction with 22P02.
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("get comment %s: %w", id, domain.ErrNotFound)
	}
	var comment domain.Comment
	if err := db.First(&comment, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get comment %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get comment %s: %w", id, err)
	}
	return &comment, nil
}

type tx struct {
	db        *gorm.DB
	entityKey string
}

func (t *tx) Insert(ctx context.Context, comment *domain.Comment) error {
	if comment.EntityKey != t.entityKey {
		return fmt.Errorf("%w: insert into %q inside a transaction on %q", domain.ErrInvalidArgument, comment.EntityKey, t.entityKey)
	}
	if hasNUL(comment.Text) {
		return fmt.Errorf("%w: NUL byte in comment text", domain.ErrInvalidArgument)
	}
	comment.ID = uuid.NewString()
	comment.CreatedAt = time.Now().UTC()
	if err := t.db.WithContext(ctx).Create(comment).Error; err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (t *tx) Get(ctx context.Context, id string) (*domain.Comment, error) {
	return getComment(t.db.WithContext(ctx), id)
}

func (t *tx) Tail(ctx context.Context, entityKey string) (*domain.Comment, error) {
	var tails []*domain.Comment
	err := t.db.WithContext(ctx).
		Where("entity_key = ? AND NOT EXISTS (SELECT 1 FROM comments n WHERE n.previous_id = comments.id)", entityKey).
		Limit(2).
		Find(&tails).Error
	if err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
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
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	var next []*domain.Comment
	err := t.db.WithContext(ctx).
		Where("entity_key = ? AND previous_id = ?", entityKey, id).
		Limit(2).
		Find(&next).Error
	if err != nil {
		return nil, fmt.Errorf("read successor: %w", err)
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
	var value any = gorm.Expr("NULL")
	if previousID != nil {
		value = *previousID
	}
	return t.updateColumn(ctx, "set previous", id, "previous_id", value)
}

func (t *tx) UpdateText(ctx context.Context, id, text string) error {
	return t.updateColumn(ctx, "update text", id, "text", text)
}

func (t *tx) updateColumn(ctx context.Context, op, id, column string, value any) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}
	res := t.db.WithContext(ctx).
		Model(&domain.Comment{}).
		Where("id = ? AND entity_key = ?", id, t.entityKey).
		Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("%s %s: %w", op, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("delete comment %s: %w", id, domain.ErrNotFound)
	}
	res := t.db.WithContext(ctx).Delete(&domain.Comment{}, "id = ? AND entity_key = ?", id, t.entityKey)
	if res.Error != nil {
		return fmt.Errorf("delete comment %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete comment %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// classify marks serialization failures, deadlocks and racing unique violations as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := transientCodes[pgErr.Code]; ok {
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		}
	}
	return err
}
