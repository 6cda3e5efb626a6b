// Package badger stores comment chains in an embedded BadgerDB.
//
// Key layout:
//
//	c/<id>                     JSON-encoded domain.Comment
//	e/<uvarint len><entityKey><id>  empty; index of an entity's comments
//	v/<entityKey>              uint64 write version of the entity
//
// Every InTx reads and rewrites v/<entityKey>, so two transactions on the same
// entity always overlap and Badger's optimistic concurrency rejects the later
// commit with badger.ErrConflict, reported as domain.ErrConflict.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
)

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *zerolog.Logger
}

// DefaultConfig returns production defaults for the given directory.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts zerolog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store implements storage.Store on BadgerDB.
type Store struct {
	db *badger.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func commentKey(id string) []byte {
	return []byte("c/" + id)
}

// indexPrefix length-prefixes the entity key so no key's prefix covers
// another key's entries.
func indexPrefix(entityKey string) []byte {
	buf := make([]byte, 0, 2+binary.MaxVarintLen64+len(entityKey))
	buf = append(buf, "e/"...)
	buf = binary.AppendUvarint(buf, uint64(len(entityKey)))
	return append(buf, entityKey...)
}

func indexKey(entityKey, id string) []byte {
	return append(indexPrefix(entityKey), id...)
}

func versionKey(entityKey string) []byte {
	return []byte("v/" + entityKey)
}

// InTx runs fn inside one Badger read-write transaction.
func (s *Store) InTx(ctx context.Context, entityKey string, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := bumpVersion(txn, entityKey); err != nil {
			return err
		}
		return fn(&tx{txn: txn, entityKey: entityKey})
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	return err
}

func bumpVersion(txn *badger.Txn, entityKey string) error {
	var version uint64
	item, err := txn.Get(versionKey(entityKey))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return fmt.Errorf("read entity version: %w", err)
	default:
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read entity version: %w", err)
		}
		if len(val) == 8 {
			version = binary.BigEndian.Uint64(val)
		}
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, version+1)
	if err := txn.Set(versionKey(entityKey), buf); err != nil {
		return fmt.Errorf("write entity version: %w", err)
	}
	return nil
}

func (s *Store) GetComment(ctx context.Context, id string) (*domain.Comment, error) {
	var c *domain.Comment
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = getComment(txn, id)
		return err
	})
	return c, err
}

func (s *Store) ScanChain(ctx context.Context, entityKey string) ([]*domain.Comment, error) {
	var comments []*domain.Comment
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		comments, err = scanEntity(txn, entityKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scan chain: %w", err)
	}
	return comments, nil
}

func (s *Store) ScanChains(ctx context.Context, entityKeys []string) (map[string][]*domain.Comment, error) {
	result := make(map[string][]*domain.Comment, len(entityKeys))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range entityKeys {
			comments, err := scanEntity(txn, key)
			if err != nil {
				return err
			}
			result[key] = comments
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan chains: %w", err)
	}
	return result, nil
}

func getComment(txn *badger.Txn, id string) (*domain.Comment, error) {
	item, err := txn.Get(commentKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get comment %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get comment %s: %w", id, err)
	}
	var c domain.Comment
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &c)
	})
	if err != nil {
		return nil, fmt.Errorf("decode comment %s: %w", id, err)
	}
	return &c, nil
}

func putComment(txn *badger.Txn, c *domain.Comment) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode comment %s: %w", c.ID, err)
	}
	return txn.Set(commentKey(c.ID), data)
}

func scanEntity(txn *badger.Txn, entityKey string) ([]*domain.Comment, error) {
	prefix := indexPrefix(entityKey)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	var ids []string
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		ids = append(ids, string(bytes.TrimPrefix(key, prefix)))
	}
	it.Close()

	comments := make([]*domain.Comment, 0, len(ids))
	for _, id := range ids {
		c, err := getComment(txn, id)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, nil
}

type tx struct {
	txn       *badger.Txn
	entityKey string
}

func (t *tx) owned(id string) (*domain.Comment, error) {
	c, err := getComment(t.txn, id)
	if err != nil {
		return nil, err
	}
	if c.EntityKey != t.entityKey {
		return nil, fmt.Errorf("comment %s outside %q: %w", id, t.entityKey, domain.ErrNotFound)
	}
	return c, nil
}

func (t *tx) Insert(ctx context.Context, comment *domain.Comment) error {
	if comment.EntityKey != t.entityKey {
		return fmt.Errorf("%w: insert into %q inside a transaction on %q", domain.ErrInvalidArgument, comment.EntityKey, t.entityKey)
	}
	comment.ID = uuid.NewString()
	comment.CreatedAt = time.Now().UTC()
	if err := putComment(t.txn, comment); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	if err := t.txn.Set(indexKey(comment.EntityKey, comment.ID), nil); err != nil {
		return fmt.Errorf("insert comment index: %w", err)
	}
	return nil
}

func (t *tx) Get(ctx context.Context, id string) (*domain.Comment, error) {
	return getComment(t.txn, id)
}

func (t *tx) Tail(ctx context.Context, entityKey string) (*domain.Comment, error) {
	comments, err := scanEntity(t.txn, entityKey)
	if err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
	}
	if len(comments) == 0 {
		return nil, nil
	}
	referenced := make(map[string]struct{}, len(comments))
	for _, c := range comments {
		if c.PreviousID != nil {
			referenced[*c.PreviousID] = struct{}{}
		}
	}
	var tail *domain.Comment
	for _, c := range comments {
		if _, ok := referenced[c.ID]; ok {
			continue
		}
		if tail != nil {
			return nil, domain.NewIntegrityError(entityKey, c.ID, domain.ReasonMultipleTails)
		}
		tail = c
	}
	if tail == nil {
		return nil, domain.NewIntegrityError(entityKey, "", domain.ReasonCycle)
	}
	return tail, nil
}

func (t *tx) Successor(ctx context.Context, entityKey, id string) (*domain.Comment, error) {
	comments, err := scanEntity(t.txn, entityKey)
	if err != nil {
		return nil, fmt.Errorf("read successor: %w", err)
	}
	var next *domain.Comment
	for _, c := range comments {
		if !c.PreviousIs(id) {
			continue
		}
		if next != nil {
			return nil, domain.NewIntegrityError(entityKey, id, domain.ReasonFork)
		}
		next = c
	}
	return next, nil
}

func (t *tx) SetPrevious(ctx context.Context, id string, previousID *string) error {
	c, err := t.owned(id)
	if err != nil {
		return fmt.Errorf("set previous: %w", err)
	}
	c.PreviousID = nil
	if previousID != nil {
		c.PreviousID = domain.StringPtr(*previousID)
	}
	return putComment(t.txn, c)
}

func (t *tx) UpdateText(ctx context.Context, id, text string) error {
	c, err := t.owned(id)
	if err != nil {
		return fmt.Errorf("update text: %w", err)
	}
	c.Text = text
	return putComment(t.txn, c)
}

func (t *tx) Delete(ctx context.Context, id string) error {
	c, err := t.owned(id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if err := t.txn.Delete(commentKey(id)); err != nil {
		return fmt.Errorf("delete comment %s: %w", id, err)
	}
	if err := t.txn.Delete(indexKey(c.EntityKey, id)); err != nil {
		return fmt.Errorf("delete comment index %s: %w", id, err)
	}
	return nil
}
