package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
	"github.com/google/uuid"
)

// Store implements storage.Store in memory.
type Store struct {
	mu       sync.RWMutex
	comments map[string]*domain.Comment
	byEntity map[string]map[string]struct{} // map[entityKey]set[commentID]

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // one writer per entity key
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		comments: make(map[string]*domain.Comment),
		byEntity: make(map[string]map[string]struct{}),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(entityKey string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[entityKey]
	if !ok {
		l = &sync.Mutex{}
		s.locks[entityKey] = l
	}
	return l
}

// InTx stages every write of fn and applies them under the write lock only if fn succeeds.
func (s *Store) InTx(ctx context.Context, entityKey string, fn func(tx storage.Tx) error) error {
	l := s.lockFor(entityKey)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{
		store:     s,
		entityKey: entityKey,
		staged:    make(map[string]*domain.Comment),
		deleted:   make(map[string]struct{}),
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.deleted {
		if c, ok := s.comments[id]; ok {
			delete(s.byEntity[c.EntityKey], id)
			if len(s.byEntity[c.EntityKey]) == 0 {
				delete(s.byEntity, c.EntityKey)
			}
			delete(s.comments, id)
		}
	}
	for id, c := range t.staged {
		s.comments[id] = c
		if s.byEntity[c.EntityKey] == nil {
			s.byEntity[c.EntityKey] = make(map[string]struct{})
		}
		s.byEntity[c.EntityKey][id] = struct{}{}
	}
}

func (s *Store) GetComment(ctx context.Context, id string) (*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return nil, fmt.Errorf("get comment %s: %w", id, domain.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *Store) ScanChain(ctx context.Context, entityKey string) ([]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanLocked(entityKey), nil
}

func (s *Store) ScanChains(ctx context.Context, entityKeys []string) (map[string][]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string][]*domain.Comment, len(entityKeys))
	for _, key := range entityKeys {
		results[key] = s.scanLocked(key)
	}
	return results, nil
}

func (s *Store) scanLocked(entityKey string) []*domain.Comment {
	ids := s.byEntity[entityKey]
	out := make([]*domain.Comment, 0, len(ids))
	for id := range ids {
		if c, ok := s.comments[id]; ok {
			out = append(out, c.Clone())
		}
	}
	return out
}

func (s *Store) Close() error {
	return nil
}

// tx is an overlay on top of the committed maps.
type tx struct {
	store     *Store
	entityKey string
	staged    map[string]*domain.Comment
	deleted   map[string]struct{}
}

func (t *tx) lookup(id string) (*domain.Comment, bool) {
	if _, gone := t.deleted[id]; gone {
		return nil, false
	}
	if c, ok := t.staged[id]; ok {
		return c, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	c, ok := t.store.comments[id]
	return c, ok
}

// owned returns a staged copy of a comment of this tx's entity, ready to be mutated.
func (t *tx) owned(id string) (*domain.Comment, error) {
	c, ok := t.lookup(id)
	if !ok {
		return nil, fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
	}
	if c.EntityKey != t.entityKey {
		return nil, fmt.Errorf("comment %s outside %q: %w", id, t.entityKey, domain.ErrNotFound)
	}
	if staged, ok := t.staged[id]; ok {
		return staged, nil
	}
	cp := c.Clone()
	t.staged[id] = cp
	return cp, nil
}

func (t *tx) chain(entityKey string) []*domain.Comment {
	seen := make(map[string]struct{})
	var out []*domain.Comment

	t.store.mu.RLock()
	for id := range t.store.byEntity[entityKey] {
		seen[id] = struct{}{}
	}
	t.store.mu.RUnlock()
	for id, c := range t.staged {
		if c.EntityKey == entityKey {
			seen[id] = struct{}{}
		}
	}

	for id := range seen {
		if c, ok := t.lookup(id); ok {
			out = append(out, c)
		}
	}
	return out
}

func (t *tx) Insert(ctx context.Context, comment *domain.Comment) error {
	if comment.EntityKey != t.entityKey {
		return fmt.Errorf("%w: insert into %q inside a transaction on %q", domain.ErrInvalidArgument, comment.EntityKey, t.entityKey)
	}
	comment.ID = uuid.NewString()
	comment.CreatedAt = time.Now().UTC()
	t.staged[comment.ID] = comment.Clone()
	return nil
}

func (t *tx) Get(ctx context.Context, id string) (*domain.Comment, error) {
	c, ok := t.lookup(id)
	if !ok {
		return nil, fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
	}
	return c.Clone(), nil
}

func (t *tx) Tail(ctx context.Context, entityKey string) (*domain.Comment, error) {
	comments := t.chain(entityKey)
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
	return tail.Clone(), nil
}

func (t *tx) Successor(ctx context.Context, entityKey, id string) (*domain.Comment, error) {
	var next *domain.Comment
	for _, c := range t.chain(entityKey) {
		if !c.PreviousIs(id) {
			continue
		}
		if next != nil {
			return nil, domain.NewIntegrityError(entityKey, id, domain.ReasonFork)
		}
		next = c
	}
	return next.Clone(), nil
}

func (t *tx) SetPrevious(ctx context.Context, id string, previousID *string) error {
	c, err := t.owned(id)
	if err != nil {
		return err
	}
	if previousID == nil {
		c.PreviousID = nil
	} else {
		c.PreviousID = domain.StringPtr(*previousID)
	}
	return nil
}

func (t *tx) UpdateText(ctx context.Context, id, text string) error {
	c, err := t.owned(id)
	if err != nil {
		return err
	}
	c.Text = text
	return nil
}

func (t *tx) Delete(ctx context.Context, id string) error {
	if _, err := t.owned(id); err != nil {
		return err
	}
	delete(t.staged, id)
	t.deleted[id] = struct{}{}
	return nil
}
