package storage

import (
	"context"

	"github.com/UkralStul/codenode-comments/internal/domain"
)

// Tx is the view of one entity's chain inside an atomic unit of work.
// Every method may return an error wrapping domain.ErrConflict.
type Tx interface {
	// Insert assigns ID and CreatedAt and stores the comment.
	Insert(ctx context.Context, comment *domain.Comment) error
	// Get returns domain.ErrNotFound if the id does not exist.
	Get(ctx context.Context, id string) (*domain.Comment, error)
	// Tail returns the comment nobody points to, or nil for an empty chain.
	Tail(ctx context.Context, entityKey string) (*domain.Comment, error)
	// Successor returns the comment whose PreviousID is id, or nil.
	Successor(ctx context.Context, entityKey, id string) (*domain.Comment, error)
	SetPrevious(ctx context.Context, id string, previousID *string) error
	UpdateText(ctx context.Context, id, text string) error
	Delete(ctx context.Context, id string) error
}

// Store is the contract every chain backend implements.
type Store interface {
	// InTx runs fn as one all-or-nothing unit, serialized against every other
	// InTx on the same entity key. If fn returns an error nothing is written.
	InTx(ctx context.Context, entityKey string, fn func(tx Tx) error) error

	GetComment(ctx context.Context, id string) (*domain.Comment, error)
	// ScanChain returns every live comment of the entity in no particular order.
	ScanChain(ctx context.Context, entityKey string) ([]*domain.Comment, error)

	// ScanChains is ScanChain for many keys in one round trip; used by the dataloader.
	ScanChains(ctx context.Context, entityKeys []string) (map[string][]*domain.Comment, error)

	Close() error
}
