// Package dataloader batches chain loads for many entity keys into one store scan.
package dataloader

import (
	"context"
	"fmt"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/UkralStul/codenode-comments/internal/chain"
	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
)

type contextKey string

const key = contextKey("dataloaders")

// Loaders holds every loader of one unit of work.
type Loaders struct {
	ChainByEntityKey *dataloader.Loader
}

// NewLoaders builds loaders backed by store. opts are applied after the defaults.
func NewLoaders(store storage.Store, opts ...dataloader.Option) *Loaders {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		entityKeys := keys.Keys()

		// One scan for the whole batch.
		chains, err := store.ScanChains(ctx, entityKeys)
		results := make([]*dataloader.Result, len(keys))
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Results follow the order of keys.
		for i, entityKey := range entityKeys {
			ordered, err := chain.Order(entityKey, chains[entityKey])
			results[i] = &dataloader.Result{Data: ordered, Error: err}
		}
		return results
	}

	opts = append([]dataloader.Option{
		dataloader.WithWait(time.Millisecond),
		dataloader.WithClearCacheOnBatch(),
	}, opts...)
	return &Loaders{
		ChainByEntityKey: dataloader.NewBatchedLoader(batchFn, opts...),
	}
}

// WithLoaders puts fresh loaders for store into ctx.
func WithLoaders(ctx context.Context, store storage.Store) context.Context {
	return context.WithValue(ctx, key, NewLoaders(store))
}

// For extracts the loaders from ctx. It panics if WithLoaders was not called.
func For(ctx context.Context) *Loaders {
	return ctx.Value(key).(*Loaders)
}

// LoadChain returns the ordered chain of one entity key.
func (l *Loaders) LoadChain(ctx context.Context, entityKey string) ([]*domain.Comment, error) {
	v, err := l.ChainByEntityKey.Load(ctx, dataloader.StringKey(entityKey))()
	if err != nil {
		return nil, err
	}
	return asChain(v)
}

// LoadChains returns the ordered chains of many entity keys, indexed like entityKeys.
// The first failing key aborts the whole call.
func (l *Loaders) LoadChains(ctx context.Context, entityKeys []string) ([][]*domain.Comment, error) {
	values, errs := l.ChainByEntityKey.LoadMany(ctx, dataloader.NewKeysFromStrings(entityKeys))()
	out := make([][]*domain.Comment, len(entityKeys))
	for i := range entityKeys {
		if i < len(errs) && errs[i] != nil {
			return nil, fmt.Errorf("load chain %q: %w", entityKeys[i], errs[i])
		}
		c, err := asChain(values[i])
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func asChain(v interface{}) ([]*domain.Comment, error) {
	c, ok := v.([]*domain.Comment)
	if !ok {
		return nil, fmt.Errorf("unexpected loader value %T", v)
	}
	return c, nil
}
