package chain

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/UkralStul/codenode-comments/internal/domain"
)

// Order arranges the comments of one entity from head to tail by following PreviousID.
// It fails with a *domain.IntegrityError unless the records form exactly one simple path.
func Order(entityKey string, records []*domain.Comment) ([]*domain.Comment, error) {
	if len(records) == 0 {
		return []*domain.Comment{}, nil
	}

	byID := make(map[string]*domain.Comment, len(records))
	for _, c := range records {
		if c.EntityKey != entityKey {
			return nil, domain.NewIntegrityError(entityKey, c.ID, domain.ReasonWrongEntityScope)
		}
		if _, dup := byID[c.ID]; dup {
			return nil, domain.NewIntegrityError(entityKey, c.ID, domain.ReasonDuplicateID)
		}
		byID[c.ID] = c
	}

	var head *domain.Comment
	next := make(map[string]*domain.Comment, len(records))
	for _, c := range records {
		if c.PreviousID == nil {
			if head != nil {
				return nil, domain.NewIntegrityError(entityKey, c.ID, domain.ReasonMultipleHeads)
			}
			head = c
			continue
		}
		prevID := *c.PreviousID
		if prevID == c.ID {
			return nil, domain.NewIntegrityError(entityKey, c.ID, domain.ReasonSelfReference)
		}
		if _, ok := byID[prevID]; !ok {
			return nil, domain.NewIntegrityError(entityKey, c.ID, domain.ReasonDangling)
		}
		if _, taken := next[prevID]; taken {
			return nil, domain.NewIntegrityError(entityKey, prevID, domain.ReasonFork)
		}
		next[prevID] = c
	}
	if head == nil {
		return nil, domain.NewIntegrityError(entityKey, "", domain.ReasonNoHead)
	}

	ordered := make([]*domain.Comment, 0, len(records))
	for c := head; c != nil; c = next[c.ID] {
		ordered = append(ordered, c)
	}
	// Whatever the walk did not reach is a loop that no head leads into.
	if len(ordered) != len(records) {
		reached := make(map[string]struct{}, len(ordered))
		for _, c := range ordered {
			reached[c.ID] = struct{}{}
		}
		for _, c := range records {
			if _, ok := reached[c.ID]; !ok {
				return nil, domain.NewIntegrityError(entityKey, c.ID, domain.ReasonCycle)
			}
		}
	}
	return ordered, nil
}

func contains(comments []*domain.Comment, id string) bool {
	for _, c := range comments {
		if c.ID == id {
			return true
		}
	}
	return false
}

// LoadChain returns the comments of entityKey from head to tail.
func (e *Engine) LoadChain(ctx context.Context, entityKey string) ([]*domain.Comment, error) {
	ctx, span := tracer.Start(ctx, "chain.LoadChain", trace.WithAttributes(
		attribute.String("entity.key", entityKey),
	))
	defer span.End()
	start := time.Now()

	if err := required("entity key", entityKey); err != nil {
		return nil, e.fail(span, domain.OpLoad, entityKey, "", err, start)
	}

	ordered, err := e.load(ctx, entityKey)
	if err != nil {
		return nil, e.fail(span, domain.OpLoad, entityKey, "", err, start)
	}
	span.SetAttributes(attribute.Int("chain.length", len(ordered)))
	e.succeed(domain.OpLoad, start)
	return ordered, nil
}

// LoadByID returns the whole chain containing commentID, or an empty slice if the
// comment no longer exists under entityKey.
func (e *Engine) LoadByID(ctx context.Context, entityKey, commentID string) ([]*domain.Comment, error) {
	ctx, span := tracer.Start(ctx, "chain.LoadByID", trace.WithAttributes(
		attribute.String("entity.key", entityKey),
		attribute.String("comment.id", commentID),
	))
	defer span.End()
	start := time.Now()

	if err := firstErr(required("entity key", entityKey), required("comment id", commentID)); err != nil {
		return nil, e.fail(span, domain.OpLoad, entityKey, commentID, err, start)
	}

	records, err := e.store.ScanChain(ctx, entityKey)
	if err != nil {
		return nil, e.fail(span, domain.OpLoad, entityKey, commentID, err, start)
	}
	if !contains(records, commentID) {
		e.succeed(domain.OpLoad, start)
		return []*domain.Comment{}, nil
	}

	ordered, err := e.order(ctx, entityKey, records)
	if err != nil {
		return nil, e.fail(span, domain.OpLoad, entityKey, commentID, err, start)
	}
	e.succeed(domain.OpLoad, start)
	return ordered, nil
}

// Verify checks that the stored chain of entityKey is a simple path and
// returns its length.
func (e *Engine) Verify(ctx context.Context, entityKey string) (int, error) {
	ordered, err := e.LoadChain(ctx, entityKey)
	return len(ordered), err
}

func (e *Engine) load(ctx context.Context, entityKey string) ([]*domain.Comment, error) {
	records, err := e.store.ScanChain(ctx, entityKey)
	if err != nil {
		return nil, err
	}
	return e.order(ctx, entityKey, records)
}

// order wraps Order and tells a dangling predecessor apart from one stored under another entity.
func (e *Engine) order(ctx context.Context, entityKey string, records []*domain.Comment) ([]*domain.Comment, error) {
	ordered, err := Order(entityKey, records)
	var ie *domain.IntegrityError
	if errors.As(err, &ie) && ie.Reason == domain.ReasonDangling {
		for _, c := range records {
			if c.ID != ie.CommentID || c.PreviousID == nil {
				continue
			}
			if prev, getErr := e.store.GetComment(ctx, *c.PreviousID); getErr == nil && prev.EntityKey != entityKey {
				return nil, domain.NewIntegrityError(entityKey, c.ID, domain.ReasonForeign)
			}
		}
	}
	return ordered, err
}
