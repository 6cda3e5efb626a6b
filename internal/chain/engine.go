// Package chain implements the comment chain engine: ordered, author-owned comments
// attached to a code entity and linked through their predecessor.
//
// Every mutation runs inside one storage transaction scoped to the entity key, so
// tail lookup plus insert (append) and locate plus re-link plus remove (delete) are
// atomic. Transient store conflicts are retried with exponential backoff.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/UkralStul/codenode-comments/internal/domain"
	"github.com/UkralStul/codenode-comments/internal/storage"
)

// Options tunes the engine.
type Options struct {
	// MaxRetries is how many times a transient conflict is retried after the first attempt.
	MaxRetries int
	// RetryBaseDelay is the first backoff; it doubles up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// MaxTextLength bounds comment text in bytes. Zero disables the check.
	MaxTextLength int
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     5,
		RetryBaseDelay: 10 * time.Millisecond,
		RetryMaxDelay:  time.Second,
		MaxTextLength:  2000,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithOptions replaces the tuning options.
func WithOptions(o Options) Option {
	return func(e *Engine) { e.opts = o }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithObserver shares an observer between engines.
func WithObserver(o *Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Engine appends, edits, deletes and loads comment chains.
type Engine struct {
	store    storage.Store
	opts     Options
	log      zerolog.Logger
	observer *Observer
}

// New creates an engine on top of store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		opts:     DefaultOptions(),
		log:      zerolog.Nop(),
		observer: NewObserver(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe streams committed changes to the chain of entityKey until ctx is done.
func (e *Engine) Subscribe(ctx context.Context, entityKey string) <-chan Event {
	return e.observer.Subscribe(ctx, entityKey)
}

// Append adds text as the new tail of the chain of entityKey and returns its id.
func (e *Engine) Append(ctx context.Context, entityKey, text, authorID string) (string, error) {
	ctx, span := tracer.Start(ctx, "chain.Append", trace.WithAttributes(
		attribute.String("entity.key", entityKey),
		attribute.String("author.id", authorID),
	))
	defer span.End()
	start := time.Now()

	if err := firstErr(
		required("entity key", entityKey),
		e.checkText(text),
		required("author id", authorID),
	); err != nil {
		return "", e.fail(span, domain.OpAppend, entityKey, "", err, start)
	}

	var created *domain.Comment
	err := e.retry(ctx, domain.OpAppend, entityKey, func() error {
		return e.store.InTx(ctx, entityKey, func(tx storage.Tx) error {
			tail, err := tx.Tail(ctx, entityKey)
			if err != nil {
				return err
			}
			c := &domain.Comment{
				EntityKey: entityKey,
				AuthorID:  authorID,
				Text:      text,
			}
			if tail != nil {
				if tail.EntityKey != entityKey {
					return domain.NewIntegrityError(entityKey, tail.ID, domain.ReasonForeign)
				}
				c.PreviousID = domain.StringPtr(tail.ID)
			}
			if err := tx.Insert(ctx, c); err != nil {
				return err
			}
			created = c
			return nil
		})
	})
	if err != nil {
		return "", e.fail(span, domain.OpAppend, entityKey, "", err, start)
	}

	span.SetAttributes(attribute.String("comment.id", created.ID))
	e.succeed(domain.OpAppend, start)
	e.log.Debug().
		Str("entity_key", entityKey).
		Str("comment_id", created.ID).
		Str("author_id", authorID).
		Msg("comment appended")
	e.observer.publish(Event{Type: EventAppended, EntityKey: entityKey, Comment: created})
	return created.ID, nil
}

// Edit replaces the text of a comment. Only its author may edit it.
func (e *Engine) Edit(ctx context.Context, entityKey, commentID, requesterID, newText string) error {
	ctx, span := tracer.Start(ctx, "chain.Edit", trace.WithAttributes(
		attribute.String("entity.key", entityKey),
		attribute.String("comment.id", commentID),
		attribute.String("requester.id", requesterID),
	))
	defer span.End()
	start := time.Now()

	if err := firstErr(
		required("entity key", entityKey),
		required("comment id", commentID),
		required("requester id", requesterID),
		e.checkText(newText),
	); err != nil {
		return e.fail(span, domain.OpEdit, entityKey, commentID, err, start)
	}

	var edited *domain.Comment
	err := e.retry(ctx, domain.OpEdit, entityKey, func() error {
		return e.store.InTx(ctx, entityKey, func(tx storage.Tx) error {
			c, err := lookup(ctx, tx, entityKey, commentID)
			if err != nil {
				return err
			}
			if err := Authorize(c, requesterID); err != nil {
				return err
			}
			if err := tx.UpdateText(ctx, c.ID, newText); err != nil {
				return err
			}
			c.Text = newText
			edited = c
			return nil
		})
	})
	if err != nil {
		return e.fail(span, domain.OpEdit, entityKey, commentID, err, start)
	}

	e.succeed(domain.OpEdit, start)
	e.log.Debug().
		Str("entity_key", entityKey).
		Str("comment_id", commentID).
		Msg("comment edited")
	e.observer.publish(Event{Type: EventEdited, EntityKey: entityKey, Comment: edited})
	return nil
}

// Delete removes a comment and splices its successor onto its predecessor.
// Only the author may delete a comment.
func (e *Engine) Delete(ctx context.Context, entityKey, commentID, requesterID string) error {
	ctx, span := tracer.Start(ctx, "chain.Delete", trace.WithAttributes(
		attribute.String("entity.key", entityKey),
		attribute.String("comment.id", commentID),
		attribute.String("requester.id", requesterID),
	))
	defer span.End()
	start := time.Now()

	if err := firstErr(
		required("entity key", entityKey),
		required("comment id", commentID),
		required("requester id", requesterID),
	); err != nil {
		return e.fail(span, domain.OpDelete, entityKey, commentID, err, start)
	}

	var (
		deleted *domain.Comment
		next    *domain.Comment
	)
	err := e.retry(ctx, domain.OpDelete, entityKey, func() error {
		return e.store.InTx(ctx, entityKey, func(tx storage.Tx) error {
			c, err := lookup(ctx, tx, entityKey, commentID)
			if err != nil {
				return err
			}
			if err := Authorize(c, requesterID); err != nil {
				return err
			}
			if c.PreviousID != nil {
				if err := checkPredecessor(ctx, tx, entityKey, c); err != nil {
					return err
				}
			}

			successor, err := tx.Successor(ctx, entityKey, c.ID)
			if err != nil {
				return err
			}
			// Remove first: the successor may only take over the predecessor once nobody else holds it.
			if err := tx.Delete(ctx, c.ID); err != nil {
				return err
			}
			if successor != nil {
				if err := tx.SetPrevious(ctx, successor.ID, c.PreviousID); err != nil {
					return err
				}
			}
			deleted, next = c, successor
			return nil
		})
	})
	if err != nil {
		return e.fail(span, domain.OpDelete, entityKey, commentID, err, start)
	}

	e.succeed(domain.OpDelete, start)
	ev := Event{Type: EventDeleted, EntityKey: entityKey, Comment: deleted}
	if next != nil {
		ev.SuccessorID = next.ID
	}
	e.log.Debug().
		Str("entity_key", entityKey).
		Str("comment_id", commentID).
		Str("relinked", ev.SuccessorID).
		Msg("comment deleted")
	e.observer.publish(ev)
	return nil
}

// lookup finds a live comment of entityKey. A comment stored under another key is not found.
func lookup(ctx context.Context, tx storage.Tx, entityKey, commentID string) (*domain.Comment, error) {
	c, err := tx.Get(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if c.EntityKey != entityKey {
		return nil, fmt.Errorf("comment %s under %q: %w", commentID, entityKey, domain.ErrNotFound)
	}
	return c, nil
}

func checkPredecessor(ctx context.Context, tx storage.Tx, entityKey string, c *domain.Comment) error {
	prev, err := tx.Get(ctx, *c.PreviousID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewIntegrityError(entityKey, c.ID, domain.ReasonDangling)
	}
	if err != nil {
		return err
	}
	if prev.EntityKey != entityKey {
		return domain.NewIntegrityError(entityKey, c.ID, domain.ReasonForeign)
	}
	return nil
}

// retry runs fn until it succeeds, fails with a non-transient error, or the budget is spent.
func (e *Engine) retry(ctx context.Context, op, entityKey string, fn func() error) error {
	delay := e.opts.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if attempt > e.opts.MaxRetries {
			return fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, attempt, err)
		}

		retriesTotal.WithLabelValues(op).Inc()
		e.log.Warn().
			Err(err).
			Str("op", op).
			Str("entity_key", entityKey).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("transient conflict, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if e.opts.RetryMaxDelay > 0 && delay > e.opts.RetryMaxDelay {
			delay = e.opts.RetryMaxDelay
		}
	}
}

func (e *Engine) fail(span trace.Span, op, entityKey, commentID string, err error, start time.Time) error {
	result := resultLabel(err)
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	span.RecordError(err)
	span.SetStatus(codes.Error, result)

	opErr := &domain.OpError{Op: op, EntityKey: entityKey, CommentID: commentID, Err: err}
	if errors.Is(err, domain.ErrIntegrity) {
		integrityViolations.Inc()
		e.log.Error().Err(opErr).Msg("comment chain is corrupt")
	} else {
		e.log.Debug().Err(opErr).Str("result", result).Msg("comment operation failed")
	}
	return opErr
}

func (e *Engine) succeed(op string, start time.Time) {
	operationsTotal.WithLabelValues(op, "ok").Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (e *Engine) checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: comment text cannot be empty", domain.ErrInvalidArgument)
	}
	if e.opts.MaxTextLength > 0 && len(text) > e.opts.MaxTextLength {
		return fmt.Errorf("%w: comment text is too long (%d > %d bytes)", domain.ErrInvalidArgument, len(text), e.opts.MaxTextLength)
	}
	return nil
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, name)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
