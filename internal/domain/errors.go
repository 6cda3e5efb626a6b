package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned before any store access when a required value is missing.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound means no live comment with the id exists under the entity key.
	ErrNotFound = errors.New("comment not found")
	// ErrPermissionDenied means the requester is not the comment's author.
	ErrPermissionDenied = errors.New("requester is not the comment author")
	// ErrConflict is a transient store conflict; the operation may be retried.
	ErrConflict = errors.New("transient store conflict")
	// ErrRetriesExhausted wraps the last ErrConflict once the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrIntegrity means the stored chain does not form a simple path.
	ErrIntegrity = errors.New("comment chain integrity violation")
)

// Operation names carried by OpError.
const (
	OpAppend = "append"
	OpEdit   = "edit"
	OpDelete = "delete"
	OpLoad   = "load"
)

// OpError is the typed failure every engine operation returns.
type OpError struct {
	Op        string
	EntityKey string
	CommentID string
	Err       error
}

func (e *OpError) Error() string {
	if e.CommentID != "" {
		return fmt.Sprintf("%s comment %s on %q: %v", e.Op, e.CommentID, e.EntityKey, e.Err)
	}
	return fmt.Sprintf("%s comment on %q: %v", e.Op, e.EntityKey, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IntegrityReason categorizes a broken chain.
type IntegrityReason string

const (
	ReasonMultipleHeads    IntegrityReason = "multiple heads"
	ReasonNoHead           IntegrityReason = "no head"
	ReasonFork             IntegrityReason = "two comments share a predecessor"
	ReasonDangling         IntegrityReason = "predecessor does not exist"
	ReasonForeign          IntegrityReason = "predecessor belongs to another entity"
	ReasonCycle            IntegrityReason = "cycle"
	ReasonMultipleTails    IntegrityReason = "multiple tails"
	ReasonSelfReference    IntegrityReason = "comment is its own predecessor"
	ReasonDuplicateID      IntegrityReason = "duplicate comment id"
	ReasonWrongEntityScope IntegrityReason = "comment scanned under another entity"
)

// IntegrityError describes where a chain stopped being a simple path.
type IntegrityError struct {
	EntityKey string
	CommentID string
	Reason    IntegrityReason
}

func (e *IntegrityError) Error() string {
	if e.CommentID != "" {
		return fmt.Sprintf("%v: %s at comment %s (entity %q)", ErrIntegrity, e.Reason, e.CommentID, e.EntityKey)
	}
	return fmt.Sprintf("%v: %s (entity %q)", ErrIntegrity, e.Reason, e.EntityKey)
}

// Is lets errors.Is(err, ErrIntegrity) match.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// NewIntegrityError creates an IntegrityError.
func NewIntegrityError(entityKey, commentID string, reason IntegrityReason) *IntegrityError {
	return &IntegrityError{EntityKey: entityKey, CommentID: commentID, Reason: reason}
}

// IsSaveFailure reports whether err is a failed append or edit that changed nothing
// because of authorization or exhausted retries.
func IsSaveFailure(err error) bool {
	return isFailure(err, OpAppend, OpEdit)
}

// IsDeleteFailure is IsSaveFailure for delete.
func IsDeleteFailure(err error) bool {
	return isFailure(err, OpDelete)
}

func isFailure(err error, ops ...string) bool {
	var oe *OpError
	if !errors.As(err, &oe) {
		return false
	}
	matched := false
	for _, op := range ops {
		if oe.Op == op {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrRetriesExhausted)
}
