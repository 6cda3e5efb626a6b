package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpError(t *testing.T) {
	err := &OpError{Op: OpDelete, EntityKey: "function:a.dll:1", CommentID: "c1", Err: ErrNotFound}
	assert.Equal(t, `delete comment c1 on "function:a.dll:1": comment not found`, err.Error())
	assert.ErrorIs(t, err, ErrNotFound)

	noID := &OpError{Op: OpAppend, EntityKey: "function:a.dll:1", Err: ErrInvalidArgument}
	assert.Equal(t, `append comment on "function:a.dll:1": invalid argument`, noID.Error())
}

func TestIntegrityError(t *testing.T) {
	err := fmt.Errorf("load: %w", NewIntegrityError("function:a.dll:1", "c2", ReasonFork))
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.False(t, errors.Is(err, ErrConflict))

	var ie *IntegrityError
	assert.ErrorAs(t, err, &ie)
	assert.Equal(t, ReasonFork, ie.Reason)
	assert.Contains(t, err.Error(), "two comments share a predecessor")
}

func TestFailureHelpers(t *testing.T) {
	denied := func(op string) error {
		return &OpError{Op: op, Err: fmt.Errorf("%w: comment x", ErrPermissionDenied)}
	}
	exhausted := func(op string) error {
		return &OpError{Op: op, Err: fmt.Errorf("%w after 6 attempts: %w", ErrRetriesExhausted, ErrConflict)}
	}

	assert.True(t, IsSaveFailure(denied(OpAppend)))
	assert.True(t, IsSaveFailure(exhausted(OpEdit)))
	assert.False(t, IsSaveFailure(denied(OpDelete)))
	assert.True(t, IsDeleteFailure(exhausted(OpDelete)))
	assert.False(t, IsDeleteFailure(denied(OpEdit)))

	assert.False(t, IsSaveFailure(&OpError{Op: OpEdit, Err: ErrNotFound}))
	assert.False(t, IsSaveFailure(ErrPermissionDenied))
}

func TestComment_Clone(t *testing.T) {
	var nilComment *Comment
	assert.Nil(t, nilComment.Clone())

	c := &Comment{ID: "b", PreviousID: StringPtr("a")}
	cp := c.Clone()
	*cp.PreviousID = "z"
	assert.Equal(t, "a", *c.PreviousID)
	assert.True(t, c.PreviousIs("a"))
	assert.False(t, c.IsHead())
}
