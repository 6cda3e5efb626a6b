package chain

import (
	"fmt"

	"github.com/UkralStul/codenode-comments/internal/domain"
)

// Authorize allows a mutation only when the requester wrote the comment.
// The requester identity is trusted as given.
func Authorize(c *domain.Comment, requesterID string) error {
	if c.AuthorID != requesterID {
		return fmt.Errorf("%w: comment %s", domain.ErrPermissionDenied, c.ID)
	}
	return nil
}
