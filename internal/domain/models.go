package domain

import "time"

// Comment is one annotation in the chain of an entity.
// PreviousID points at the comment appended right before this one; nil marks the head.
type Comment struct {
	ID         string    `json:"id" gorm:"type:uuid;primary_key"`
	EntityKey  string    `json:"entityKey" gorm:"type:varchar(512);not null;index"`
	AuthorID   string    `json:"authorId" gorm:"type:varchar(255);not null"`
	Text       string    `json:"text" gorm:"type:text;not null"`
	PreviousID *string   `json:"previousId,omitempty" gorm:"type:uuid"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;default:now()"`
}

// IsHead reports whether the comment has no predecessor.
func (c *Comment) IsHead() bool {
	return c.PreviousID == nil
}

// PreviousIs reports whether c links to the comment with the given id.
func (c *Comment) PreviousIs(id string) bool {
	return c.PreviousID != nil && *c.PreviousID == id
}

// Clone returns a deep copy so callers never share PreviousID pointers with a store.
func (c *Comment) Clone() *Comment {
	if c == nil {
		return nil
	}
	cp := *c
	if c.PreviousID != nil {
		prev := *c.PreviousID
		cp.PreviousID = &prev
	}
	return &cp
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
