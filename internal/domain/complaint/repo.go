package complaint

import "context"

// Repository persists complaints. Methods run on the transaction carried by
// ctx when there is one.
type Repository interface {
	List(ctx context.Context) ([]*Complaint, error)
	GetByID(ctx context.Context, id int64) (*Complaint, error)
	Create(ctx context.Context, c *CreateComplaint) (*Complaint, error)
	// Update applies u with coalesce semantics and returns ErrNotFound when
	// no row has u.ID.
	Update(ctx context.Context, u *UpdateComplaint) (*Complaint, error)
	// Delete removes the row and returns it, or ErrNotFound.
	Delete(ctx context.Context, id int64) (*Complaint, error)
}
