package feedback

import "context"

// Repository persists feedback and module ratings. Every method runs on the
// transaction carried by ctx when there is one; the service composes them
// into atomic units of work.
type Repository interface {
	// List returns every feedback with its module ratings, newest first.
	List(ctx context.Context) ([]*Feedback, error)
	// GetByID returns the feedback with its module ratings, or ErrNotFound.
	GetByID(ctx context.Context, id int64) (*Feedback, error)
	// Lock fetches the parent row FOR UPDATE, or returns ErrNotFound.
	Lock(ctx context.Context, id int64) (*Feedback, error)
	Insert(ctx context.Context, c *CreateFeedback) (*Feedback, error)
	// Update coalesces the supplied parent fields into the stored row.
	Update(ctx context.Context, u *UpdateFeedback) (*Feedback, error)
	Delete(ctx context.Context, id int64) error

	InsertModuleRatings(ctx context.Context, feedbackID int64, ms []NewModuleRating) ([]ModuleRating, error)
	ListModuleRatings(ctx context.Context, feedbackID int64) ([]ModuleRating, error)
	DeleteModuleRatings(ctx context.Context, feedbackID int64) (int64, error)

	Summary(ctx context.Context) (*Summary, error)
}
