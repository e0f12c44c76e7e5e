// Package repository holds issue persistence and the priority board.
package repository

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
)

// IssueStore persists issues. Implementations return copies; callers may
// mutate what they get back.
type IssueStore interface {
	// Create stores a new issue. Returns ErrExists if the id is taken.
	Create(ctx context.Context, issue model.Issue) error
	// Get returns ErrNotFound if the id is unknown.
	Get(ctx context.Context, id string) (model.Issue, error)
	// Update applies fn to the stored issue atomically and returns the result.
	// An error from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, id string, fn func(*model.Issue) error) (model.Issue, error)
	// List returns every issue, oldest first.
	List(ctx context.Context) ([]model.Issue, error)
	// Count returns the number of issues and how many of them are open.
	Count(ctx context.Context) (total, open int, err error)
	Close() error
}

// NewID returns a new lexically sortable issue id.
func NewID() string { return ulid.Make().String() }
