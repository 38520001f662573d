package domain

import "context"

// Store is the document store consumed by the Registry and the Ledger.
// Lookups of absent entities return (nil, nil).
type Store interface {
	ListProjects(ctx context.Context, owner string) ([]Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	InsertProject(ctx context.Context, p Project) error
	DeleteProject(ctx context.Context, p Project) error

	ListProjectTasks(ctx context.Context, owner, projectID string) ([]Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	InsertTask(ctx context.Context, t Task) error
	// PatchTasks merges every patch in a single atomic write. All patches
	// belong to the same owner.
	PatchTasks(ctx context.Context, patches []TaskPatch) error
	DeleteTask(ctx context.Context, t Task) error
	// DeleteProjectTasks removes every task of the project and reports how
	// many were removed.
	DeleteProjectTasks(ctx context.Context, owner, projectID string) (int, error)
}
