package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskService is the Task Ledger.
type TaskService struct {
	st  Store
	pub Publisher
	now func() time.Time
}

func NewTaskService(st Store, pub Publisher) *TaskService {
	return &TaskService{st: st, pub: pub, now: time.Now}
}

// ownedProject loads a project the user must own. Foreign projects are
// reported as missing.
func (s *TaskService) ownedProject(ctx context.Context, user, id string) (*Project, error) {
	p, err := s.st.GetProject(ctx, id)
	if err != nil {
		return nil, storeError("load project", err)
	}
	if p == nil || p.Owner != user {
		return nil, notFound("project")
	}
	return p, nil
}

// projectTasks returns the tasks of a project that also belong to owner,
// sorted by order.
func (s *TaskService) projectTasks(ctx context.Context, owner, projectID string) ([]Task, error) {
	tasks, err := s.st.ListProjectTasks(ctx, owner, projectID)
	if err != nil {
		return nil, storeError("list tasks", err)
	}
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ProjectID == projectID && t.Owner == owner {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *TaskService) loadTask(ctx context.Context, user, id string) (*Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, storeError("load task", err)
	}
	if err := authorizeTask(t, user); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TaskService) Create(ctx context.Context, user, projectID string, in TaskInput) (*Task, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p, err := s.st.GetProject(ctx, projectID)
	if err != nil {
		return nil, storeError("load project", err)
	}
	if err := authorizeProject(p, user); err != nil {
		return nil, err
	}
	var order int
	if in.Order != nil {
		order = *in.Order
	} else {
		existing, err := s.projectTasks(ctx, p.Owner, p.ID)
		if err != nil {
			return nil, err
		}
		order = nextOrder(existing)
	}
	now := s.now().UTC()
	t := Task{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		ProjectID:   p.ID,
		Owner:       p.Owner,
		Order:       order,
		Subtasks:    in.Subtasks,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Subtasks == nil {
		t.Subtasks = []Subtask{}
	}
	if err := s.st.InsertTask(ctx, t); err != nil {
		return nil, storeError("create task", err)
	}
	publish(ctx, s.pub, user, "task", t.ID, TaskCreated, t, now)
	return &t, nil
}

// ListByProject returns the project's tasks in display order.
func (s *TaskService) ListByProject(ctx context.Context, user, projectID string) ([]Task, error) {
	p, err := s.ownedProject(ctx, user, projectID)
	if err != nil {
		return nil, err
	}
	return s.projectTasks(ctx, user, p.ID)
}

func (s *TaskService) Get(ctx context.Context, user, id string) (*Task, error) {
	return s.loadTask(ctx, user, id)
}

// Update merges the supplied fields into the task.
func (s *TaskService) Update(ctx context.Context, user, id string, changes TaskChanges) (*Task, error) {
	t, err := s.loadTask(ctx, user, id)
	if err != nil {
		return nil, err
	}
	patch, verr := changes.patch(t, s.now().UTC())
	if verr != nil {
		return nil, verr
	}
	if err := s.st.PatchTasks(ctx, []TaskPatch{patch}); err != nil {
		return nil, storeError("update task", err)
	}
	updated, err := s.reload(ctx, t, patch)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.pub, user, "task", t.ID, TaskUpdated, changes, patch.UpdatedAt)
	return updated, nil
}

// Reorder assigns order = position to each listed task in one batch.
func (s *TaskService) Reorder(ctx context.Context, user, projectID string, ids []string) ([]Task, error) {
	if len(ids) == 0 {
		return nil, validationError("taskIds must be a non-empty list")
	}
	p, err := s.st.GetProject(ctx, projectID)
	if err != nil {
		return nil, storeError("load project", err)
	}
	if err := authorizeProject(p, user); err != nil {
		return nil, err
	}
	tasks, err := s.projectTasks(ctx, user, p.ID)
	if err != nil {
		return nil, err
	}
	patches, verr := reorderPatches(tasks, ids, s.now().UTC())
	if verr != nil {
		return nil, verr
	}
	if err := s.st.PatchTasks(ctx, patches); err != nil {
		return nil, storeError("reorder tasks", err)
	}
	out, err := s.projectTasks(ctx, user, p.ID)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.pub, user, "project", p.ID, TasksReordered, TasksReorderedEventData{TaskIDs: ids}, patches[0].UpdatedAt)
	return out, nil
}

// Move reassigns the task to another project owned by the same user and
// appends it there.
func (s *TaskService) Move(ctx context.Context, user, id, newProjectID string) (*Task, error) {
	if newProjectID == "" {
		return nil, validationError("new project ID is required")
	}
	// Both sides of a move resolve to NotFound unless owned by the caller.
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return nil, storeError("load task", err)
	}
	if t == nil || t.Owner != user {
		return nil, notFound("task")
	}
	dest, err := s.ownedProject(ctx, user, newProjectID)
	if err != nil {
		return nil, err
	}
	if t.ProjectID == dest.ID {
		return t, nil
	}
	destTasks, err := s.projectTasks(ctx, user, dest.ID)
	if err != nil {
		return nil, err
	}
	order := nextOrder(destTasks)
	from := t.ProjectID
	patch := TaskPatch{ID: t.ID, Owner: t.Owner, ProjectID: &dest.ID, Order: &order, UpdatedAt: s.now().UTC()}
	if err := s.st.PatchTasks(ctx, []TaskPatch{patch}); err != nil {
		return nil, storeError("move task", err)
	}
	moved, err := s.reload(ctx, t, patch)
	if err != nil {
		return nil, err
	}
	publish(ctx, s.pub, user, "task", t.ID, TaskMoved, TaskMovedEventData{From: from, To: dest.ID, Order: order}, patch.UpdatedAt)
	return moved, nil
}

// Delete removes a single task. Remaining tasks keep their order keys.
func (s *TaskService) Delete(ctx context.Context, user, id string) error {
	t, err := s.loadTask(ctx, user, id)
	if err != nil {
		return err
	}
	if err := s.st.DeleteTask(ctx, *t); err != nil {
		return storeError("delete task", err)
	}
	publish(ctx, s.pub, user, "task", t.ID, TaskDeleted, nil, s.now())
	return nil
}

// reload re-reads a task after a write. A task deleted concurrently is
// reported as missing.
func (s *TaskService) reload(ctx context.Context, prev *Task, patch TaskPatch) (*Task, error) {
	t, err := s.st.GetTask(ctx, prev.ID)
	if err != nil {
		log.WithError(err).WithField("task", prev.ID).Warn("re-read after write failed")
		merged := *prev
		patch.Apply(&merged)
		return &merged, nil
	}
	if t == nil {
		return nil, notFound("task")
	}
	return t, nil
}
