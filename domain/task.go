package domain

import (
	"time"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusToDo       Status = "To Do"
	StatusInProgress Status = "In Progress"
	StatusDone       Status = "Done"
)

func (s Status) valid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func (p Priority) valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Subtask is a checklist item embedded in a task.
type Subtask struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Task is a unit of work inside a project.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	ProjectID   string     `json:"project"`
	Owner       string     `json:"user"`
	Order       int        `json:"order"`
	Subtasks    []Subtask  `json:"subtasks"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TaskPatch carries a partial update for a stored task. Nil fields are left
// untouched by the store. ClearDueDate removes the due date.
type TaskPatch struct {
	ID           string
	Owner        string
	Title        *string
	Description  *string
	Status       *Status
	Priority     *Priority
	DueDate      *time.Time
	ClearDueDate bool
	ProjectID    *string
	Order        *int
	Subtasks     []Subtask
	SetSubtasks  bool
	UpdatedAt    time.Time
}

// Apply merges p into t. Stores use it for read-modify-write backends.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.ProjectID != nil {
		t.ProjectID = *p.ProjectID
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
	if p.SetSubtasks {
		t.Subtasks = append([]Subtask{}, p.Subtasks...)
	}
	if !p.UpdatedAt.IsZero() {
		t.UpdatedAt = p.UpdatedAt
	}
}
