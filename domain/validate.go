package domain

import (
	"strings"
	"time"
)

// TaskInput carries the fields accepted when creating a task. Order is only
// honoured for import flows; otherwise the task is appended.
type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	Subtasks    []Subtask  `json:"subtasks"`
	Order       *int       `json:"order"`
}

func (in *TaskInput) validate() *Error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return validationError("title is required")
	}
	if in.Status == "" {
		in.Status = StatusToDo
	}
	if !in.Status.valid() {
		return validationError("status must be one of %q, %q, %q", StatusToDo, StatusInProgress, StatusDone)
	}
	if in.Priority == "" {
		return validationError("priority is required")
	}
	if !in.Priority.valid() {
		return validationError("priority must be one of %q, %q, %q", PriorityLow, PriorityMedium, PriorityHigh)
	}
	if in.Order != nil && (*in.Order < 0 || *in.Order > MaxOrder) {
		return validationError("order must be between 0 and %d", MaxOrder)
	}
	subtasks, err := cleanSubtasks(in.Subtasks)
	if err != nil {
		return err
	}
	in.Subtasks = subtasks
	return nil
}

// TaskChanges is a partial update. Absent fields keep their stored value;
// an empty dueDate clears it.
type TaskChanges struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *Status    `json:"status"`
	Priority    *Priority  `json:"priority"`
	DueDate     *string    `json:"dueDate"`
	Subtasks    *[]Subtask `json:"subtasks"`
}

func (c TaskChanges) empty() bool {
	return c.Title == nil && c.Description == nil && c.Status == nil &&
		c.Priority == nil && c.DueDate == nil && c.Subtasks == nil
}

// patch validates the change set and converts it to a store patch.
func (c TaskChanges) patch(t *Task, now time.Time) (TaskPatch, *Error) {
	if c.empty() {
		return TaskPatch{}, validationError("no fields to update")
	}
	p := TaskPatch{ID: t.ID, Owner: t.Owner, UpdatedAt: now}
	if c.Title != nil {
		title := strings.TrimSpace(*c.Title)
		if title == "" {
			return TaskPatch{}, validationError("title must not be empty")
		}
		p.Title = &title
	}
	if c.Description != nil {
		desc := *c.Description
		p.Description = &desc
	}
	if c.Status != nil {
		if !c.Status.valid() {
			return TaskPatch{}, validationError("invalid status %q", *c.Status)
		}
		s := *c.Status
		p.Status = &s
	}
	if c.Priority != nil {
		if !c.Priority.valid() {
			return TaskPatch{}, validationError("invalid priority %q", *c.Priority)
		}
		pr := *c.Priority
		p.Priority = &pr
	}
	if c.DueDate != nil {
		raw := strings.TrimSpace(*c.DueDate)
		if raw == "" {
			p.ClearDueDate = true
		} else {
			due, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return TaskPatch{}, validationError("dueDate must be an RFC 3339 timestamp")
			}
			p.DueDate = &due
		}
	}
	if c.Subtasks != nil {
		subtasks, err := cleanSubtasks(*c.Subtasks)
		if err != nil {
			return TaskPatch{}, err
		}
		p.Subtasks = subtasks
		p.SetSubtasks = true
	}
	return p, nil
}

func cleanSubtasks(in []Subtask) ([]Subtask, *Error) {
	out := make([]Subtask, 0, len(in))
	for i, st := range in {
		title := strings.TrimSpace(st.Title)
		if title == "" {
			return nil, validationError("subtask %d: title is required", i)
		}
		out = append(out, Subtask{Title: title, Completed: st.Completed})
	}
	return out, nil
}
