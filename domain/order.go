package domain

import (
	"math"
	"sort"
	"time"
)

// MaxOrder is the largest order key a task may carry. The table store keeps
// order as a 32-bit integer.
const MaxOrder = math.MaxInt32

// sortTasks orders tasks by their order key. Order is a sparse sort key, not
// a unique index, so ties fall back to creation time and then id.
func sortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// nextOrder returns the key that appends a task after every task given.
func nextOrder(tasks []Task) int {
	if len(tasks) == 0 {
		return 0
	}
	max := tasks[0].Order
	for _, t := range tasks[1:] {
		if t.Order > max {
			max = t.Order
		}
	}
	if max >= MaxOrder {
		return MaxOrder
	}
	return max + 1
}

// reorderPatches builds one patch per id setting order to its position.
// Every id must name one of the given tasks, and ids must be distinct.
func reorderPatches(tasks []Task, ids []string, now time.Time) ([]TaskPatch, *Error) {
	if len(ids) == 0 {
		return nil, validationError("taskIds must be a non-empty list")
	}
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	seen := make(map[string]struct{}, len(ids))
	patches := make([]TaskPatch, 0, len(ids))
	for i, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, validationError("task %q does not belong to this project", id)
		}
		if _, dup := seen[id]; dup {
			return nil, validationError("task %q listed more than once", id)
		}
		seen[id] = struct{}{}
		order := i
		patches = append(patches, TaskPatch{ID: t.ID, Owner: t.Owner, Order: &order, UpdatedAt: now})
	}
	return patches, nil
}
