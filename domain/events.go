package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	ProjectCreated = "project-created"
	ProjectDeleted = "project-deleted"
	TaskCreated    = "task-created"
	TaskUpdated    = "task-updated"
	TasksReordered = "tasks-reordered"
	TaskMoved      = "task-moved"
	TaskDeleted    = "task-deleted"
)

// Event describes a committed change. Events are emitted after the store
// write succeeds and are delivered best effort.
type Event struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entityId"`
	EntityType string          `json:"entityType"`
	Type       string          `json:"type"`
	UserID     string          `json:"userId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// Publisher receives committed change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type TaskMovedEventData struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Order int    `json:"order"`
}

type TasksReorderedEventData struct {
	TaskIDs []string `json:"taskIds"`
}

type ProjectDeletedEventData struct {
	TasksDeleted int `json:"tasksDeleted"`
}

func publish(ctx context.Context, pub Publisher, user, entityType, entityID, typ string, data any, at time.Time) {
	if pub == nil {
		return
	}
	ev := Event{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: entityType,
		Type:       typ,
		UserID:     user,
		Timestamp:  at.UnixNano(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.WithError(err).WithField("event", typ).Warn("drop event with unencodable data")
			return
		}
		ev.Data = raw
	}
	pub.Publish(ctx, ev)
}
