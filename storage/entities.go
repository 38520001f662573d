package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"taskboard-api/domain"
)

const (
	EdmInt32 = "Edm.Int32"
	EdmInt64 = "Edm.Int64"
)

// entityKeys are the table keys. Projects and tasks are partitioned by
// owner so every batch a user issues stays inside one partition.
type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type projectEntity struct {
	entityKeys
	Name          string `json:"Name"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type taskEntity struct {
	entityKeys
	ProjectID     string `json:"ProjectId"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Status        string `json:"Status"`
	Priority      string `json:"Priority"`
	DueDate       string `json:"DueDate"`
	Order         int    `json:"Order"`
	OrderType     string `json:"Order@odata.type"`
	Subtasks      string `json:"Subtasks"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// taskUpdate is a merge payload: omitted properties keep their stored
// value. An empty DueDate means "no due date".
type taskUpdate struct {
	entityKeys
	ProjectID     *string `json:"ProjectId,omitempty"`
	Title         *string `json:"Title,omitempty"`
	Description   *string `json:"Description,omitempty"`
	Status        *string `json:"Status,omitempty"`
	Priority      *string `json:"Priority,omitempty"`
	DueDate       *string `json:"DueDate,omitempty"`
	Order         *int    `json:"Order,omitempty"`
	OrderType     *string `json:"Order@odata.type,omitempty"`
	Subtasks      *string `json:"Subtasks,omitempty"`
	UpdatedAt     int64   `json:"UpdatedAt,string"`
	UpdatedAtType string  `json:"UpdatedAt@odata.type"`
}

func toProjectEntity(p domain.Project) projectEntity {
	return projectEntity{
		entityKeys:    entityKeys{PartitionKey: p.Owner, RowKey: p.ID},
		Name:          p.Name,
		CreatedAt:     p.CreatedAt.UnixNano(),
		CreatedAtType: EdmInt64,
	}
}

func decodeProjectEntity(data []byte) (domain.Project, error) {
	var ent projectEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Project{}, err
	}
	return domain.Project{
		ID:        ent.RowKey,
		Name:      ent.Name,
		Owner:     ent.PartitionKey,
		CreatedAt: time.Unix(0, ent.CreatedAt).UTC(),
	}, nil
}

func toTaskEntity(t domain.Task) (taskEntity, error) {
	subtasks, err := encodeSubtasks(t.Subtasks)
	if err != nil {
		return taskEntity{}, err
	}
	ent := taskEntity{
		entityKeys:    entityKeys{PartitionKey: t.Owner, RowKey: t.ID},
		ProjectID:     t.ProjectID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		Order:         t.Order,
		OrderType:     EdmInt32,
		Subtasks:      subtasks,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: EdmInt64,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: EdmInt64,
	}
	if t.DueDate != nil {
		ent.DueDate = formatDueDate(*t.DueDate)
	}
	return ent, nil
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		ProjectID:   ent.ProjectID,
		Owner:       ent.PartitionKey,
		Order:       ent.Order,
		Subtasks:    []domain.Subtask{},
		CreatedAt:   time.Unix(0, ent.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, ent.UpdatedAt).UTC(),
	}
	if ent.DueDate != "" {
		due, err := time.Parse(time.RFC3339Nano, ent.DueDate)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s: due date: %w", ent.RowKey, err)
		}
		due = due.UTC()
		t.DueDate = &due
	}
	if ent.Subtasks != "" {
		if err := json.Unmarshal([]byte(ent.Subtasks), &t.Subtasks); err != nil {
			return domain.Task{}, err
		}
	}
	return t, nil
}

func toTaskUpdate(p domain.TaskPatch) (taskUpdate, error) {
	upd := taskUpdate{
		entityKeys:    entityKeys{PartitionKey: p.Owner, RowKey: p.ID},
		ProjectID:     p.ProjectID,
		Title:         p.Title,
		Description:   p.Description,
		Order:         p.Order,
		UpdatedAt:     p.UpdatedAt.UnixNano(),
		UpdatedAtType: EdmInt64,
	}
	if p.Status != nil {
		s := string(*p.Status)
		upd.Status = &s
	}
	if p.Priority != nil {
		s := string(*p.Priority)
		upd.Priority = &s
	}
	if p.Order != nil {
		t := EdmInt32
		upd.OrderType = &t
	}
	if p.ClearDueDate || p.DueDate != nil {
		var due string
		if !p.ClearDueDate {
			due = formatDueDate(*p.DueDate)
		}
		upd.DueDate = &due
	}
	if p.SetSubtasks {
		raw, err := encodeSubtasks(p.Subtasks)
		if err != nil {
			return taskUpdate{}, err
		}
		upd.Subtasks = &raw
	}
	return upd, nil
}

// formatDueDate keeps due dates as RFC 3339 text so every year the API
// accepts survives the round trip.
func formatDueDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeSubtasks(subtasks []domain.Subtask) (string, error) {
	if subtasks == nil {
		subtasks = []domain.Subtask{}
	}
	raw, err := json.Marshal(subtasks)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
