package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskboard-api/domain"
)

// maxTransactionOps is the Table service limit for one entity group
// transaction.
const maxTransactionOps = 100

// Tables is the Azure Table storage backend.
type Tables struct {
	projects *aztables.Client
	tasks    *aztables.Client
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, projectsTable, tasksTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{projects: svc.NewClient(projectsTable), tasks: svc.NewClient(tasksTable)}, nil
}

// Ping checks that the projects table answers a query.
func (s *Tables) Ping(ctx context.Context) error {
	pager := s.projects.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: to.Ptr(int32(1)), Select: to.Ptr("RowKey")})
	_, err := pager.NextPage(ctx)
	return err
}

func (s *Tables) ListProjects(ctx context.Context, owner string) ([]domain.Project, error) {
	projects := []domain.Project{}
	err := eachEntity(ctx, s.projects, "PartitionKey eq "+quote(owner), func(data []byte) error {
		p, err := decodeProjectEntity(data)
		if err != nil {
			return err
		}
		projects = append(projects, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject looks a project up by id across owners so callers can tell a
// missing project from a foreign one.
func (s *Tables) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	var found *domain.Project
	err := eachEntity(ctx, s.projects, "RowKey eq "+quote(id), func(data []byte) error {
		p, err := decodeProjectEntity(data)
		if err != nil {
			return err
		}
		found = &p
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return found, nil
}

func (s *Tables) InsertProject(ctx context.Context, p domain.Project) error {
	payload, err := json.Marshal(toProjectEntity(p))
	if err != nil {
		return err
	}
	_, err = s.projects.AddEntity(ctx, payload, nil)
	return err
}

func (s *Tables) DeleteProject(ctx context.Context, p domain.Project) error {
	_, err := s.projects.DeleteEntity(ctx, p.Owner, p.ID, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (s *Tables) ListProjectTasks(ctx context.Context, owner, projectID string) ([]domain.Task, error) {
	tasks := []domain.Task{}
	filter := "PartitionKey eq " + quote(owner) + " and ProjectId eq " + quote(projectID)
	err := eachEntity(ctx, s.tasks, filter, func(data []byte) error {
		t, err := decodeTaskEntity(data)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Tables) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var found *domain.Task
	err := eachEntity(ctx, s.tasks, "RowKey eq "+quote(id), func(data []byte) error {
		t, err := decodeTaskEntity(data)
		if err != nil {
			return err
		}
		found = &t
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return found, nil
}

func (s *Tables) InsertTask(ctx context.Context, t domain.Task) error {
	ent, err := toTaskEntity(t)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.tasks.AddEntity(ctx, payload, nil)
	return err
}

// PatchTasks merges the patches in one entity group transaction. Every task
// of an owner shares a partition, which is what makes the batch atomic.
func (s *Tables) PatchTasks(ctx context.Context, patches []domain.TaskPatch) error {
	if len(patches) == 0 {
		return nil
	}
	if len(patches) > maxTransactionOps {
		return domain.ErrBatchTooLarge
	}
	etag := azcore.ETagAny
	if len(patches) == 1 {
		payload, err := marshalTaskUpdate(patches[0])
		if err != nil {
			return err
		}
		_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
		if isNotFound(err) {
			// deleted concurrently; the caller's re-read reports it
			return nil
		}
		return err
	}
	owner := patches[0].Owner
	actions := make([]aztables.TransactionAction, 0, len(patches))
	for _, p := range patches {
		if p.Owner != owner {
			return fmt.Errorf("task batch spans owners %q and %q", owner, p.Owner)
		}
		payload, err := marshalTaskUpdate(p)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    &etag,
		})
	}
	_, err := s.tasks.SubmitTransaction(ctx, actions, nil)
	return err
}

func (s *Tables) DeleteTask(ctx context.Context, t domain.Task) error {
	_, err := s.tasks.DeleteEntity(ctx, t.Owner, t.ID, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// DeleteProjectTasks removes the project's tasks in transactions of at most
// maxTransactionOps entities. On failure the count covers the batches that
// were committed.
func (s *Tables) DeleteProjectTasks(ctx context.Context, owner, projectID string) (int, error) {
	var keys []entityKeys
	filter := "PartitionKey eq " + quote(owner) + " and ProjectId eq " + quote(projectID)
	err := eachEntity(ctx, s.tasks, filter, func(data []byte) error {
		var k entityKeys
		if err := json.Unmarshal(data, &k); err != nil {
			return err
		}
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	etag := azcore.ETagAny
	for start := 0; start < len(keys); start += maxTransactionOps {
		end := min(start+maxTransactionOps, len(keys))
		actions := make([]aztables.TransactionAction, 0, end-start)
		for _, k := range keys[start:end] {
			payload, err := json.Marshal(k)
			if err != nil {
				return removed, err
			}
			actions = append(actions, aztables.TransactionAction{
				ActionType: aztables.TransactionTypeDelete,
				Entity:     payload,
				IfMatch:    &etag,
			})
		}
		if _, err := s.tasks.SubmitTransaction(ctx, actions, nil); err != nil {
			return removed, err
		}
		removed += end - start
	}
	return removed, nil
}

var errStop = errors.New("stop iteration")

func eachEntity(ctx context.Context, client *aztables.Client, filter string, fn func([]byte) error) error {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func marshalTaskUpdate(p domain.TaskPatch) ([]byte, error) {
	upd, err := toTaskUpdate(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(upd)
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
