package domain

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ProjectService is the Project Registry.
type ProjectService struct {
	st  Store
	pub Publisher
	now func() time.Time
}

func NewProjectService(st Store, pub Publisher) *ProjectService {
	return &ProjectService{st: st, pub: pub, now: time.Now}
}

// List returns the projects owned by user.
func (s *ProjectService) List(ctx context.Context, user string) ([]Project, error) {
	projects, err := s.st.ListProjects(ctx, user)
	if err != nil {
		return nil, storeError("list projects", err)
	}
	owned := make([]Project, 0, len(projects))
	for _, p := range projects {
		if p.Owner == user {
			owned = append(owned, p)
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.Before(owned[j].CreatedAt)
		}
		return owned[i].ID < owned[j].ID
	})
	return owned, nil
}

func (s *ProjectService) Create(ctx context.Context, user string, in ProjectInput) (*Project, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p := Project{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Owner:     user,
		CreatedAt: s.now().UTC(),
	}
	if err := s.st.InsertProject(ctx, p); err != nil {
		return nil, storeError("create project", err)
	}
	publish(ctx, s.pub, user, "project", p.ID, ProjectCreated, p, p.CreatedAt)
	return &p, nil
}

// Delete removes the project and every task that references it. Tasks go
// first so a failure never leaves orphans behind; re-running Delete after a
// failure finishes the job.
func (s *ProjectService) Delete(ctx context.Context, user, id string) (int, error) {
	p, err := s.st.GetProject(ctx, id)
	if err != nil {
		return 0, storeError("load project", err)
	}
	if err := authorizeProject(p, user); err != nil {
		return 0, err
	}
	removed, err := s.st.DeleteProjectTasks(ctx, p.Owner, p.ID)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"project": p.ID, "removed": removed}).Error("project task cascade failed")
		return removed, storeError("delete project tasks", err)
	}
	if err := s.st.DeleteProject(ctx, *p); err != nil {
		log.WithError(err).WithFields(log.Fields{"project": p.ID, "removed": removed}).Error("tasks removed but project delete failed")
		return removed, storeError("delete project", err)
	}
	publish(ctx, s.pub, user, "project", p.ID, ProjectDeleted, ProjectDeletedEventData{TasksDeleted: removed}, s.now())
	return removed, nil
}
