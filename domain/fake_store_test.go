package domain

import (
	"context"
	"errors"
	"sync"
)

type fakeStore struct {
	mu       sync.Mutex
	projects map[string]Project
	tasks    map[string]Task

	patchCalls [][]TaskPatch

	listErr          error
	patchErr         error
	deleteProjectErr error
	cascadeErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{projects: map[string]Project{}, tasks: map[string]Task{}}
}

func (f *fakeStore) ListProjects(ctx context.Context, owner string) ([]Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Project
	for _, p := range f.projects {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (*Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) InsertProject(ctx context.Context, p Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.projects[p.ID]; exists {
		return errors.New("conflict")
	}
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) DeleteProject(ctx context.Context, p Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteProjectErr != nil {
		return f.deleteProjectErr
	}
	delete(f.projects, p.ID)
	return nil
}

func (f *fakeStore) ListProjectTasks(ctx context.Context, owner, projectID string) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Task
	for _, t := range f.tasks {
		if t.Owner == owner && t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.tasks[t.ID]; exists {
		return errors.New("conflict")
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) PatchTasks(ctx context.Context, patches []TaskPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return f.patchErr
	}
	for _, p := range patches {
		if _, ok := f.tasks[p.ID]; !ok {
			return errors.New("missing task " + p.ID)
		}
	}
	for _, p := range patches {
		t := f.tasks[p.ID]
		p.Apply(&t)
		f.tasks[p.ID] = t
	}
	f.patchCalls = append(f.patchCalls, patches)
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, t.ID)
	return nil
}

func (f *fakeStore) DeleteProjectTasks(ctx context.Context, owner, projectID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cascadeErr != nil {
		return 0, f.cascadeErr
	}
	n := 0
	for id, t := range f.tasks {
		if t.ProjectID == projectID {
			delete(f.tasks, id)
			n++
		}
	}
	return n, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Publish(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
