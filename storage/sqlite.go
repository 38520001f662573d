package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"taskboard-api/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	doc        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner);
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	project_id TEXT NOT NULL,
	doc        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(owner, project_id);
`

// SQLite stores projects and tasks as JSON documents in an embedded
// database. Batches run inside one SQL transaction.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" gives a
// private in-memory store.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	// one connection: a single writer, and one shared in-memory database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) ListProjects(ctx context.Context, owner string) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM projects WHERE owner = ? ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	projects := []domain.Project{}
	for rows.Next() {
		var p domain.Project
		if err := scanDoc(rows, &p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLite) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	var p domain.Project
	found, err := getDoc(ctx, s.db, `SELECT doc FROM projects WHERE id = ?`, id, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (s *SQLite) InsertProject(ctx context.Context, p domain.Project) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO projects (id, owner, created_at, doc) VALUES (?, ?, ?, ?)`,
		p.ID, p.Owner, p.CreatedAt.UnixNano(), string(doc))
	return err
}

func (s *SQLite) DeleteProject(ctx context.Context, p domain.Project) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ? AND owner = ?`, p.ID, p.Owner)
	return err
}

func (s *SQLite) ListProjectTasks(ctx context.Context, owner, projectID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM tasks WHERE owner = ? AND project_id = ?`, owner, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		var t domain.Task
		if err := scanDoc(rows, &t); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLite) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var t domain.Task
	found, err := getDoc(ctx, s.db, `SELECT doc FROM tasks WHERE id = ?`, id, &t)
	if err != nil || !found {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) InsertTask(ctx context.Context, t domain.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks (id, owner, project_id, doc) VALUES (?, ?, ?, ?)`,
		t.ID, t.Owner, t.ProjectID, string(doc))
	return err
}

// PatchTasks applies every patch inside one transaction; a missing task
// rolls the whole batch back.
func (s *SQLite) PatchTasks(ctx context.Context, patches []domain.TaskPatch) error {
	if len(patches) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range patches {
		var t domain.Task
		found, err := getDoc(ctx, tx, `SELECT doc FROM tasks WHERE id = ? AND owner = ?`, p.ID, &t, p.Owner)
		if err != nil {
			return err
		}
		if !found {
			if len(patches) == 1 {
				return nil
			}
			return fmt.Errorf("task %s not found", p.ID)
		}
		p.Apply(&t)
		doc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET project_id = ?, doc = ? WHERE id = ?`, t.ProjectID, string(doc), t.ID); err != nil {
			return fmt.Errorf("failed to update task %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) DeleteTask(ctx context.Context, t domain.Task) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND owner = ?`, t.ID, t.Owner)
	return err
}

func (s *SQLite) DeleteProjectTasks(ctx context.Context, owner, projectID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE owner = ? AND project_id = ?`, owner, projectID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDoc(ctx context.Context, q queryer, query, id string, dst any, extra ...any) (bool, error) {
	var doc string
	args := append([]any{id}, extra...)
	err := q.QueryRowContext(ctx, query, args...).Scan(&doc)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(doc), dst)
}

func scanDoc(rows *sql.Rows, dst any) error {
	var doc string
	if err := rows.Scan(&doc); err != nil {
		return err
	}
	return json.Unmarshal([]byte(doc), dst)
}
