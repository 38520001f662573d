package domain

import (
	"strings"
	"time"
)

// Project is a named container of tasks owned by exactly one user.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProjectInput carries the fields accepted when creating a project.
type ProjectInput struct {
	Name string `json:"name"`
}

func (in *ProjectInput) validate() *Error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return validationError("name is required")
	}
	return nil
}
