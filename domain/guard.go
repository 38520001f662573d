package domain

// authorizeProject decides access to a project. A missing project is
// reported before ownership is considered.
func authorizeProject(p *Project, user string) *Error {
	if p == nil {
		return notFound("project")
	}
	if p.Owner != user {
		return forbidden()
	}
	return nil
}

// authorizeTask decides access to a task using the owner stored on it.
func authorizeTask(t *Task, user string) *Error {
	if t == nil {
		return notFound("task")
	}
	if t.Owner != user {
		return forbidden()
	}
	return nil
}
