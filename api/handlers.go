package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

const (
	maxBodySize          = 1 << 20
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// Register wires up all API routes on the provided Echo instance. idem may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, svc Services, store Pinger, auth Authenticator, idem Idempotency, opts Options, logger *log.Logger) {
	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = HTTPErrorHandler(opts.Debug)
	e.Use(Telemetry(logger), GzipRequestMiddleware(), RequestTimeout(opts.RequestTimeout))

	e.GET("/healthz", healthz(store))

	g := e.Group("/api", Authenticate(auth))
	once := idempotent(idem, logger)

	g.GET("/projects", listProjects(svc.Projects, opts))
	g.POST("/projects", createProject(svc.Projects, opts), once)
	g.DELETE("/projects/:id", deleteProject(svc.Projects, opts))
	g.GET("/projects/:id/tasks", listTasks(svc.Tasks, opts, "id"))
	g.POST("/projects/:id/tasks", createTask(svc.Tasks, opts, "id"), once)

	g.POST("/tasks", createTask(svc.Tasks, opts, ""), once)
	g.GET("/tasks/project/:projectId", listTasks(svc.Tasks, opts, "projectId"))
	g.PUT("/tasks/reorder/:projectId", reorderTasks(svc.Tasks, opts))
	g.GET("/tasks/:id", getTask(svc.Tasks, opts))
	g.PUT("/tasks/:id", updateTask(svc.Tasks, opts))
	g.PUT("/tasks/:id/move", moveTask(svc.Tasks, opts))
	g.DELETE("/tasks/:id", deleteTask(svc.Tasks, opts))
}

type messageResponse struct {
	Message      string `json:"message"`
	ID           string `json:"id"`
	TasksDeleted *int   `json:"tasksDeleted,omitempty"`
}

type createTaskRequest struct {
	domain.TaskInput
	Project string `json:"project"`
}

type reorderRequest struct {
	TaskIDs []string `json:"taskIds"`
}

type moveRequest struct {
	NewProjectID string `json:"newProjectId"`
}

// decodeBody decodes a JSON body, rejecting unknown fields.
func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func healthz(store Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := store.Ping(c.Request().Context()); err != nil {
			setErrorStage(c, "store")
			c.Logger().Error(err)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}
}

func listProjects(projects *domain.ProjectService, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := projects.List(c.Request().Context(), userID(c))
		if err != nil {
			return respondError(c, err, opts.Debug)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func createProject(projects *domain.ProjectService, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.ProjectInput
		if err := decodeBody(c, &in); err != nil {
			return badRequest(c, "invalid body")
		}
		p, err := projects.Create(c.Request().Context(), userID(c), in)
		if err != nil {
			return respondError(c, err, opts.Debug)
		}
		return c.JSON(http.StatusCreated, p)
	}
}

func deleteProject(projects *domain.ProjectService, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		removed, err := projects.Delete(c.Request().Context(), userID(c), id)
		if err != nil {
			return respondError(c, err, opts.Debug)
		}
		return c.JSON(http.StatusOK, messageResponse{
			Message:      "Project and associated tasks deleted",
			ID:           id,
			TasksDeleted: &removed,
		})
	}
}

// listTasks serves both the nested and the legacy listing routes; param
// names the path parameter holding the project id.
func listTasks(tasks *domain.TaskService, opts Options, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := tasks.ListByProject(c.Request().Context(), userID(c), c.Param(param))
		if err != nil {
			return respondError(c, err, opts.Debug)
		}
		return c.JSON(http.StatusOK, list)
	}
}

// createTask serves both create routes. With an empty param the project id
// comes from the body's "project" field.
func createTask(tasks *domain.TaskService, opts Options, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return badRequest(c, "invalid body")
		}
		projectID := req.Project
		if param != "" {
			projectID = c.Param(param)
			if req.Project != "" && req.Project != projectID {
				return badRequest(c, "project in body does not match the route")
			}
		}
		if projectID == "" {
			return badRequest(c, "project is required")
		}
		t, err := tasks.Create(c.Request().Context(), userID(c), projectID, req.TaskInput)
		if err != nil {
			return respondError(c, err, opts.Debug)
		}
		return c.JSON(http.StatusCreated, t)
	}
}

func getTask(tasks *domain.TaskService, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		t, err := tasks.Get(c.Request().Context(), userID(c), c.Param("id"))
		if err != nil {
			return respondError(c, err, opts.Debug)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func updateTask(tasks *domain.TaskService, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		var changes domain.TaskChanges
		if err := decodeBody(c, &changes); err != nil {
			return badRequest(c, "invalid body")
		}
		t, err := tasks.Update(c.Request().Context(), userID(c), c.Param("id"), changes)
		if err != nil {
			return respondError(c, err, opts.Debug)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func reorderTasks(tasks *domain.TaskService, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return badRequest(c, "invalid body")
		}
		list, err := tasks.Reorder(c.Request().Context(), userID(c), c.Param("projectId"), req.TaskIDs)
		if err != nil {
			return respondError(c, err, opts.Debug)
		}
		return c.JSON(http.StatusOK, list)
	}
}

func moveTask(tasks *domain.TaskService, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveRequest
		if err := decodeBody(c, &req); err != nil {
			return badRequest(c, "invalid body")
		}
		t, err := tasks.Move(c.Request().Context(), userID(c), c.Param("id"), req.NewProjectID)
		if err != nil {
			return respondError(c, err, opts.Debug)
		}
		return c.JSON(http.StatusOK, t)
	}
}

func deleteTask(tasks *domain.TaskService, opts Options) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if err := tasks.Delete(c.Request().Context(), userID(c), id); err != nil {
			return respondError(c, err, opts.Debug)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Task removed", ID: id})
	}
}

// idempotent replays the stored response of a completed request carrying
// the same Idempotency-Key. Only successful responses are stored; failures
// release the key so the client can retry. When the key store itself is
// unavailable the request is processed without deduplication.
func idempotent(idem Idempotency, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(headerIdempotencyKey)
			if idem == nil || key == "" {
				return next(c)
			}
			user := userID(c)
			ctx := c.Request().Context()
			stored, err := idem.Begin(ctx, user, key)
			switch {
			case errors.Is(err, ErrRequestInFlight):
				setErrorStage(c, "idempotency")
				return c.JSON(http.StatusConflict, errorResponse{Kind: "conflict", Message: err.Error()})
			case err != nil:
				logger.WithError(err).WithField("user", user).Warn("idempotency store unavailable; processing without it")
				return next(c)
			case stored != nil:
				c.Response().Header().Set(headerReplayed, "true")
				return c.JSONBlob(stored.Status, stored.Body)
			}

			rec := &bodyRecorder{ResponseWriter: c.Response().Writer}
			c.Response().Writer = rec
			herr := next(c)

			// the request context may already be done; bookkeeping gets its own
			bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			status := c.Response().Status
			if herr == nil && status >= 200 && status < 300 {
				resp := StoredResponse{Status: status, Body: bytes.TrimSpace(rec.buf.Bytes())}
				if err := idem.Complete(bg, user, key, resp); err != nil {
					logger.WithError(err).WithField("user", user).Error("failed to store idempotent response")
				}
				return nil
			}
			if err := idem.Release(bg, user, key); err != nil {
				logger.WithError(err).WithField("user", user).Error("failed to release idempotency key")
			}
			return herr
		}
	}
}

type bodyRecorder struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}
