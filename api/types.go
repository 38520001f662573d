package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"taskboard-api/domain"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrRequestInFlight is returned by Idempotency.Begin when another request
// holds the same key.
var ErrRequestInFlight = errors.New("request with this idempotency key is in progress")

// StoredResponse is a completed response kept for replay.
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Idempotency tracks Idempotency-Key headers on create requests.
type Idempotency interface {
	// Begin claims the key. It returns the stored response when the key was
	// already completed, or ErrRequestInFlight while it is being processed.
	Begin(ctx context.Context, userID, key string) (*StoredResponse, error)
	// Complete stores the response for later replays.
	Complete(ctx context.Context, userID, key string, resp StoredResponse) error
	// Release forgets a claimed key so the client may retry.
	Release(ctx context.Context, userID, key string) error
}

// Services bundles the domain services served over HTTP.
type Services struct {
	Projects *domain.ProjectService
	Tasks    *domain.TaskService
}

// Options tunes the HTTP surface.
type Options struct {
	// Debug adds the wrapped cause to error responses.
	Debug          bool
	RequestTimeout time.Duration
}
