// Package alertapi exposes event ingestion and alert queries over HTTP.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/herald/internal/alerting"
	"github.com/linnemanlabs/herald/internal/authmw"
	"github.com/linnemanlabs/herald/internal/event"
)

// AlertService defines the business operations alertapi needs.
type AlertService interface {
	Schedule(ctx context.Context, ev *event.Event) (*alerting.ScheduleResult, error)
	Get(ctx context.Context, id string) (*alerting.Alert, bool, error)
	ListByEvent(ctx context.Context, eventID string) ([]*alerting.Alert, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    AlertService
	token  string
}

// Option configures an API.
type Option func(*API)

// WithAPIToken requires a bearer token on every /api route.
func WithAPIToken(token string) Option {
	return func(a *API) { a.token = token }
}

// New creates a new API handler.
func New(logger log.Logger, svc AlertService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("alert service is required"))
	}
	a := &API{
		logger: logger,
		svc:    svc,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.BearerToken(a.token))
		r.Post("/events", a.handleScheduleEvent)
		r.Get("/events/{id}/alerts", a.handleListEventAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
