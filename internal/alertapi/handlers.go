package alertapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/herald/internal/alerting"
	"github.com/linnemanlabs/herald/internal/event"
)

type listResponse struct {
	EventID string            `json:"event_id"`
	Alerts  []*alerting.Alert `json:"alerts"`
}

func (a *API) handleScheduleEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := decodeJSON(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("herald.event.id", ev.ID),
		attribute.String("herald.event.type", ev.Type),
	)

	res, err := a.svc.Schedule(r.Context(), &ev)
	if err != nil {
		if errors.Is(err, alerting.ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error(r.Context(), err, "failed to schedule event", "event_id", ev.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(attribute.Int("herald.alerts.created", len(res.Created)))
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) handleListEventAlerts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("herald.event.id", id))

	alerts, err := a.svc.ListByEvent(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts", "event_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if alerts == nil {
		alerts = []*alerting.Alert{}
	}

	writeJSON(w, http.StatusOK, listResponse{EventID: id, Alerts: alerts})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("herald.alert.id", id))

	al, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get alert", "alert_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("herald.alert.status", string(al.Status)))
	writeJSON(w, http.StatusOK, al)
}

// decodeJSON decodes exactly one JSON value from the request body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON body")
	}
	return nil
}
