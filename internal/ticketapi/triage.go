package ticketapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/docket/internal/triage"
)

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("docket.ticket.id", id))

	out, err := a.svc.Triage(r.Context(), id)
	if errors.Is(err, triage.ErrTriageFailed) {
		a.logger.Error(r.Context(), err, "triage run failed", "ticket_id", id)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		a.writeServiceError(w, r, err, "failed to triage ticket")
		return
	}

	span.SetAttributes(
		attribute.String("docket.triage.priority", string(out.Priority)),
		attribute.String("docket.triage.assignee", out.Assignee),
	)
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := a.svc.Results(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list triage results")
		return
	}
	if results == nil {
		results = []triage.TriageResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *API) handleListActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := a.svc.Activity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list activity")
		return
	}
	if entries == nil {
		entries = []triage.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
