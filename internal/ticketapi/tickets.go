package ticketapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/docket/internal/triage"
)

func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var in triage.NewTicket
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	t, err := a.svc.CreateTicket(r.Context(), in)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to create ticket")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("docket.ticket.id", t.ID))
	a.logger.Info(r.Context(), "ticket created", "ticket_id", t.ID, "tags", len(t.Tags))

	w.Header().Set("Location", "/api/v1/tickets/"+t.ID)
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("docket.ticket.id", id))

	t, ok, err := a.svc.GetTicket(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to get ticket")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "ticket not found")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleListTickets(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	ts, err := a.svc.ListTickets(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list tickets")
		return
	}

	writeJSON(w, http.StatusOK, ts)
}

func (a *API) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("docket.ticket.id", id))

	var p triage.TicketPatch
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	t, err := a.svc.UpdateTicket(r.Context(), id, p)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to update ticket")
		return
	}

	a.logger.Info(r.Context(), "ticket updated", "ticket_id", id, "status", string(t.Status))
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("docket.ticket.id", id))

	if err := a.svc.DeleteTicket(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err, "failed to delete ticket")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in triage.NewAttachment
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	att, err := a.svc.AddAttachment(r.Context(), id, in)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to add attachment")
		return
	}

	writeJSON(w, http.StatusCreated, att)
}

func (a *API) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in triage.NewComment
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	c, err := a.svc.AddComment(r.Context(), id, in)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to add comment")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}
