// Package ticketapi exposes tickets and the triage trigger over HTTP.
package ticketapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/docket/internal/authmw"
	"github.com/linnemanlabs/docket/internal/triage"
)

// TicketService defines the business operations ticketapi needs.
type TicketService interface {
	CreateTicket(ctx context.Context, in triage.NewTicket) (*triage.Ticket, error)
	GetTicket(ctx context.Context, id string) (*triage.Ticket, bool, error)
	ListTickets(ctx context.Context, limit int) ([]triage.Ticket, error)
	UpdateTicket(ctx context.Context, id string, p triage.TicketPatch) (*triage.Ticket, error)
	DeleteTicket(ctx context.Context, id string) error
	AddComment(ctx context.Context, ticketID string, in triage.NewComment) (*triage.Comment, error)
	AddAttachment(ctx context.Context, ticketID string, in triage.NewAttachment) (*triage.Attachment, error)
	Triage(ctx context.Context, ticketID string) (*triage.Outcome, error)
	Results(ctx context.Context, ticketID string) ([]triage.TriageResult, error)
	Activity(ctx context.Context, ticketID string) ([]triage.ActivityEntry, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TicketService
	token  string
}

// New creates a new API handler. An empty token leaves the routes unauthenticated.
func New(logger log.Logger, svc TicketService, token string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("ticket service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		token:  token,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.BearerToken(a.token))
		r.Use(dbStats)

		r.Get("/tickets", a.handleListTickets)
		r.Post("/tickets", a.handleCreateTicket)
		r.Route("/tickets/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetTicket)
			r.Put("/", a.handleUpdateTicket)
			r.Delete("/", a.handleDeleteTicket)
			r.Post("/comments", a.handleAddComment)
			r.Post("/attachments", a.handleAddAttachment)
			r.Post("/triage", a.handleTriage)
			r.Get("/triage-results", a.handleListResults)
			r.Get("/activity", a.handleListActivity)
		})
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeServiceError maps service errors onto status codes. Input and lookup
// errors are echoed to the caller; anything else is logged and hidden.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, triage.ErrTicketNotFound):
		writeError(w, http.StatusNotFound, "ticket not found")
	case triage.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg, "ticket_id", chi.URLParam(r, "id"))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
