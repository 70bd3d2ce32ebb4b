package triage

import "context"

// TicketStore owns ticket documents. ListTickets returns at most limit
// tickets, newest first. UpdateTicket and DeleteTicket wrap
// ErrTicketNotFound for unknown IDs.
type TicketStore interface {
	CreateTicket(ctx context.Context, t *Ticket) error
	GetTicket(ctx context.Context, id string) (*Ticket, bool, error)
	ListTickets(ctx context.Context, limit int) ([]Ticket, error)
	UpdateTicket(ctx context.Context, id string, upd TicketUpdate) error
	DeleteTicket(ctx context.Context, id string) error
}

// CommentStore lists and adds ticket comments. ListComments returns at most
// limit comments, oldest first.
type CommentStore interface {
	AddComment(ctx context.Context, c *Comment) error
	ListComments(ctx context.Context, ticketID string, limit int) ([]Comment, error)
}

// AttachmentStore records and lists attachment metadata for a ticket.
type AttachmentStore interface {
	AddAttachment(ctx context.Context, a *Attachment) error
	ListAttachments(ctx context.Context, ticketID string, limit int) ([]Attachment, error)
}

// Roster is the team directory. The pipeline only reads it and bumps
// workload counters; UpsertTeam exists for seeding.
type Roster interface {
	ListTeams(ctx context.Context) ([]Team, error)
	GetTeam(ctx context.Context, id string) (*Team, bool, error)
	IncrementWorkload(ctx context.Context, id string) error
	UpsertTeam(ctx context.Context, t *Team) error
}

// ResultStore holds append-only triage results.
type ResultStore interface {
	AppendResult(ctx context.Context, r *TriageResult) error
	ListResults(ctx context.Context, ticketID string) ([]TriageResult, error)
}

// ActivityLog holds append-only activity entries.
type ActivityLog interface {
	AppendActivity(ctx context.Context, e *ActivityEntry) error
	ListActivity(ctx context.Context, ticketID string) ([]ActivityEntry, error)
}

// Store is the persistence interface for everything triage touches.
type Store interface {
	TicketStore
	CommentStore
	AttachmentStore
	Roster
	ResultStore
	ActivityLog
}
