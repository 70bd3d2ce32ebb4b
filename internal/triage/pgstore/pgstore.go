// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/docket/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/docket/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists tickets, the team roster and triage history in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ triage.Store = (*Store)(nil)

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

const ticketColumns = `id, title, body, description, category, product_area, tags, status,
	priority, ai_confidence, assignee_user_id, assignee, ai_rationale, ai_reply_draft, created_at, updated_at`

// CreateTicket inserts a new ticket.
func (s *Store) CreateTicket(ctx context.Context, t *triage.Ticket) error {
	ctx, span := startSpan(ctx, "pgstore.CreateTicket", "INSERT")
	defer span.End()

	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tickets (`+ticketColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.Title, t.Body, t.Description, t.Category, t.ProductArea, tags, string(t.Status),
		string(t.Priority), t.Confidence, t.AssigneeID, t.AssigneeName, t.Rationale, t.ReplyDraft,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert ticket %s: %w", t.ID, err))
	}
	return nil
}

// scanTicket reads one row selected with ticketColumns.
func scanTicket(row pgx.Row) (triage.Ticket, error) {
	var (
		t        triage.Ticket
		status   string
		priority string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Body, &t.Description, &t.Category, &t.ProductArea, &t.Tags, &status,
		&priority, &t.Confidence, &t.AssigneeID, &t.AssigneeName, &t.Rationale, &t.ReplyDraft,
		&t.CreatedAt, &t.UpdatedAt,
	)
	t.Status = triage.TicketStatus(status)
	t.Priority = triage.Level(priority)
	return t, err
}

// GetTicket retrieves a ticket by ID.
func (s *Store) GetTicket(ctx context.Context, id string) (*triage.Ticket, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetTicket", "SELECT")
	defer span.End()

	t, err := scanTicket(s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("scan ticket %s: %w", id, err))
	}
	return &t, true, nil
}

// ListTickets returns up to limit tickets, newest first.
func (s *Store) ListTickets(ctx context.Context, limit int) ([]triage.Ticket, error) {
	ctx, span := startSpan(ctx, "pgstore.ListTickets", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC, id DESC LIMIT $1`,
		limitArg(limit),
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query tickets: %w", err))
	}
	defer rows.Close()

	var out []triage.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fail(span, fmt.Errorf("scan ticket: %w", err))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate tickets: %w", err))
	}
	return out, nil
}

// UpdateTicket applies the non-nil fields of upd. A zero UpdatedAt leaves the column alone.
func (s *Store) UpdateTicket(ctx context.Context, id string, upd triage.TicketUpdate) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateTicket", "UPDATE")
	defer span.End()

	var status, priority *string
	if upd.Status != nil {
		v := string(*upd.Status)
		status = &v
	}
	if upd.Priority != nil {
		v := string(*upd.Priority)
		priority = &v
	}
	var updatedAt *time.Time
	if !upd.UpdatedAt.IsZero() {
		updatedAt = &upd.UpdatedAt
	}

	// a nil slice binds as NULL and keeps the stored tags
	var tags []string
	if upd.Tags != nil {
		tags = *upd.Tags
		if tags == nil {
			tags = []string{}
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE tickets SET
			status           = COALESCE($2, status),
			priority         = COALESCE($3, priority),
			ai_confidence    = COALESCE($4, ai_confidence),
			assignee_user_id = COALESCE($5, assignee_user_id),
			assignee         = COALESCE($6, assignee),
			ai_rationale     = COALESCE($7, ai_rationale),
			ai_reply_draft   = COALESCE($8, ai_reply_draft),
			updated_at       = COALESCE($9, updated_at),
			title            = COALESCE($10, title),
			body             = COALESCE($11, body),
			product_area     = COALESCE($12, product_area),
			tags             = COALESCE($13, tags)
		 WHERE id = $1`,
		id, status, priority, upd.Confidence, upd.AssigneeID, upd.AssigneeName,
		upd.Rationale, upd.ReplyDraft, updatedAt,
		upd.Title, upd.Body, upd.ProductArea, tags,
	)
	if err != nil {
		return fail(span, fmt.Errorf("update ticket %s: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return fail(span, fmt.Errorf("update ticket %s: %w", id, triage.ErrTicketNotFound))
	}
	return nil
}

// DeleteTicket removes a ticket. Comments, attachments and results cascade;
// activity_logs has no foreign key, so its rows go in the same statement.
func (s *Store) DeleteTicket(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "pgstore.DeleteTicket", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`WITH activity AS (DELETE FROM activity_logs WHERE ticket_id = $1)
		 DELETE FROM tickets WHERE id = $1`,
		id,
	)
	if err != nil {
		return fail(span, fmt.Errorf("delete ticket %s: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return fail(span, fmt.Errorf("delete ticket %s: %w", id, triage.ErrTicketNotFound))
	}
	return nil
}

// AddComment inserts a comment.
func (s *Store) AddComment(ctx context.Context, c *triage.Comment) error {
	ctx, span := startSpan(ctx, "pgstore.AddComment", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO comments (id, ticket_id, author, text, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.TicketID, c.Author, c.Text, c.CreatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert comment: %w", err))
	}
	return nil
}

// ListComments returns up to limit comments for a ticket, oldest first.
func (s *Store) ListComments(ctx context.Context, ticketID string, limit int) ([]triage.Comment, error) {
	ctx, span := startSpan(ctx, "pgstore.ListComments", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, ticket_id, author, text, created_at FROM comments
		 WHERE ticket_id = $1 ORDER BY created_at, id LIMIT $2`,
		ticketID, limitArg(limit),
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query comments: %w", err))
	}
	defer rows.Close()

	var out []triage.Comment
	for rows.Next() {
		var c triage.Comment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, fail(span, fmt.Errorf("scan comment: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate comments: %w", err))
	}
	return out, nil
}

// AddAttachment records attachment metadata for a ticket.
func (s *Store) AddAttachment(ctx context.Context, a *triage.Attachment) error {
	ctx, span := startSpan(ctx, "pgstore.AddAttachment", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO attachments (id, ticket_id, filename, size, content_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.TicketID, a.Filename, a.Size, a.ContentType, a.CreatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert attachment: %w", err))
	}
	return nil
}

// ListAttachments returns up to limit attachments for a ticket.
func (s *Store) ListAttachments(ctx context.Context, ticketID string, limit int) ([]triage.Attachment, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAttachments", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, ticket_id, filename, size, content_type, created_at FROM attachments
		 WHERE ticket_id = $1 ORDER BY created_at, id LIMIT $2`,
		ticketID, limitArg(limit),
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query attachments: %w", err))
	}
	defer rows.Close()

	var out []triage.Attachment
	for rows.Next() {
		var a triage.Attachment
		if err := rows.Scan(&a.ID, &a.TicketID, &a.Filename, &a.Size, &a.ContentType, &a.CreatedAt); err != nil {
			return nil, fail(span, fmt.Errorf("scan attachment: %w", err))
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate attachments: %w", err))
	}
	return out, nil
}

// limitArg maps a non-positive limit to NULL, which LIMIT treats as no limit.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// ListTeams returns the roster in insertion order.
func (s *Store) ListTeams(ctx context.Context) ([]triage.Team, error) {
	ctx, span := startSpan(ctx, "pgstore.ListTeams", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id, name, skills, workload FROM teams ORDER BY seq`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query teams: %w", err))
	}
	defer rows.Close()

	var out []triage.Team
	for rows.Next() {
		var t triage.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Skills, &t.Workload); err != nil {
			return nil, fail(span, fmt.Errorf("scan team: %w", err))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate teams: %w", err))
	}
	return out, nil
}

// GetTeam retrieves a team by ID.
func (s *Store) GetTeam(ctx context.Context, id string) (*triage.Team, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetTeam", "SELECT")
	defer span.End()

	var t triage.Team
	err := s.pool.QueryRow(ctx, `SELECT id, name, skills, workload FROM teams WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Skills, &t.Workload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("scan team %s: %w", id, err))
	}
	return &t, true, nil
}

// IncrementWorkload bumps a team's workload counter. Unknown IDs are ignored.
func (s *Store) IncrementWorkload(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "pgstore.IncrementWorkload", "UPDATE")
	defer span.End()

	if _, err := s.pool.Exec(ctx, `UPDATE teams SET workload = workload + 1 WHERE id = $1`, id); err != nil {
		return fail(span, fmt.Errorf("increment workload %s: %w", id, err))
	}
	return nil
}

// UpsertTeam inserts a team or replaces its name and skills, keeping the
// workload counter and roster position.
func (s *Store) UpsertTeam(ctx context.Context, t *triage.Team) error {
	ctx, span := startSpan(ctx, "pgstore.UpsertTeam", "UPSERT")
	defer span.End()

	skills := t.Skills
	if skills == nil {
		skills = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO teams (id, name, skills) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
			name   = EXCLUDED.name,
			skills = EXCLUDED.skills`,
		t.ID, t.Name, skills,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert team %s: %w", t.ID, err))
	}
	return nil
}

// AppendResult inserts a triage result.
func (s *Store) AppendResult(ctx context.Context, r *triage.TriageResult) error {
	ctx, span := startSpan(ctx, "pgstore.AppendResult", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO triage_results (id, ticket_id, priority, confidence, priority_rationale,
			assignee_user_id, assignee_rationale, reply_draft, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.TicketID, string(r.Priority), r.Confidence, r.PriorityRationale,
		r.AssigneeID, r.AssigneeRationale, r.ReplyDraft, r.CreatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert triage result: %w", err))
	}
	return nil
}

// ListResults returns a ticket's triage results, oldest first.
func (s *Store) ListResults(ctx context.Context, ticketID string) ([]triage.TriageResult, error) {
	ctx, span := startSpan(ctx, "pgstore.ListResults", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, ticket_id, priority, confidence, priority_rationale,
			assignee_user_id, assignee_rationale, reply_draft, created_at
		 FROM triage_results WHERE ticket_id = $1 ORDER BY created_at, id`,
		ticketID,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query triage results: %w", err))
	}
	defer rows.Close()

	var out []triage.TriageResult
	for rows.Next() {
		var (
			r        triage.TriageResult
			priority string
		)
		if err := rows.Scan(&r.ID, &r.TicketID, &priority, &r.Confidence, &r.PriorityRationale,
			&r.AssigneeID, &r.AssigneeRationale, &r.ReplyDraft, &r.CreatedAt); err != nil {
			return nil, fail(span, fmt.Errorf("scan triage result: %w", err))
		}
		r.Priority = triage.Level(priority)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate triage results: %w", err))
	}
	return out, nil
}

// AppendActivity inserts an activity log entry.
func (s *Store) AppendActivity(ctx context.Context, e *triage.ActivityEntry) error {
	ctx, span := startSpan(ctx, "pgstore.AppendActivity", "INSERT")
	defer span.End()

	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fail(span, fmt.Errorf("marshal payload: %w", err))
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO activity_logs (id, ticket_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.TicketID, string(e.EventType), payloadJSON, e.Timestamp,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert activity %s: %w", e.EventType, err))
	}
	return nil
}

// ListActivity returns a ticket's activity log, oldest first.
func (s *Store) ListActivity(ctx context.Context, ticketID string) ([]triage.ActivityEntry, error) {
	ctx, span := startSpan(ctx, "pgstore.ListActivity", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, ticket_id, event_type, payload, created_at FROM activity_logs
		 WHERE ticket_id = $1 ORDER BY created_at, id`,
		ticketID,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query activity: %w", err))
	}
	defer rows.Close()

	var out []triage.ActivityEntry
	for rows.Next() {
		var (
			e           triage.ActivityEntry
			eventType   string
			payloadJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.TicketID, &eventType, &payloadJSON, &e.Timestamp); err != nil {
			return nil, fail(span, fmt.Errorf("scan activity: %w", err))
		}
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return nil, fail(span, fmt.Errorf("unmarshal payload %s: %w", e.ID, err))
		}
		e.EventType = triage.ActivityType(eventType)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate activity: %w", err))
	}
	return out, nil
}
