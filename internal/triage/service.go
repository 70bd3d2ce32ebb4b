package triage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"
)

// Notifier is told about finished triage runs.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// Notification describes one successful triage run.
type Notification struct {
	Ticket  Ticket
	Outcome Outcome
}

// NewTicket is the caller-supplied part of a ticket.
type NewTicket struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	ProductArea string   `json:"product_area"`
	Tags        []string `json:"tags"`
}

// NewComment is the caller-supplied part of a comment.
type NewComment struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// TicketPatch is a partial ticket update. Absent fields are left alone.
// Description and Category are accepted as the legacy names for Body and
// ProductArea. Setting AssigneeID to "" unassigns the ticket.
type TicketPatch struct {
	Title       *string       `json:"title"`
	Body        *string       `json:"body"`
	Description *string       `json:"description"`
	ProductArea *string       `json:"product_area"`
	Category    *string       `json:"category"`
	Tags        *[]string     `json:"tags"`
	Status      *TicketStatus `json:"status"`
	Priority    *Level        `json:"priority"`
	AssigneeID  *string       `json:"assignee_user_id"`
	ReplyDraft  *string       `json:"ai_reply_draft"`
}

// NewAttachment is the metadata of an uploaded file. Contents are not stored.
type NewAttachment struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Service is the business boundary for ticket and triage operations.
type Service struct {
	store    Store
	pipeline *Pipeline
	logger   log.Logger
	notifier Notifier
	metrics  *Metrics
	now      func() time.Time
}

// NewService creates a new triage service. notifier and metrics may be nil.
func NewService(store Store, pipeline *Pipeline, logger log.Logger, notifier Notifier, metrics *Metrics) *Service {
	if store == nil {
		panic(xerrors.New("triage store is required"))
	}
	if pipeline == nil {
		panic(xerrors.New("triage pipeline is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		pipeline: pipeline,
		logger:   logger,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// CreateTicket stores a new open ticket.
func (s *Service) CreateTicket(ctx context.Context, in NewTicket) (*Ticket, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	tags := cleanTags(in.Tags)

	now := s.now().UTC()
	t := &Ticket{
		ID:          ulid.Make().String(),
		Title:       title,
		Body:        firstNonEmpty(in.Body, in.Description),
		ProductArea: firstNonEmpty(in.ProductArea, in.Category),
		Tags:        tags,
		Status:      TicketOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTicket(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTicket retrieves a ticket by ID.
func (s *Service) GetTicket(ctx context.Context, id string) (*Ticket, bool, error) {
	return s.store.GetTicket(ctx, id)
}

// ListTickets returns up to limit tickets, newest first. A non-positive
// limit returns them all.
func (s *Service) ListTickets(ctx context.Context, limit int) ([]Ticket, error) {
	ts, err := s.store.ListTickets(ctx, limit)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		ts = []Ticket{}
	}
	return ts, nil
}

// UpdateTicket applies a partial update and records a ticket_updated entry
// naming the changed fields. An empty patch returns the ticket unchanged.
func (s *Service) UpdateTicket(ctx context.Context, id string, p TicketPatch) (*Ticket, error) {
	upd, fields, err := s.buildUpdate(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		t, ok, err := s.store.GetTicket(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrTicketNotFound
		}
		return t, nil
	}

	now := s.now().UTC()
	upd.UpdatedAt = now
	if err := s.store.UpdateTicket(ctx, id, upd); err != nil {
		return nil, err
	}

	entry := &ActivityEntry{
		ID:        ulid.Make().String(),
		TicketID:  id,
		EventType: ActivityUpdated,
		Payload:   map[string]any{"fields": fields},
		Timestamp: now,
	}
	if err := s.store.AppendActivity(ctx, entry); err != nil {
		s.logger.Warn(ctx, "failed to log ticket update", "ticket_id", id, "error", err)
	}

	t, ok, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTicketNotFound
	}
	return t, nil
}

// buildUpdate validates p and returns the store update plus the names of the
// fields it sets, in a fixed order.
func (s *Service) buildUpdate(ctx context.Context, p TicketPatch) (TicketUpdate, []string, error) {
	var (
		upd    TicketUpdate
		fields []string
	)
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return upd, nil, fmt.Errorf("%w: title must not be blank", ErrInvalidInput)
		}
		upd.Title = &title
		fields = append(fields, "title")
	}
	if body := firstSet(p.Body, p.Description); body != nil {
		upd.Body = body
		fields = append(fields, "body")
	}
	if area := firstSet(p.ProductArea, p.Category); area != nil {
		v := strings.TrimSpace(*area)
		upd.ProductArea = &v
		fields = append(fields, "product_area")
	}
	if p.Tags != nil {
		tags := cleanTags(*p.Tags)
		upd.Tags = &tags
		fields = append(fields, "tags")
	}
	if p.Status != nil {
		status := TicketStatus(strings.TrimSpace(string(*p.Status)))
		if status == "" {
			return upd, nil, fmt.Errorf("%w: status must not be blank", ErrInvalidInput)
		}
		upd.Status = &status
		fields = append(fields, "status")
	}
	if p.Priority != nil {
		level := Level(strings.ToUpper(strings.TrimSpace(string(*p.Priority))))
		if !level.Valid() {
			return upd, nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, *p.Priority)
		}
		upd.Priority = &level
		fields = append(fields, "priority")
	}
	if p.AssigneeID != nil {
		id := strings.TrimSpace(*p.AssigneeID)
		name := ""
		if id != "" {
			team, ok, err := s.store.GetTeam(ctx, id)
			if err != nil {
				return upd, nil, err
			}
			if !ok {
				return upd, nil, fmt.Errorf("%w: unknown assignee %q", ErrInvalidInput, id)
			}
			name = team.Name
		}
		upd.AssigneeID = &id
		upd.AssigneeName = &name
		fields = append(fields, "assignee_user_id")
	}
	if p.ReplyDraft != nil {
		upd.ReplyDraft = p.ReplyDraft
		fields = append(fields, "ai_reply_draft")
	}
	return upd, fields, nil
}

// DeleteTicket removes a ticket and everything recorded against it.
func (s *Service) DeleteTicket(ctx context.Context, id string) error {
	if err := s.store.DeleteTicket(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "ticket deleted", "ticket_id", id)
	return nil
}

// AddComment appends a comment to an existing ticket.
func (s *Service) AddComment(ctx context.Context, ticketID string, in NewComment) (*Comment, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if err := s.requireTicket(ctx, ticketID); err != nil {
		return nil, err
	}

	c := &Comment{
		ID:        ulid.Make().String(),
		TicketID:  ticketID,
		Author:    strings.TrimSpace(in.Author),
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AddComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AddAttachment records metadata for a file attached to an existing ticket.
func (s *Service) AddAttachment(ctx context.Context, ticketID string, in NewAttachment) (*Attachment, error) {
	name := strings.TrimSpace(in.Filename)
	if name == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	if in.Size < 0 {
		return nil, fmt.Errorf("%w: size must not be negative", ErrInvalidInput)
	}
	if err := s.requireTicket(ctx, ticketID); err != nil {
		return nil, err
	}

	a := &Attachment{
		ID:          ulid.Make().String(),
		TicketID:    ticketID,
		Filename:    name,
		Size:        in.Size,
		ContentType: strings.TrimSpace(in.ContentType),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.AddAttachment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Results returns the triage history of a ticket, oldest first.
func (s *Service) Results(ctx context.Context, ticketID string) ([]TriageResult, error) {
	if err := s.requireTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.store.ListResults(ctx, ticketID)
}

// Activity returns the activity log of a ticket, oldest first.
func (s *Service) Activity(ctx context.Context, ticketID string) ([]ActivityEntry, error) {
	if err := s.requireTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.store.ListActivity(ctx, ticketID)
}

// Triage runs the pipeline for a stored ticket. When the run reports an
// error a triage_failed entry is logged and the error is returned wrapped in
// ErrTriageFailed; the outcome is returned either way.
func (s *Service) Triage(ctx context.Context, ticketID string) (*Outcome, error) {
	t, ok, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		s.countTrigger("error")
		return nil, err
	}
	if !ok {
		s.countTrigger("not_found")
		return nil, ErrTicketNotFound
	}

	rec := s.pipeline.Run(ctx, *t)
	out := rec.Outcome()

	if rec.Err != nil {
		s.countTrigger("failed")
		LogFailure(ctx, s.store, s.logger, ticketID, rec.Err, s.now(), ulid.Make().String())
		return out, fmt.Errorf("%w: %w", ErrTriageFailed, rec.Err)
	}
	s.countTrigger("ok")

	if s.notifier != nil {
		n := &Notification{Ticket: *t, Outcome: *out}
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn(ctx, "triage notification failed", "ticket_id", ticketID, "error", err)
			s.countNotification("error")
		} else {
			s.countNotification("sent")
		}
	}

	return out, nil
}

// cleanTags trims tags and drops blanks and duplicates, keeping first-seen order.
func cleanTags(in []string) []string {
	tags := make([]string, 0, len(in))
	for _, tag := range in {
		if tag = strings.TrimSpace(tag); tag != "" && !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}

func firstSet(vs ...*string) *string {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

func (s *Service) requireTicket(ctx context.Context, id string) error {
	_, ok, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTicketNotFound
	}
	return nil
}

func (s *Service) countTrigger(result string) {
	if s.metrics != nil {
		s.metrics.TriggersTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) countNotification(result string) {
	if s.metrics != nil {
		s.metrics.NotificationsSent.WithLabelValues(result).Inc()
	}
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrTicketNotFound)
}
