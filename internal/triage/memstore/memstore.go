// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/linnemanlabs/docket/internal/triage"
)

// Store holds tickets, teams and triage history in memory. Suitable for dev/testing.
type Store struct {
	mu          sync.RWMutex
	tickets     map[string]*triage.Ticket
	comments    map[string][]triage.Comment    // ticket ID -> comments, insertion order
	attachments map[string][]triage.Attachment // ticket ID -> attachments
	teams       []triage.Team                  // roster order
	results     map[string][]triage.TriageResult
	activity    map[string][]triage.ActivityEntry
}

var _ triage.Store = (*Store)(nil)

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		tickets:     make(map[string]*triage.Ticket),
		comments:    make(map[string][]triage.Comment),
		attachments: make(map[string][]triage.Attachment),
		results:     make(map[string][]triage.TriageResult),
		activity:    make(map[string][]triage.ActivityEntry),
	}
}

func copyTicket(t *triage.Ticket) *triage.Ticket {
	cp := *t
	cp.Tags = slices.Clone(t.Tags)
	return &cp
}

func copyTeam(t triage.Team) triage.Team {
	t.Skills = slices.Clone(t.Skills)
	return t
}

// CreateTicket stores a copy of the ticket. IDs must be unique.
func (s *Store) CreateTicket(_ context.Context, t *triage.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; ok {
		return fmt.Errorf("ticket %s already exists", t.ID)
	}
	s.tickets[t.ID] = copyTicket(t)
	return nil
}

// GetTicket retrieves a ticket by ID. Returns a copy.
func (s *Store) GetTicket(_ context.Context, id string) (*triage.Ticket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, false, nil
	}
	return copyTicket(t), true, nil
}

// ListTickets returns up to limit tickets, newest first.
func (s *Store) ListTickets(_ context.Context, limit int) ([]triage.Ticket, error) {
	s.mu.RLock()
	out := make([]triage.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, *copyTicket(t))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b triage.Ticket) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateTicket applies the non-nil fields of upd.
func (s *Store) UpdateTicket(_ context.Context, id string, upd triage.TicketUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return fmt.Errorf("update ticket %s: %w", id, triage.ErrTicketNotFound)
	}
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Body != nil {
		t.Body = *upd.Body
	}
	if upd.ProductArea != nil {
		t.ProductArea = *upd.ProductArea
	}
	if upd.Tags != nil {
		t.Tags = slices.Clone(*upd.Tags)
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.Priority != nil {
		t.Priority = *upd.Priority
	}
	if upd.Confidence != nil {
		t.Confidence = *upd.Confidence
	}
	if upd.AssigneeID != nil {
		t.AssigneeID = *upd.AssigneeID
	}
	if upd.AssigneeName != nil {
		t.AssigneeName = *upd.AssigneeName
	}
	if upd.Rationale != nil {
		t.Rationale = *upd.Rationale
	}
	if upd.ReplyDraft != nil {
		t.ReplyDraft = *upd.ReplyDraft
	}
	if !upd.UpdatedAt.IsZero() {
		t.UpdatedAt = upd.UpdatedAt
	}
	return nil
}

// DeleteTicket removes a ticket along with its comments, attachments,
// triage results and activity log.
func (s *Store) DeleteTicket(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return fmt.Errorf("delete ticket %s: %w", id, triage.ErrTicketNotFound)
	}
	delete(s.tickets, id)
	delete(s.comments, id)
	delete(s.attachments, id)
	delete(s.results, id)
	delete(s.activity, id)
	return nil
}

// AddComment appends a comment.
func (s *Store) AddComment(_ context.Context, c *triage.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.TicketID] = append(s.comments[c.TicketID], *c)
	return nil
}

// ListComments returns up to limit comments for a ticket, oldest first.
func (s *Store) ListComments(_ context.Context, ticketID string, limit int) ([]triage.Comment, error) {
	s.mu.RLock()
	out := slices.Clone(s.comments[ticketID])
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b triage.Comment) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddAttachment records attachment metadata for a ticket.
func (s *Store) AddAttachment(_ context.Context, a *triage.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[a.TicketID] = append(s.attachments[a.TicketID], *a)
	return nil
}

// ListAttachments returns up to limit attachments for a ticket.
func (s *Store) ListAttachments(_ context.Context, ticketID string, limit int) ([]triage.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.attachments[ticketID])
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTeams returns the roster in insertion order.
func (s *Store) ListTeams(_ context.Context) ([]triage.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]triage.Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, copyTeam(t))
	}
	return out, nil
}

// GetTeam retrieves a team by ID. Returns a copy.
func (s *Store) GetTeam(_ context.Context, id string) (*triage.Team, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.teams {
		if t.ID == id {
			cp := copyTeam(t)
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

// IncrementWorkload bumps a team's workload counter. Unknown IDs are ignored.
func (s *Store) IncrementWorkload(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.teams {
		if s.teams[i].ID == id {
			s.teams[i].Workload++
			return nil
		}
	}
	return nil
}

// UpsertTeam inserts a team or replaces its name and skills, keeping the
// workload counter and roster position.
func (s *Store) UpsertTeam(_ context.Context, t *triage.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.teams {
		if s.teams[i].ID == t.ID {
			s.teams[i].Name = t.Name
			s.teams[i].Skills = slices.Clone(t.Skills)
			return nil
		}
	}
	s.teams = append(s.teams, copyTeam(*t))
	return nil
}

// AppendResult stores a triage result.
func (s *Store) AppendResult(_ context.Context, r *triage.TriageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.TicketID] = append(s.results[r.TicketID], *r)
	return nil
}

// ListResults returns a ticket's triage results, oldest first.
func (s *Store) ListResults(_ context.Context, ticketID string) ([]triage.TriageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.results[ticketID]), nil
}

// AppendActivity stores an activity entry.
func (s *Store) AppendActivity(_ context.Context, e *triage.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.Payload = maps.Clone(e.Payload)
	s.activity[e.TicketID] = append(s.activity[e.TicketID], cp)
	return nil
}

// ListActivity returns a ticket's activity log, oldest first.
func (s *Store) ListActivity(_ context.Context, ticketID string) ([]triage.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.activity[ticketID]
	out := make([]triage.ActivityEntry, 0, len(entries))
	for _, e := range entries {
		e.Payload = maps.Clone(e.Payload)
		out = append(out, e)
	}
	return out, nil
}
