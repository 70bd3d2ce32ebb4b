package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// persistStage writes the run outcome. The writes are ordered but not
// transactional; a failure part way leaves earlier writes in place.
type persistStage struct {
	store             Store
	logger            log.Logger
	now               func() time.Time
	newID             func() string
	incrementWorkload bool
}

func (s *persistStage) Name() Stage { return StagePersist }

func (s *persistStage) Run(ctx context.Context, rec Record) (Record, error) {
	if rec.Ticket.ID == "" {
		return rec, stageError(StagePersist, ErrMissingTicket)
	}

	if err := s.write(ctx, rec); err != nil {
		err = stageError(StagePersist, fmt.Errorf("%w: %w", ErrPersistence, err))
		s.logger.Error(ctx, err, "persisting triage outcome failed")
		LogFailure(ctx, s.store, s.logger, rec.Ticket.ID, err, s.now(), s.newID())
		return rec, err
	}
	return rec, nil
}

func (s *persistStage) write(ctx context.Context, rec Record) error {
	out := rec.Outcome()
	now := s.now().UTC()
	id := rec.Ticket.ID

	status := TicketTriaged
	if err := s.store.UpdateTicket(ctx, id, TicketUpdate{
		Status:     &status,
		Priority:   &out.Priority,
		Confidence: &out.Confidence,
		AssigneeID: &out.Assignee,
		Rationale:  &out.Rationale,
		ReplyDraft: &out.ReplyDraft,
		UpdatedAt:  now,
	}); err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}

	name, isTeam, err := s.assigneeName(ctx, out.Assignee)
	if err != nil {
		return fmt.Errorf("resolve assignee: %w", err)
	}
	if err := s.store.UpdateTicket(ctx, id, TicketUpdate{AssigneeName: &name, UpdatedAt: now}); err != nil {
		return fmt.Errorf("update assignee name: %w", err)
	}

	var pr, ar string
	if rec.Rationale != nil {
		pr, ar = rec.Rationale.PriorityRationale, rec.Rationale.AssigneeRationale
	}
	if err := s.store.AppendResult(ctx, &TriageResult{
		ID:                s.newID(),
		TicketID:          id,
		Priority:          out.Priority,
		Confidence:        out.Confidence,
		PriorityRationale: pr,
		AssigneeID:        out.Assignee,
		AssigneeRationale: ar,
		ReplyDraft:        out.ReplyDraft,
		CreatedAt:         now,
	}); err != nil {
		return fmt.Errorf("append result: %w", err)
	}

	if err := s.store.AppendActivity(ctx, &ActivityEntry{
		ID:        s.newID(),
		TicketID:  id,
		EventType: ActivityTriageRun,
		Payload: map[string]any{
			"priority":   string(out.Priority),
			"assignee":   out.Assignee,
			"confidence": out.Confidence,
		},
		Timestamp: now,
	}); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}

	if s.incrementWorkload && isTeam {
		if err := s.store.IncrementWorkload(ctx, out.Assignee); err != nil {
			return fmt.Errorf("increment workload: %w", err)
		}
	}
	return nil
}

// assigneeName resolves the display name for a team id. Ids missing from the
// roster display as themselves.
func (s *persistStage) assigneeName(ctx context.Context, id string) (string, bool, error) {
	if id == TeamUnassigned {
		return id, false, nil
	}
	t, ok, err := s.store.GetTeam(ctx, id)
	if err != nil {
		return "", false, err
	}
	if !ok || t == nil || t.Name == "" {
		return id, ok, nil
	}
	return t.Name, true, nil
}

// LogFailure appends a triage_failed activity entry. It never fails: a write
// error is logged and dropped.
func LogFailure(ctx context.Context, activity ActivityLog, logger log.Logger, ticketID string, cause error, at time.Time, id string) {
	if ticketID == "" {
		return
	}
	err := activity.AppendActivity(ctx, &ActivityEntry{
		ID:        id,
		TicketID:  ticketID,
		EventType: ActivityTriageFailed,
		Payload:   map[string]any{"error": cause.Error()},
		Timestamp: at.UTC(),
	})
	if err != nil {
		logger.Warn(ctx, "failed to log triage failure", "error", err)
	}
}
