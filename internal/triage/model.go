package triage

import "time"

// TicketStatus tracks where a ticket is in its lifecycle.
type TicketStatus string

const (
	// TicketOpen means created, not yet triaged
	TicketOpen TicketStatus = "open"

	// TicketTriaged means a triage run persisted its outcome
	TicketTriaged TicketStatus = "triaged"
)

// Ticket is a customer support request. Description and Category are the
// legacy names for Body and ProductArea; older records may only carry those.
type Ticket struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Body         string       `json:"body,omitempty"`
	Description  string       `json:"description,omitempty"`
	Category     string       `json:"category,omitempty"`
	ProductArea  string       `json:"product_area,omitempty"`
	Tags         []string     `json:"tags"`
	Status       TicketStatus `json:"status"`
	Priority     Level        `json:"priority,omitempty"`
	Confidence   float64      `json:"ai_confidence,omitempty"`
	AssigneeID   string       `json:"assignee_user_id,omitempty"`
	AssigneeName string       `json:"assignee,omitempty"`
	Rationale    string       `json:"ai_rationale,omitempty"`
	ReplyDraft   string       `json:"ai_reply_draft,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TicketUpdate carries the fields to change on a ticket. Nil fields are left untouched.
type TicketUpdate struct {
	Title        *string
	Body         *string
	ProductArea  *string
	Tags         *[]string
	Status       *TicketStatus
	Priority     *Level
	Confidence   *float64
	AssigneeID   *string
	AssigneeName *string
	Rationale    *string
	ReplyDraft   *string
	UpdatedAt    time.Time
}

// Comment is a note attached to a ticket.
type Comment struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment describes a file attached to a ticket. Contents are never loaded.
type Attachment struct {
	ID          string    `json:"id"`
	TicketID    string    `json:"ticket_id"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Team is a routing target. Skills are free-text keywords matched case-insensitively.
type Team struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Skills   []string `json:"skills" yaml:"skills"`
	Workload int      `json:"workload" yaml:"workload,omitempty"`
}

// TriageResult is the append-only audit record of one completed run.
type TriageResult struct {
	ID                string    `json:"id"`
	TicketID          string    `json:"ticket_id"`
	Priority          Level     `json:"priority"`
	Confidence        float64   `json:"priority_confidence"`
	PriorityRationale string    `json:"priority_rationale"`
	AssigneeID        string    `json:"assignee_user_id"`
	AssigneeRationale string    `json:"assignee_rationale"`
	ReplyDraft        string    `json:"reply_draft"`
	CreatedAt         time.Time `json:"created_at"`
}

// ActivityType names an activity log event.
type ActivityType string

const (
	ActivityTriageRun    ActivityType = "triage_run"
	ActivityTriageFailed ActivityType = "triage_failed"
	ActivityUpdated      ActivityType = "ticket_updated"
)

// ActivityEntry is an immutable event in a ticket's activity log.
type ActivityEntry struct {
	ID        string         `json:"id"`
	TicketID  string         `json:"ticket_id"`
	EventType ActivityType   `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Outcome is what the trigger interface returns to callers.
type Outcome struct {
	Priority   Level   `json:"priority"`
	Confidence float64 `json:"confidence"`
	Assignee   string  `json:"assignee"`
	Rationale  string  `json:"rationale"`
	ReplyDraft string  `json:"reply_draft"`
}
