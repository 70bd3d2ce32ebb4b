package triage

import (
	"strings"
	"time"
)

// Level is a ticket priority.
type Level string

const (
	P0 Level = "P0"
	P1 Level = "P1"
	P2 Level = "P2"
	P3 Level = "P3"
)

// ParseLevel coerces s to a known Level. Anything unrecognised becomes P3.
func ParseLevel(s string) Level {
	switch l := Level(strings.ToUpper(strings.TrimSpace(s))); l {
	case P0, P1, P2, P3:
		return l
	default:
		return P3
	}
}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	switch l {
	case P0, P1, P2, P3:
		return true
	}
	return false
}

const (
	maxContextComments    = 10
	maxContextAttachments = 5

	// TeamCustomerSupport receives tickets too vague to route by skill.
	TeamCustomerSupport = "customer_support"

	// TeamUnassigned marks a run that could not pick a team.
	TeamUnassigned = "unassigned"
)

// Context is the compact view of a ticket that downstream stages read.
type Context struct {
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	Tags        []string         `json:"tags"`
	ProductArea string           `json:"product_area"`
	Comments    []CommentView    `json:"comments"`
	Attachments []AttachmentView `json:"attachments"`
}

// CommentView is the part of a comment carried in Context.
type CommentView struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentView is the part of an attachment carried in Context.
type AttachmentView struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// Priority is the Priority Stage output.
type Priority struct {
	Level      Level   `json:"priority"`
	Confidence float64 `json:"confidence"`
}

// DecisionSource records whether a decision came from the model or a local rule.
type DecisionSource string

const (
	SourceModel     DecisionSource = "model"
	SourceHeuristic DecisionSource = "heuristic"
	SourceFallback  DecisionSource = "fallback"
)

// Assignee is the Assignee Stage output.
type Assignee struct {
	TeamID    string         `json:"assignee_user_id"`
	Ambiguous bool           `json:"ambiguous"`
	Source    DecisionSource `json:"source"`
}

// Rationale is the Rationale Stage output.
type Rationale struct {
	PriorityRationale string `json:"priority_rationale"`
	AssigneeRationale string `json:"assignee_rationale"`
}

// Combined joins both rationales the way they are shown on the ticket.
func (r *Rationale) Combined() string {
	if r == nil {
		return ""
	}
	switch {
	case r.PriorityRationale != "" && r.AssigneeRationale != "":
		return r.PriorityRationale + " | " + r.AssigneeRationale
	case r.PriorityRationale != "":
		return r.PriorityRationale
	default:
		return r.AssigneeRationale
	}
}

// Record accumulates stage outputs for one run. Stages receive it by value
// and return the extended copy; nil pointers mean the producing stage did
// not run to completion. Err holds only the most recent stage failure.
type Record struct {
	Ticket    Ticket
	Context   *Context
	Priority  *Priority
	Assignee  *Assignee
	Rationale *Rationale
	Reply     string
	Err       error
}

// Outcome projects the record onto the trigger response, substituting the
// documented defaults for fields an upstream failure left empty.
func (r Record) Outcome() *Outcome {
	o := &Outcome{
		Priority:   P3,
		Assignee:   TeamUnassigned,
		Rationale:  r.Rationale.Combined(),
		ReplyDraft: r.Reply,
	}
	if r.Priority != nil {
		o.Priority = r.Priority.Level
		o.Confidence = r.Priority.Confidence
	}
	if r.Assignee != nil && r.Assignee.TeamID != "" {
		o.Assignee = r.Assignee.TeamID
	}
	return o
}
