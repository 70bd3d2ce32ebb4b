package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

var priorityRationales = map[Level]string{
	P0: "Critical priority assigned due to system outage, security breach, or data loss. Immediate attention required to minimize customer impact and prevent escalation.",
	P1: "High priority assigned due to major functionality issues affecting users. Significant impact on user experience or revenue requires urgent resolution.",
	P2: "Medium priority assigned for issues with available workarounds or moderate impact. Standard review process applies with expected resolution within normal timeframe.",
	P3: "Low priority assigned for minor issues, feature requests, or general inquiries. Normal queue processing with standard response timeframe.",
}

const (
	unassignedRationale = "Unable to assign to a specific team. Manual assignment may be required."
	maxRationaleSkills  = 3
)

type rationaleStage struct {
	roster Roster
	llm    *inference
	logger log.Logger
}

func (s *rationaleStage) Name() Stage { return StageRationale }

func (s *rationaleStage) Run(ctx context.Context, rec Record) (Record, error) {
	switch {
	case rec.Context == nil || rec.Context.Title == "":
		return rec, stageError(StageRationale, ErrNoContext)
	case rec.Priority == nil || !rec.Priority.Level.Valid():
		return rec, stageError(StageRationale, ErrNoPriority)
	case rec.Assignee == nil:
		return rec, stageError(StageRationale, ErrNoAssignee)
	}

	team := s.resolveTeam(ctx, rec.Assignee.TeamID)
	r := s.explain(ctx, rec.Context, *rec.Priority, team)
	rec.Rationale = &r
	return rec, nil
}

// resolveTeam looks the assignee up in the roster. Unknown ids and lookup
// errors yield a team carrying only the id.
func (s *rationaleStage) resolveTeam(ctx context.Context, id string) Team {
	fallback := Team{ID: id, Name: id}
	if id == TeamUnassigned {
		return fallback
	}
	t, ok, err := s.roster.GetTeam(ctx, id)
	if err != nil {
		s.logger.Warn(ctx, "team lookup failed", "assignee", id, "error", err)
		return fallback
	}
	if !ok || t == nil {
		return fallback
	}
	if t.Name == "" {
		t.Name = id
	}
	return *t
}

func (s *rationaleStage) explain(ctx context.Context, c *Context, p Priority, team Team) Rationale {
	tmpl := TemplateRationale(c, p.Level, team)
	if !s.llm.available() {
		return tmpl
	}

	var out struct {
		PriorityRationale string `json:"priority_rationale"`
		AssigneeRationale string `json:"assignee_rationale"`
	}
	if err := s.llm.completeJSON(ctx, StageRationale, buildRationalePrompt(c, p, team), rationaleTokens, &out); err != nil {
		s.logger.Warn(ctx, "rationale inference failed, using template", "error", err)
		s.llm.hooks.fallback(StageRationale, "unavailable")
		return tmpl
	}

	r := Rationale{
		PriorityRationale: strings.TrimSpace(out.PriorityRationale),
		AssigneeRationale: strings.TrimSpace(out.AssigneeRationale),
	}
	if r.PriorityRationale == "" {
		r.PriorityRationale = fmt.Sprintf("Priority %s assigned based on ticket analysis.", p.Level)
	}
	if r.AssigneeRationale == "" {
		r.AssigneeRationale = fmt.Sprintf("Assigned to %s based on skill match.", team.Name)
	}
	return r
}

// TemplateRationale is the deterministic explanation used without inference.
func TemplateRationale(c *Context, level Level, team Team) Rationale {
	pr, ok := priorityRationales[level]
	if !ok {
		pr = priorityRationales[P3]
	}

	var ar string
	switch {
	case team.ID == TeamUnassigned || team.ID == "":
		ar = unassignedRationale
	default:
		if matched := matchingSkills(c, team.Skills, maxRationaleSkills); len(matched) > 0 {
			ar = fmt.Sprintf("Assigned to %s because the ticket requires expertise in %s. This team has the necessary skills to effectively resolve this issue.",
				team.Name, strings.Join(matched, ", "))
		} else {
			ar = fmt.Sprintf("Assigned to %s based on general team capabilities and ticket characteristics. The team's expertise aligns with the ticket requirements.",
				team.Name)
		}
	}

	return Rationale{PriorityRationale: pr, AssigneeRationale: ar}
}

// matchingSkills returns up to limit skills that occur in the title or body.
func matchingSkills(c *Context, skills []string, limit int) []string {
	text := strings.ToLower(c.Title + " " + c.Body)
	var out []string
	for _, sk := range skills {
		if len(out) == limit {
			break
		}
		low := strings.ToLower(strings.TrimSpace(sk))
		if low != "" && strings.Contains(text, low) {
			out = append(out, sk)
		}
	}
	return out
}

func buildRationalePrompt(c *Context, p Priority, team Team) string {
	skills := "None listed"
	if len(team.Skills) > 0 {
		skills = strings.Join(team.Skills, ", ")
	}
	tags := "None"
	if len(c.Tags) > 0 {
		tags = strings.Join(c.Tags, ", ")
	}

	var extra strings.Builder
	for _, cm := range c.Comments {
		fmt.Fprintf(&extra, "- %s\n", cm.Text)
	}
	comments := extra.String()
	if comments == "" {
		comments = "None\n"
	}

	return fmt.Sprintf(`Explain the triage decisions made for this support ticket.

TICKET:
Title: %s
Description: %s
Product area: %s
Tags: %s
Comments:
%s
DECISIONS:
Priority: %s (confidence %.2f)
Assigned team: %s
Team skills: %s

Write one or two sentences justifying the priority level, and one or two
sentences justifying the team selection with reference to the team's skills.
Be factual and concise.

Respond in JSON format:
{"priority_rationale": "...", "assignee_rationale": "..."}`,
		c.Title, c.Body, c.ProductArea, tags, comments, p.Level, p.Confidence, team.Name, skills)
}
