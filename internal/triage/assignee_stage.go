package triage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

const (
	skillMatchWeight = 10
	maxCandidates    = 5
	maxSkillsPreview = 5
)

// ScoredTeam is a roster team with its skill match score for one ticket.
type ScoredTeam struct {
	Team  Team
	Score int
}

// ScoreTeams scores every team against the ticket context and returns them
// sorted by descending score. Ties keep roster order.
func ScoreTeams(c *Context, teams []Team) []ScoredTeam {
	parts := append([]string{c.Title, c.Body, c.ProductArea}, c.Tags...)
	text := strings.ToLower(strings.Join(parts, " "))

	scored := make([]ScoredTeam, 0, len(teams))
	for _, t := range teams {
		score := 0
		for _, skill := range t.Skills {
			skill = strings.ToLower(strings.TrimSpace(skill))
			if skill != "" && strings.Contains(text, skill) {
				score += skillMatchWeight
			}
		}
		scored = append(scored, ScoredTeam{Team: t, Score: score})
	}

	slices.SortStableFunc(scored, func(a, b ScoredTeam) int { return b.Score - a.Score })
	return scored
}

type assigneeStage struct {
	roster     Roster
	classifier *ambiguityClassifier
	llm        *inference
	logger     log.Logger
}

func (s *assigneeStage) Name() Stage { return StageAssignee }

func (s *assigneeStage) Run(ctx context.Context, rec Record) (Record, error) {
	c := rec.Context
	if c == nil {
		return rec, stageError(StageAssignee, ErrNoContext)
	}

	if ambiguous, src := s.classifier.Classify(ctx, c.Title, c.Body); ambiguous {
		rec.Assignee = &Assignee{TeamID: TeamCustomerSupport, Ambiguous: true, Source: src}
		return rec, nil
	}

	teams, err := s.roster.ListTeams(ctx)
	if err != nil {
		rec.Assignee = &Assignee{TeamID: TeamUnassigned, Source: SourceFallback}
		return rec, stageError(StageAssignee, fmt.Errorf("list teams: %w", err))
	}
	if len(teams) == 0 {
		rec.Assignee = &Assignee{TeamID: TeamUnassigned, Source: SourceHeuristic}
		return rec, nil
	}

	scored := ScoreTeams(c, teams)
	rec.Assignee = s.pick(ctx, c, rec.Priority, scored)
	return rec, nil
}

// pick asks the model to choose among the top candidates. An unknown or
// missing answer falls back to the top-scored team.
func (s *assigneeStage) pick(ctx context.Context, c *Context, p *Priority, scored []ScoredTeam) *Assignee {
	top := &Assignee{TeamID: scored[0].Team.ID, Source: SourceHeuristic}
	if !s.llm.available() {
		return top
	}

	candidates := scored[:min(len(scored), maxCandidates)]

	var out struct {
		AssigneeID string `json:"assignee_user_id"`
	}
	if err := s.llm.completeJSON(ctx, StageAssignee, buildAssigneePrompt(c, p, candidates), classifyTokens, &out); err != nil {
		s.logger.Warn(ctx, "assignee inference failed, using top score", "error", err)
		s.llm.hooks.fallback(StageAssignee, "unavailable")
		top.Source = SourceFallback
		return top
	}

	id := strings.TrimSpace(out.AssigneeID)
	for _, cand := range candidates {
		if cand.Team.ID == id {
			return &Assignee{TeamID: id, Source: SourceModel}
		}
	}

	s.logger.Warn(ctx, "model picked a team outside the candidate set", "assignee", id)
	s.llm.hooks.fallback(StageAssignee, "invalid")
	top.Source = SourceFallback
	return top
}

func buildAssigneePrompt(c *Context, p *Priority, candidates []ScoredTeam) string {
	level := P3
	if p != nil {
		level = p.Level
	}
	tags := "None"
	if len(c.Tags) > 0 {
		tags = strings.Join(c.Tags, ", ")
	}

	var b strings.Builder
	for i, cand := range candidates {
		skills := cand.Team.Skills[:min(len(cand.Team.Skills), maxSkillsPreview)]
		fmt.Fprintf(&b, "%d. %s (ID: %s) - Skills: %s... - Match Score: %.1f\n",
			i+1, cand.Team.Name, cand.Team.ID, strings.Join(skills, ", "), float64(cand.Score))
	}

	return fmt.Sprintf(`Select the best team to handle this support ticket.

TICKET:
Title: %s
Description: %s
Product area: %s
Tags: %s
Priority: %s

CANDIDATE TEAMS (pre-ranked by skill match):
%s
Pick the team whose skills best match the ticket. Prefer the higher match score
unless the ticket clearly belongs to another candidate.

Respond in JSON format:
{"assignee_user_id": "<team ID from the list>"}`,
		c.Title, c.Body, c.ProductArea, tags, level, b.String())
}
