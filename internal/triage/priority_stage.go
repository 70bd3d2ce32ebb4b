package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// fallbackPriority is used whenever the model answer cannot be used.
var fallbackPriority = Priority{Level: P3, Confidence: 0.5}

// defaultModelConfidence applies when the model omits confidence.
const defaultModelConfidence = 0.8

// keyword tiers for the local classifier, checked in order.
var priorityKeywords = []struct {
	level      Level
	confidence float64
	words      []string
}{
	{P0, 0.92, []string{"down", "outage", "broken", "not working", "crash", "critical", "urgent", "security"}},
	{P1, 0.85, []string{"error", "bug", "issue", "problem", "fail"}},
	{P2, 0.78, []string{"billing", "payment", "invoice", "charge"}},
}

type priorityStage struct {
	llm    *inference
	logger log.Logger
}

func (s *priorityStage) Name() Stage { return StagePriority }

func (s *priorityStage) Run(ctx context.Context, rec Record) (Record, error) {
	if rec.Context == nil {
		return rec, stageError(StagePriority, ErrNoContext)
	}

	p := s.classify(ctx, rec.Context)
	rec.Priority = &p
	return rec, nil
}

func (s *priorityStage) classify(ctx context.Context, c *Context) Priority {
	if !s.llm.available() {
		return HeuristicPriority(c)
	}

	var out struct {
		Priority   string     `json:"priority"`
		Confidence *flexFloat `json:"confidence"`
	}
	if err := s.llm.completeJSON(ctx, StagePriority, buildPriorityPrompt(c), classifyTokens, &out); err != nil {
		s.logger.Warn(ctx, "priority inference failed, using fallback", "error", err)
		s.llm.hooks.fallback(StagePriority, "unavailable")
		return fallbackPriority
	}

	conf := defaultModelConfidence
	if out.Confidence != nil {
		conf = float64(*out.Confidence)
	}
	return Priority{Level: ParseLevel(out.Priority), Confidence: clamp01(conf)}
}

// HeuristicPriority classifies a ticket by keyword over title, body and tags.
func HeuristicPriority(c *Context) Priority {
	text := strings.ToLower(strings.Join([]string{c.Title, c.Body, strings.Join(c.Tags, " ")}, " "))
	for _, tier := range priorityKeywords {
		for _, w := range tier.words {
			if strings.Contains(text, w) {
				return Priority{Level: tier.level, Confidence: tier.confidence}
			}
		}
	}
	return Priority{Level: P3, Confidence: 0.75}
}

func buildPriorityPrompt(c *Context) string {
	tags := "None"
	if len(c.Tags) > 0 {
		tags = strings.Join(c.Tags, ", ")
	}

	return fmt.Sprintf(`Analyze the support ticket below and assign the most appropriate priority level.

TICKET INFORMATION:
Title: %s
Description: %s
Tags: %s

PRIORITY LEVELS:
P0 - CRITICAL: system-wide outage or complete service unavailability, security or data
     breach, data loss or corruption, payment processing completely down. Affects all or
     most users with no workaround.
P1 - HIGH: a major feature completely broken or critical customer-facing functionality
     down, affecting a large portion of users (30%%+) with limited or no workaround.
P2 - MEDIUM: a moderate issue or partially working feature affecting some users, a
     workaround is available. Billing and account questions also belong here.
P3 - LOW: everything else. Minor or cosmetic bugs, feature requests, general questions,
     documentation issues.

DECISION PROCESS:
1. Does it meet the P0 criteria? If yes, P0.
2. Otherwise, does it meet most P1 criteria? If yes, P1.
3. Otherwise, does it meet the P2 criteria? If yes, P2.
4. Otherwise, P3.

CONFIDENCE:
0.9-1.0 very clear match, 0.7-0.89 good match with some ambiguity,
0.5-0.69 borderline with an adjacent level, below 0.5 unclear.

Respond in JSON format:
{"priority": "P0|P1|P2|P3", "confidence": <float 0-1>}`,
		c.Title, c.Body, tags)
}
