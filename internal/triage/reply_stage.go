package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// MaxReplyWords bounds every drafted reply.
const MaxReplyWords = 120

var replyBodies = map[Level]string{
	P0: "Thank you for reporting this critical issue. We have immediately escalated this to our engineering team and they are actively investigating. We will provide updates every 30 minutes until resolved. We sincerely apologize for the inconvenience.",
	P1: "Thank you for bringing this to our attention. We have flagged this as high priority and our team is investigating now. We aim to provide an update within 2-4 hours. We appreciate your patience as we work to resolve this quickly.",
	P2: "Thank you for contacting us. We have received your request and assigned it to our team for review. They will investigate and respond within 24-48 hours. If you have additional information, please feel free to add it here.",
	P3: "Thank you for reaching out. We have received your request and our team will review it. We typically respond to requests like this within 2-3 business days. We appreciate your patience.",
}

var replyExpectations = map[Level]string{
	P0: "immediate escalation, updates every 30 minutes",
	P1: "investigating now, update within 2-4 hours",
	P2: "team review, response within 24-48 hours",
	P3: "standard queue, response within 2-3 business days",
}

type replyStage struct {
	llm    *inference
	logger log.Logger
}

func (s *replyStage) Name() Stage { return StageReply }

func (s *replyStage) Run(ctx context.Context, rec Record) (Record, error) {
	if rec.Context == nil {
		return rec, stageError(StageReply, ErrNoContext)
	}

	level := P3
	if rec.Priority != nil && rec.Priority.Level.Valid() {
		level = rec.Priority.Level
	}

	reply := TemplateReply(level)
	if s.llm.available() {
		text, err := s.llm.complete(ctx, StageReply, buildReplyPrompt(rec.Context, level), replyTokens)
		switch {
		case err != nil:
			s.logger.Warn(ctx, "reply inference failed, using template", "error", err)
			s.llm.hooks.fallback(StageReply, "unavailable")
		case text == "":
			s.logger.Warn(ctx, "reply inference returned nothing, using template")
			s.llm.hooks.fallback(StageReply, "invalid")
		default:
			reply = text
		}
	}

	rec.Reply = TruncateWords(reply, MaxReplyWords)
	return rec, nil
}

// TemplateReply is the fixed customer reply for a priority level.
func TemplateReply(level Level) string {
	body, ok := replyBodies[level]
	if !ok {
		body = replyBodies[P3]
	}
	return "Hello,\n\n" + body + "\n\nBest regards,\nSupport Team"
}

// TruncateWords keeps the first limit whitespace-separated words of text,
// joined by single spaces and followed by "...". Text within the limit is
// returned unchanged.
func TruncateWords(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}
	return strings.Join(words[:limit], " ") + "..."
}

func buildReplyPrompt(c *Context, level Level) string {
	var table strings.Builder
	for _, l := range []Level{P0, P1, P2, P3} {
		fmt.Fprintf(&table, "%s: %s\n", l, replyExpectations[l])
	}

	return fmt.Sprintf(`Draft a reply to the customer who opened this support ticket.

Title: %s
Description: %s
Priority: %s

RESPONSE EXPECTATIONS BY PRIORITY:
%s
Acknowledge the problem, state the expectation for priority %s exactly as listed
above, and keep a professional, empathetic tone. Do not promise a fix or a
resolution date. Start with "Hello," and sign off as "Support Team".
The reply must be at most %d words. Return only the reply text.`,
		c.Title, c.Body, level, table.String(), level, MaxReplyWords)
}
