package triage

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
)

// vaguePhrases is ordered; the first five are the strongest signals.
var vaguePhrases = []string{
	"i don't know", "not sure", "maybe", "i think", "something",
	"help", "issue", "problem", "broken", "doesn't work",
	"not working", "error", "bug", "question", "?",
}

const strongVaguePhrases = 5

var vagueTitles = map[string]struct{}{
	"help": {}, "issue": {}, "problem": {}, "error": {}, "bug": {}, "question": {},
}

// IsAmbiguous reports whether a ticket is too vague to route by skill.
// Lengths are counted in characters of the trimmed title and body.
func IsAmbiguous(title, body string) bool {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	titleLen := utf8.RuneCountInString(title)
	bodyLen := utf8.RuneCountInString(body)

	if titleLen < 5 || bodyLen < 10 {
		return true
	}

	lowTitle := strings.ToLower(title)
	lowBody := strings.ToLower(body)

	matches := 0
	for _, p := range vaguePhrases {
		if strings.Contains(lowTitle, p) {
			matches++
		}
	}
	if matches >= 2 && bodyLen < 50 {
		return true
	}

	if bodyLen < 30 {
		for _, p := range vaguePhrases[:strongVaguePhrases] {
			if strings.Contains(lowBody, p) {
				return true
			}
		}
	}

	if _, ok := vagueTitles[lowTitle]; ok && bodyLen < 40 {
		return true
	}
	return false
}

// ambiguityClassifier lets the model override the heuristic verdict.
type ambiguityClassifier struct {
	llm    *inference
	logger log.Logger
}

// Classify returns the ambiguity verdict and where it came from.
func (c *ambiguityClassifier) Classify(ctx context.Context, title, body string) (bool, DecisionSource) {
	prior := IsAmbiguous(title, body)
	if !c.llm.available() {
		return prior, SourceHeuristic
	}

	var out struct {
		IsAmbiguous *bool `json:"is_ambiguous"`
	}
	if err := c.llm.completeJSON(ctx, StageAssignee, buildAmbiguityPrompt(title, body, prior), classifyTokens, &out); err != nil {
		c.logger.Warn(ctx, "ambiguity inference failed, using heuristic", "error", err)
		c.llm.hooks.fallback(StageAssignee, "ambiguity")
		return prior, SourceFallback
	}
	if out.IsAmbiguous == nil {
		c.logger.Warn(ctx, "ambiguity response missing is_ambiguous, using heuristic")
		c.llm.hooks.fallback(StageAssignee, "invalid")
		return prior, SourceFallback
	}
	return *out.IsAmbiguous, SourceModel
}

func buildAmbiguityPrompt(title, body string, prior bool) string {
	return fmt.Sprintf(`Decide whether this support ticket is too vague to route to a specialist team.

Title: %s
Description: %s

A ticket is ambiguous when it does not say what product, feature or behaviour is
affected, or when the description is too short to act on. Clear tickets name a
concrete system, error or request even if they are brief.

A keyword heuristic judged this ticket ambiguous=%t. Use it as a hint only.

Respond in JSON format:
{"is_ambiguous": true|false}`, title, body, prior)
}
