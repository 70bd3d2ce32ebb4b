package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	inferenceTemperature = 0.2

	classifyTokens  = 256
	rationaleTokens = 1024
	replyTokens     = 512
)

const systemPrompt = `You are Docket, a helpdesk ticket triage assistant.
You follow the output format in each request exactly. When JSON is requested,
respond with a single JSON object and nothing else.`

// inference gates every call to the Provider. A disabled gate or a nil
// provider behaves exactly like an unreachable service.
type inference struct {
	provider Provider
	enabled  bool
	hooks    PipelineHooks
}

func (in *inference) available() bool {
	return in != nil && in.enabled && in.provider != nil
}

// complete sends prompt and returns the trimmed response text. Every failure
// is reported as ErrInferenceUnavailable so callers fall back uniformly.
func (in *inference) complete(ctx context.Context, stage Stage, prompt string, maxTokens int) (string, error) {
	if !in.available() {
		return "", ErrInferenceUnavailable
	}

	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("docket.stage", string(stage)),
		attribute.Int("gen_ai.request.max_tokens", maxTokens),
	))
	defer span.End()

	start := time.Now()
	resp, err := in.provider.Complete(ctx, &CompletionRequest{
		MaxTokens:   maxTokens,
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: inferenceTemperature,
	})
	dur := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		in.hooks.inference(stage, dur, Usage{}, err)
		return "", fmt.Errorf("%w: %w", ErrInferenceUnavailable, err)
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	in.hooks.inference(stage, dur, resp.Usage, nil)

	return strings.TrimSpace(resp.Text), nil
}

// completeJSON calls complete and decodes the (possibly fenced) JSON answer into v.
func (in *inference) completeJSON(ctx context.Context, stage Stage, prompt string, maxTokens int, v any) error {
	text, err := in.complete(ctx, stage, prompt, maxTokens)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(unwrapFenced(text)), v); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrInferenceUnavailable, stage, err)
	}
	return nil
}

// unwrapFenced strips a markdown code fence around s, preferring a ```json fence.
func unwrapFenced(s string) string {
	s = strings.TrimSpace(s)
	for _, fence := range []string{"```json", "```"} {
		if _, after, ok := strings.Cut(s, fence); ok {
			body, _, _ := strings.Cut(after, "```")
			return strings.TrimSpace(body)
		}
	}
	return s
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", string(b))
	}
	*f = flexFloat(v)
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
