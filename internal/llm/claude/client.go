// Package claude implements triage.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/linnemanlabs/docket/internal/triage"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 1024
)

var errEmptyResponse = errors.New("claude returned no text content")

// messagesAPI is the slice of the SDK client the provider calls.
type messagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Client implements triage.Provider for the Claude API.
type Client struct {
	msgs  messagesAPI
	model string
}

var _ triage.Provider = (*Client)(nil)

// New creates a Claude client for the given API key and model name.
// Extra request options (base URL, HTTP client) are passed through to the SDK.
// SDK retries are off: a failed call goes straight to the stage fallback.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(defaultTimeout),
		option.WithMaxRetries(0),
	}
	c := anthropic.NewClient(append(base, opts...)...)
	return &Client{msgs: &c.Messages, model: model}
}

// Complete sends a single-turn prompt and returns the concatenated text blocks.
func (c *Client) Complete(ctx context.Context, req *triage.CompletionRequest) (*triage.CompletionResponse, error) {
	msg, err := c.msgs.New(ctx, c.params(req))
	if err != nil {
		return nil, fmt.Errorf("claude messages.new: %w", err)
	}
	return fromSDKResponse(msg)
}

func (c *Client) params(req *triage.CompletionRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: param.NewOpt(req.Temperature),
	}
	if s := strings.TrimSpace(req.System); s != "" {
		p.System = []anthropic.TextBlockParam{{Text: s}}
	}
	return p
}

func fromSDKResponse(msg *anthropic.Message) (*triage.CompletionResponse, error) {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return nil, fmt.Errorf("%w (stop reason %q)", errEmptyResponse, msg.StopReason)
	}

	return &triage.CompletionResponse{
		Text:  b.String(),
		Model: string(msg.Model),
		Usage: triage.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}
