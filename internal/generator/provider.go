// Package generator drives the completion provider in streaming mode and
// relays ordered token events to a single listener per request.
package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inkwell-labs/inkwell/internal/domain"
)

// CompletionStreamer opens a token stream for an assembled prompt. The
// returned channel delivers events in arrival order, carries exactly one
// terminal done or error event, and is closed after it. Cancelling ctx
// tears the transport down.
type CompletionStreamer interface {
	StreamCompletion(ctx context.Context, prompt domain.Prompt) (<-chan domain.StreamEvent, error)
}

// Default client configuration values.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 120 * time.Second
)

// ClientConfig holds configuration for the completion client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client streams completions from an OpenAI-compatible
// /chat/completions endpoint.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

var _ CompletionStreamer = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewClient creates a streaming completion client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// StreamCompletion sends the prompt and relays SSE delta frames as token
// events until the provider's [DONE] marker.
func (c *Client) StreamCompletion(ctx context.Context, prompt domain.Prompt) (<-chan domain.StreamEvent, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  buildMessages(prompt),
		MaxTokens: prompt.MaxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAIServiceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: completion returned status %d: %s",
			domain.ErrAIServiceUnavailable, resp.StatusCode, string(payload))
	}

	events := make(chan domain.StreamEvent, 64)
	go relaySSE(resp.Body, events)
	return events, nil
}

// relaySSE parses data: lines off the response body. It always closes the
// body and emits exactly one terminal event before closing the channel.
func relaySSE(body io.ReadCloser, events chan<- domain.StreamEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			events <- domain.StreamEvent{Type: domain.EventDone}
			return
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			events <- domain.StreamEvent{Type: domain.EventError, Message: fmt.Sprintf("decode stream frame: %v", err)}
			return
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				events <- domain.StreamEvent{Type: domain.EventToken, Content: choice.Delta.Content}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		events <- domain.StreamEvent{Type: domain.EventError, Message: err.Error()}
		return
	}
	// Provider hung up without the explicit end marker.
	events <- domain.StreamEvent{Type: domain.EventError, Message: "stream ended without done marker"}
}

func buildMessages(prompt domain.Prompt) []chatMessage {
	var system strings.Builder
	system.WriteString("You are drafting one section of an academic thesis. ")
	system.WriteString("Ground every claim in the provided evidence and mark it with the citation label.")
	if prompt.Guidance != "" {
		system.WriteString("\n\nThesis guidance: ")
		system.WriteString(prompt.Guidance)
	}

	var user strings.Builder
	user.WriteString("Section objective: ")
	user.WriteString(prompt.Objective)
	if len(prompt.Evidence) > 0 {
		user.WriteString("\n\nEvidence:\n")
		for _, ev := range prompt.Evidence {
			fmt.Fprintf(&user, "[%s] %s\n", ev.Citation, ev.Text)
		}
	}

	return []chatMessage{
		{Role: "system", Content: system.String()},
		{Role: "user", Content: user.String()},
	}
}
