// Package openclaw is the HTTP client for the OpenClaw gateway's
// chat-completions surface. One pooled client is shared by the completion
// proxy and the per-call prewarm.
package openclaw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/deepclaw/internal/prompt"
)

const sessionKeyHeader = "X-OpenClaw-Session-Key"

// Client forwards chat-completion requests to the gateway.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: timeout},
	}
}

// Forward posts a raw chat-completions body to the gateway. The caller owns
// the response body; sessionKey is attached as a header when non-empty so the
// gateway can keep per-call conversation state.
func (c *Client) Forward(ctx context.Context, body []byte, sessionKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if sessionKey != "" {
		req.Header.Set(sessionKeyHeader, sessionKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send gateway request: %w", err)
	}
	return res, nil
}

type completionBody struct {
	Model    string           `json:"model"`
	Stream   bool             `json:"stream"`
	Messages []prompt.Message `json:"messages"`
}

// Prewarm fires a throwaway streaming turn so the gateway creates the session
// and warms its prompt cache before the caller's first real turn. The message
// prefix must match what the proxy injects or the cache built here is useless.
func (c *Client) Prewarm(ctx context.Context, model, sessionKey string, prefix []prompt.Message) error {
	body := completionBody{
		Model:    model,
		Stream:   true,
		Messages: append(append([]prompt.Message{}, prefix...), prompt.Message{Role: "user", Content: "warmup"}),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal prewarm request: %w", err)
	}

	res, err := c.Forward(ctx, payload, sessionKey)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("prewarm status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	// Drain the stream so the warm turn completes server-side.
	if _, err := io.Copy(io.Discard, res.Body); err != nil {
		return fmt.Errorf("drain prewarm stream: %w", err)
	}
	return nil
}

// CompleteText runs a non-streaming turn and extracts the assistant text.
// Used by the SMS reply path where no event stream is needed.
func (c *Client) CompleteText(ctx context.Context, model, sessionKey string, messages []prompt.Message) (string, error) {
	payload, err := json.Marshal(completionBody{Model: model, Stream: false, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	res, err := c.Forward(ctx, payload, sessionKey)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("gateway status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return ExtractCompletionText(raw), nil
}

// ExtractCompletionText pulls assistant text from a chat-completion response,
// accepting both string content and typed content-part lists.
func ExtractCompletionText(raw []byte) string {
	var payload struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Choices) == 0 {
		return ""
	}
	content := payload.Choices[0].Message.Content
	if len(content) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
