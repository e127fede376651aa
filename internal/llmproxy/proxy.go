// Package llmproxy is the endpoint the speech agent calls for every LLM
// turn. It rewrites the request (injected context, fixed voice model, no
// tools), correlates it to the active call, forwards to the OpenClaw
// gateway, and cleans streamed text for speech on the way back.
package llmproxy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/deepclaw/internal/observability"
	"github.com/ent0n29/deepclaw/internal/openclaw"
	"github.com/ent0n29/deepclaw/internal/prompt"
	"github.com/ent0n29/deepclaw/internal/registry"
	"github.com/ent0n29/deepclaw/internal/voice"
)

const doneSentinel = "data: [DONE]"

// CallContext reports the recorded reason for the active outbound call, or
// "" for inbound calls.
type CallContext interface {
	Active() string
}

// Proxy handles POST /v1/chat/completions.
type Proxy struct {
	gateway     *openclaw.Client
	registry    *registry.Registry
	assembler   *prompt.Assembler
	callContext CallContext
	voiceModel  string
	metrics     *observability.Metrics
	now         func() time.Time
}

func New(gateway *openclaw.Client, reg *registry.Registry, assembler *prompt.Assembler, callContext CallContext, voiceModel string, metrics *observability.Metrics) *Proxy {
	return &Proxy{
		gateway:     gateway,
		registry:    reg,
		assembler:   assembler,
		callContext: callContext,
		voiceModel:  voiceModel,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		http.Error(w, `{"error":"failed to read request body"}`, http.StatusBadRequest)
		return
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		body = map[string]json.RawMessage{}
	}

	// Malformed or absent message lists degrade to empty, never to an error:
	// the agent's turn must not die because of a shape mismatch.
	var messages []json.RawMessage
	if rawMsgs, ok := body["messages"]; ok {
		if err := json.Unmarshal(rawMsgs, &messages); err != nil {
			messages = nil
		}
	}

	callCtx := ""
	if p.callContext != nil {
		callCtx = p.callContext.Active()
	}
	injected := p.assembler.Messages(p.now(), callCtx)
	merged := make([]json.RawMessage, 0, len(injected)+len(messages))
	for _, m := range injected {
		enc, err := json.Marshal(m)
		if err != nil {
			continue
		}
		merged = append(merged, enc)
	}
	merged = append(merged, messages...)

	encMsgs, err := json.Marshal(merged)
	if err != nil {
		http.Error(w, `{"error":"failed to encode messages"}`, http.StatusInternalServerError)
		return
	}
	body["messages"] = encMsgs
	body["model"] = json.RawMessage(`"` + p.voiceModel + `"`)

	// The voice gateway path does not execute tools.
	delete(body, "tools")
	delete(body, "tool_choice")

	stream := false
	if rawStream, ok := body["stream"]; ok {
		_ = json.Unmarshal(rawStream, &stream)
	}

	sessionKey := p.resolveSessionKey(r)
	payload, err := json.Marshal(body)
	if err != nil {
		http.Error(w, `{"error":"failed to encode request"}`, http.StatusInternalServerError)
		return
	}
	log.Printf("proxying chat completion stream=%v messages=%d session=%q", stream, len(merged), sessionKey)

	res, err := p.gateway.Forward(r.Context(), payload, sessionKey)
	if err != nil {
		p.countProxy(stream, "gateway_unreachable")
		http.Error(w, `{"error":"completions backend unreachable"}`, http.StatusBadGateway)
		return
	}
	defer res.Body.Close()

	if !stream {
		p.relayBody(w, res)
		p.countProxy(false, "ok")
		return
	}
	p.relayStream(r.Context(), w, res.Body)
	p.countProxy(true, "ok")
}

// resolveSessionKey prefers the explicit per-call token minted by the bridge
// and embedded in the endpoint URL; the "current" slot is the fallback for
// agents that strip the query string.
func (p *Proxy) resolveSessionKey(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("call")); token != "" {
		if sessionKey, ok := p.registry.Lookup(token); ok {
			return sessionKey
		}
	}
	sessionKey, _ := p.registry.Lookup(registry.KeyCurrent)
	return sessionKey
}

// relayBody forwards status and body verbatim for non-streaming responses.
func (p *Proxy) relayBody(w http.ResponseWriter, res *http.Response) {
	ct := res.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		log.Printf("relay completion body: %v", err)
	}
}

// relayStream pipes the backend's event stream through RewriteEventLine,
// preserving ordering and framing. Lines that fail to parse pass through
// unmodified so the caller's stream is never silently truncated.
func (p *Proxy) relayStream(ctx context.Context, w http.ResponseWriter, body io.Reader) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := io.WriteString(w, RewriteEventLine(line)+"\n\n"); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("completion stream read: %v", err)
	}
}

// RewriteEventLine strips formatting from the text delta of a single SSE data
// line. Non-data lines, the [DONE] sentinel, and unparseable payloads are
// returned unchanged.
func RewriteEventLine(line string) string {
	if !strings.HasPrefix(line, "data: ") || line == doneSentinel {
		return line
	}
	var event map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line[len("data: "):]), &event); err != nil {
		return line
	}

	var choices []map[string]json.RawMessage
	if err := json.Unmarshal(event["choices"], &choices); err != nil || len(choices) == 0 {
		return line
	}
	var delta map[string]json.RawMessage
	if err := json.Unmarshal(choices[0]["delta"], &delta); err != nil {
		return line
	}
	var content string
	if err := json.Unmarshal(delta["content"], &content); err != nil || content == "" {
		return line
	}

	enc, err := json.Marshal(voice.StripMarkdown(content))
	if err != nil {
		return line
	}
	delta["content"] = enc
	if encDelta, err := json.Marshal(delta); err == nil {
		choices[0]["delta"] = encDelta
	}
	if encChoices, err := json.Marshal(choices); err == nil {
		event["choices"] = encChoices
	}
	out, err := json.Marshal(event)
	if err != nil {
		return line
	}
	return "data: " + string(out)
}

func (p *Proxy) countProxy(stream bool, outcome string) {
	if p.metrics == nil {
		return
	}
	mode := "single"
	if stream {
		mode = "stream"
	}
	p.metrics.ProxyRequests.WithLabelValues(mode, outcome).Inc()
}
