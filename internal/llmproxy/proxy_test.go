package llmproxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/deepclaw/internal/openclaw"
	"github.com/ent0n29/deepclaw/internal/prompt"
	"github.com/ent0n29/deepclaw/internal/registry"
)

type staticContext string

func (s staticContext) Active() string { return string(s) }

func newTestProxy(t *testing.T, backend http.HandlerFunc, ctx CallContext) (*Proxy, *registry.Registry) {
	t.Helper()
	ts := httptest.NewServer(backend)
	t.Cleanup(ts.Close)
	reg := registry.New()
	gw := openclaw.NewClient(ts.URL, "tok", 5*time.Second)
	assembler := prompt.NewAssembler(false, t.TempDir(), 1000, "", "")
	p := New(gw, reg, assembler, ctx, "openclaw/voice", nil)
	p.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }
	return p, reg
}

func TestProxyRewritesRequest(t *testing.T) {
	var got map[string]json.RawMessage
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		io.WriteString(w, `{"choices":[]}`)
	}, nil)

	body := `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}],"tools":[{"type":"function"}],"tool_choice":"auto"}`
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var model string
	_ = json.Unmarshal(got["model"], &model)
	if model != "openclaw/voice" {
		t.Errorf("model = %q, want forced voice model", model)
	}
	if _, ok := got["tools"]; ok {
		t.Errorf("tools not stripped")
	}
	if _, ok := got["tool_choice"]; ok {
		t.Errorf("tool_choice not stripped")
	}

	var msgs []prompt.Message
	if err := json.Unmarshal(got["messages"], &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	// behavior policy + time + caller turn
	if len(msgs) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(msgs))
	}
	if msgs[0].Role != "developer" || !strings.Contains(msgs[0].Content, "Voice behavior policy") {
		t.Errorf("messages[0] is not the injected behavior block: %+v", msgs[0])
	}
	if msgs[2].Role != "user" || msgs[2].Content != "hi" {
		t.Errorf("caller turn not preserved last: %+v", msgs[2])
	}
}

func TestProxyMalformedMessagesDegradeToEmpty(t *testing.T) {
	var got map[string]json.RawMessage
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		io.WriteString(w, `{"choices":[]}`)
	}, nil)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":"not a list"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var msgs []prompt.Message
	if err := json.Unmarshal(got["messages"], &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	for _, m := range msgs {
		if m.Role != "developer" {
			t.Errorf("unexpected non-injected message survived: %+v", m)
		}
	}
}

func TestProxySessionKeyResolution(t *testing.T) {
	var gotSession string
	p, reg := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		gotSession = r.Header.Get("X-OpenClaw-Session-Key")
		io.WriteString(w, `{"choices":[]}`)
	}, nil)

	reg.Register(registry.KeyCurrent, "session-current")
	reg.Register("tok-123", "session-token")

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions?call=tok-123", strings.NewReader(`{}`)))
	if gotSession != "session-token" {
		t.Errorf("session with token = %q, want session-token", gotSession)
	}

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions?call=unknown", strings.NewReader(`{}`)))
	if gotSession != "session-current" {
		t.Errorf("session with stale token = %q, want current fallback", gotSession)
	}

	reg.ReleaseAll("session-current")
	reg.ReleaseAll("session-token")
	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`)))
	if gotSession != "" {
		t.Errorf("session with empty registry = %q, want none", gotSession)
	}
}

func TestProxyInjectsCallContext(t *testing.T) {
	var got map[string]json.RawMessage
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		io.WriteString(w, `{"choices":[]}`)
	}, staticContext("remind about the dentist"))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`)))

	var msgs []prompt.Message
	_ = json.Unmarshal(got["messages"], &msgs)
	found := false
	for _, m := range msgs {
		if strings.Contains(m.Content, "remind about the dentist") {
			found = true
		}
	}
	if !found {
		t.Errorf("outbound call context not injected: %+v", msgs)
	}
}

func TestProxyStreamRewrite(t *testing.T) {
	backend := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"**Hi** there\"}}]}\n\n")
		io.WriteString(w, "data: not json at all\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}
	p, _ := newTestProxy(t, backend, nil)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"stream":true}`)))

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, `"content":"Hi there"`) {
		t.Errorf("delta content not cleaned:\n%s", out)
	}
	if !strings.Contains(out, "data: not json at all\n\n") {
		t.Errorf("unparseable line not passed through:\n%s", out)
	}
	if !strings.HasSuffix(out, "data: [DONE]\n\n") {
		t.Errorf("stream does not end with DONE sentinel:\n%s", out)
	}
	if idx := strings.Index(out, "Hi there"); idx > strings.Index(out, "not json") {
		t.Errorf("stream ordering not preserved:\n%s", out)
	}
}

func TestProxyNonStreamingRelaysVerbatim(t *testing.T) {
	const reply = `{"choices":[{"message":{"content":"**bold** stays"}}]}`
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, reply)
	}, nil)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`)))
	if rec.Body.String() != reply {
		t.Errorf("non-streaming body rewritten:\n%s", rec.Body.String())
	}
}

func TestProxyBackendUnreachable(t *testing.T) {
	reg := registry.New()
	gw := openclaw.NewClient("http://127.0.0.1:1", "tok", 200*time.Millisecond)
	p := New(gw, reg, prompt.NewAssembler(false, t.TempDir(), 1000, "", ""), nil, "m", nil)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestRewriteEventLine(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"done sentinel", "data: [DONE]", "data: [DONE]"},
		{"non data line", "event: ping", "event: ping"},
		{"garbage payload", "data: {broken", "data: {broken"},
		{"no choices", `data: {"choices":[]}`, `data: {"choices":[]}`},
		{"empty content", `data: {"choices":[{"delta":{"content":""}}]}`, `data: {"choices":[{"delta":{"content":""}}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RewriteEventLine(tc.in); got != tc.want {
				t.Errorf("RewriteEventLine(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}

	got := RewriteEventLine(`data: {"choices":[{"delta":{"content":"## Heading\n- item"}}]}`)
	var event struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(got, "data: ")), &event); err != nil {
		t.Fatalf("rewritten line not valid JSON: %v", err)
	}
	if c := event.Choices[0].Delta.Content; c != "Heading item" {
		t.Errorf("markdown survived rewrite: %q", c)
	}
}
