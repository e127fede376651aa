package agent

import (
	"encoding/json"
	"testing"
)

func TestNewSettingsShape(t *testing.T) {
	s := NewSettings(SettingsParams{
		ThinkURL:   "https://example.org/v1/chat/completions?call=tok",
		SpeakModel: "aura-2-thalia-en",
	})

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded["type"] != "Settings" {
		t.Errorf("type = %v", decoded["type"])
	}
	audio := decoded["audio"].(map[string]any)
	in := audio["input"].(map[string]any)
	out := audio["output"].(map[string]any)
	if in["encoding"] != "mulaw" || in["sample_rate"] != float64(8000) {
		t.Errorf("input format = %v", in)
	}
	if out["container"] != "none" {
		t.Errorf("output container = %v, want none", out["container"])
	}
	if _, ok := in["container"]; ok {
		t.Errorf("input container should be omitted")
	}

	ag := decoded["agent"].(map[string]any)
	think := ag["think"].(map[string]any)
	endpoint := think["endpoint"].(map[string]any)
	if endpoint["url"] != "https://example.org/v1/chat/completions?call=tok" {
		t.Errorf("think endpoint = %v", endpoint["url"])
	}
	speak := ag["speak"].(map[string]any)
	provider := speak["provider"].(map[string]any)
	if provider["model"] != "aura-2-thalia-en" {
		t.Errorf("speak model = %v", provider["model"])
	}
	if ag["greeting"] != "Hey! What's up?" {
		t.Errorf("default greeting = %v", ag["greeting"])
	}
}

func TestParseEvent(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Event
	}{
		{"welcome", `{"type":"Welcome","request_id":"req-1"}`, Welcome{RequestID: "req-1"}},
		{"settings applied", `{"type":"SettingsApplied"}`, SettingsApplied{}},
		{"barge in", `{"type":"UserStartedSpeaking"}`, UserStartedSpeaking{}},
		{"agent speaking", `{"type":"AgentStartedSpeaking"}`, AgentStartedSpeaking{}},
		{"transcript", `{"type":"ConversationText","role":"user","content":"hi"}`, ConversationText{Role: "user", Content: "hi"}},
		{"error", `{"type":"Error","code":"E1","description":"boom"}`, AgentError{Code: "E1", Description: "boom"}},
		{"unknown", `{"type":"AgentAudioDone"}`, Unknown{Type: "AgentAudioDone"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseEvent([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("ParseEvent() = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestParseEventRejectsGarbage(t *testing.T) {
	if _, err := ParseEvent([]byte("not json")); err == nil {
		t.Fatal("ParseEvent should fail on malformed frames")
	}
}
