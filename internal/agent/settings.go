// Package agent speaks the Deepgram Voice Agent websocket protocol: the
// initial Settings message, the closed set of server events the bridge reacts
// to, and the authenticated dialer.
package agent

// Settings is the first message sent on a freshly opened agent socket. The
// agent will not accept audio until it answers with SettingsApplied.
type Settings struct {
	Type  string      `json:"type"`
	Audio AudioConfig `json:"audio"`
	Agent AgentConfig `json:"agent"`
	Tags  []string    `json:"tags,omitempty"`
}

type AudioConfig struct {
	Input  AudioFormat `json:"input"`
	Output AudioFormat `json:"output"`
}

type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

type AgentConfig struct {
	Language string      `json:"language"`
	Listen   ListenBlock `json:"listen"`
	Think    ThinkBlock  `json:"think"`
	Speak    SpeakBlock  `json:"speak"`
	Greeting string      `json:"greeting,omitempty"`
}

type ListenBlock struct {
	Provider Provider `json:"provider"`
}

type ThinkBlock struct {
	Provider Provider       `json:"provider"`
	Endpoint *ThinkEndpoint `json:"endpoint,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
}

type ThinkEndpoint struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type SpeakBlock struct {
	Provider Provider `json:"provider"`
}

type Provider struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// phonePrompt is the agent-side prompt. Kept minimal: the real persona and
// policy blocks are injected by the completion proxy where they can be
// refreshed per turn, not frozen into the socket settings.
const phonePrompt = "You are on a phone call. Speak naturally and keep answers short. " +
	"Never use markdown, lists, or emojis."

// SettingsParams carries the per-call values baked into a Settings message.
type SettingsParams struct {
	ThinkURL   string
	SpeakModel string
	Greeting   string
}

// NewSettings builds the telephony Settings message: 8 kHz mu-law in and out
// (raw, no container) to match the carrier stream, with the think stage
// pointed at our own completions endpoint.
func NewSettings(p SettingsParams) Settings {
	greeting := p.Greeting
	if greeting == "" {
		greeting = "Hey! What's up?"
	}
	return Settings{
		Type: "Settings",
		Audio: AudioConfig{
			Input:  AudioFormat{Encoding: "mulaw", SampleRate: 8000},
			Output: AudioFormat{Encoding: "mulaw", SampleRate: 8000, Container: "none"},
		},
		Agent: AgentConfig{
			Language: "en",
			Listen: ListenBlock{
				Provider: Provider{Type: "deepgram", Model: "flux-general-en"},
			},
			Think: ThinkBlock{
				Provider: Provider{Type: "open_ai", Model: "gpt-4o-mini"},
				Endpoint: &ThinkEndpoint{URL: p.ThinkURL},
				Prompt:   phonePrompt,
			},
			Speak: SpeakBlock{
				Provider: Provider{Type: "deepgram", Model: p.SpeakModel},
			},
			Greeting: greeting,
		},
	}
}
