// Package prompt builds the developer-role context injected ahead of every
// turn the speech agent sends through the completion proxy. The persona and
// behavior blocks are stable across a call so the backend's prompt cache
// stays hot; the clock and call-context blocks vary per request and come
// last.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const TruncationMarker = "\n\n[PERSONA TRUNCATED]"

// Message is one role-tagged context block.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Assembler builds injected prompt prefixes from workspace documents and
// runtime state.
type Assembler struct {
	personaEnabled  bool
	workspace       string
	personaMaxChars int
	controlToken    string
	controlPort     string
}

func NewAssembler(personaEnabled bool, workspace string, personaMaxChars int, controlToken, controlPort string) *Assembler {
	return &Assembler{
		personaEnabled:  personaEnabled,
		workspace:       workspace,
		personaMaxChars: personaMaxChars,
		controlToken:    controlToken,
		controlPort:     controlPort,
	}
}

// personaSections are read in priority order; each contributes a labeled
// chunk when present and non-empty.
var personaSections = []struct {
	file  string
	label string
}{
	{"SOUL.md", "SOUL"},
	{"IDENTITY.md", "IDENTITY"},
	{"USER.md", "USER"},
}

// Persona concatenates the workspace persona documents, truncated as a whole
// to the configured size cap. Returns "" when disabled or no documents exist.
func (a *Assembler) Persona() string {
	if !a.personaEnabled {
		return ""
	}
	workspace := a.workspace
	if workspace == "" {
		workspace = "~/.openclaw/workspace"
	}
	workspace = expandHome(workspace)

	var chunks []string
	for _, s := range personaSections {
		content := readWorkspaceFile(workspace, s.file)
		if content != "" {
			chunks = append(chunks, fmt.Sprintf("[%s] (%s)\n%s", s.label, s.file, content))
		}
	}
	if len(chunks) == 0 {
		return ""
	}

	out := "Use this as the canonical OpenClaw personality and relationship context.\n" +
		"Prioritize these sections in order, while staying concise for voice.\n\n" +
		strings.Join(chunks, "\n\n")
	if len(out) > a.personaMaxChars {
		out = strings.TrimRight(out[:a.personaMaxChars], " \t\n") + TruncationMarker
	}
	return out
}

// BehaviorPolicy returns the fixed voice conduct block, extended with control
// API instructions when a control token is configured.
func (a *Assembler) BehaviorPolicy() string {
	var b strings.Builder
	b.WriteString("Voice behavior policy:\n" +
		"- Speak naturally in plain sentences without markdown, bullets, or emojis.\n" +
		"- Keep responses concise unless the caller asks for more detail.\n" +
		"- If an operation may take longer than 2 seconds (2s), give a brief heads-up first.\n" +
		"- If an operation may take more than 6 seconds or has side effects, ask for confirmation before running it.\n" +
		"- Prefer short progress updates instead of long step-by-step narration.\n" +
		"- When your response contains URLs, addresses, phone numbers, code snippets, " +
		"lists, or other structured data that is hard to convey by voice, or a very long " +
		"response with lots of details, say \"I'll text that to you\" and immediately " +
		"send it via the SMS control API (POST /api/sms) so the caller has a written copy. " +
		"Keep the spoken summary brief.")

	if a.controlToken != "" {
		port := a.controlPort
		if port == "" {
			port = "8000"
		}
		b.WriteString("\n\nLocal control API (deepclaw):\n")
		fmt.Fprintf(&b, "You can place an outbound phone call to the owner by running:\n"+
			"  curl -s -X POST http://127.0.0.1:%s/api/call "+
			"-H \"Authorization: Bearer %s\" -H \"Content-Type: application/json\"\n", port, a.controlToken)
		fmt.Fprintf(&b, "Always include a context field in the /api/call body describing why you are calling.\n")
		fmt.Fprintf(&b, "You can send an outbound SMS to the owner by running:\n"+
			"  curl -s -X POST http://127.0.0.1:%s/api/sms "+
			"-H \"Authorization: Bearer %s\" -H \"Content-Type: application/json\" "+
			"-d '{\"message\": \"your message here\"}'\n", port, a.controlToken)
		b.WriteString("\nVoice selection:\n" +
			"When the caller asks to change your voice, accent, or how you sound, " +
			"YOU CAN DO IT. Use the voice API below. Do not say it's a system setting " +
			"or that you can't.\n" +
			"First GET the catalog to pick the right voice, then POST to set it.\n")
		fmt.Fprintf(&b, "To list available voices:\n"+
			"  curl -s http://127.0.0.1:%s/api/voice -H \"Authorization: Bearer %s\"\n", port, a.controlToken)
		fmt.Fprintf(&b, "To change the voice:\n"+
			"  curl -s -X POST http://127.0.0.1:%s/api/voice "+
			"-H \"Authorization: Bearer %s\" -H \"Content-Type: application/json\" "+
			"-d '{\"voice\": \"<name or model id>\"}'\n", port, a.controlToken)
		b.WriteString("Tell the caller you've updated the voice and it will take effect on the next call.\n" +
			"\nScheduling reminders and future calls:\n" +
			"Use the cron tool to schedule calls or texts at a future time, computing the " +
			"timestamp from the Current UTC time message. For a one-shot reminder, schedule " +
			"an isolated agent turn that runs the /api/call or /api/sms curl command above.")
	}
	return b.String()
}

// CurrentTime returns the per-request clock block. Its own message so the
// static prefix ahead of it stays byte-identical between requests.
func (a *Assembler) CurrentTime(now time.Time) string {
	return "Current UTC time: " + now.UTC().Format("2006-01-02T15:04:05Z")
}

// Messages assembles the full injected prefix in order: persona, behavior
// policy, current time, and (for outbound calls) the call context.
func (a *Assembler) Messages(now time.Time, callContext string) []Message {
	var msgs []Message
	if persona := a.Persona(); persona != "" {
		msgs = append(msgs, Message{Role: "developer", Content: persona})
	}
	msgs = append(msgs, Message{Role: "developer", Content: a.BehaviorPolicy()})
	msgs = append(msgs, Message{Role: "developer", Content: a.CurrentTime(now)})
	if callContext != "" {
		msgs = append(msgs, Message{
			Role:    "developer",
			Content: "You are on an outbound call you initiated. Reason: " + callContext,
		})
	}
	return msgs
}

func readWorkspaceFile(workspace, name string) string {
	raw, err := os.ReadFile(filepath.Join(workspace, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
