// Package bridge relays audio between a carrier media stream and the cloud
// voice agent for the lifetime of one call.
//
// Goroutine layout per call, honoring the one-reader one-writer rule on each
// websocket:
//
//	inbound loop (Handle)  reads the carrier socket, queues caller audio
//	sender                 sole agent writer: Settings, then queued audio
//	receiver               sole agent reader and sole carrier writer:
//	                       plays agent audio, clears on barge-in
package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/deepclaw/internal/agent"
	"github.com/ent0n29/deepclaw/internal/history"
	"github.com/ent0n29/deepclaw/internal/observability"
	"github.com/ent0n29/deepclaw/internal/openclaw"
	"github.com/ent0n29/deepclaw/internal/prompt"
	"github.com/ent0n29/deepclaw/internal/registry"
	"github.com/ent0n29/deepclaw/internal/telephony"
	"github.com/ent0n29/deepclaw/internal/voice"
)

// frameQueueSize bounds caller audio buffered toward the agent. At 20 ms per
// frame this is roughly ten seconds; past that the agent connection is not
// keeping up and dropping fresh frames beats unbounded growth.
const frameQueueSize = 512

const startTimeout = 15 * time.Second

// Options wires a Bridge. All fields are required except Greeting.
type Options struct {
	Dialer       *agent.Dialer
	Registry     *registry.Registry
	Metrics      *observability.Metrics
	History      history.Store
	Preference   *voice.Preference
	Assembler    *prompt.Assembler
	Gateway      *openclaw.Client
	Contexts     *Contexts
	PublicURL    string
	OwnerPhone   string
	GatewayModel string
	Greeting     string
}

// Bridge accepts carrier media stream connections and runs one relay per call.
type Bridge struct {
	opts Options
}

func New(opts Options) *Bridge {
	return &Bridge{opts: opts}
}

// Handle runs the full lifecycle of one media stream connection. It returns
// when the call is over; the caller owns the HTTP upgrade, the bridge owns
// the socket from here.
func (b *Bridge) Handle(telConn *websocket.Conn) {
	start, err := b.awaitStart(telConn)
	if err != nil {
		log.Printf("media stream ended before start: %v", err)
		telConn.Close()
		return
	}

	c := &call{
		bridge:    b,
		telConn:   telConn,
		streamSID: start.StreamSID,
		callSID:   start.CallSID,
		frames:    make(chan []byte, frameQueueSize),
		done:      make(chan struct{}),
	}
	c.run()
}

// awaitStart consumes handshake events until the start event arrives.
func (b *Bridge) awaitStart(telConn *websocket.Conn) (telephony.StreamStart, error) {
	deadline := time.Now().Add(startTimeout)
	for {
		if err := telConn.SetReadDeadline(deadline); err != nil {
			return telephony.StreamStart{}, err
		}
		_, raw, err := telConn.ReadMessage()
		if err != nil {
			return telephony.StreamStart{}, err
		}
		ev, err := telephony.ParseStreamEvent(raw)
		if err != nil {
			log.Printf("skipping undecodable pre-start event: %v", err)
			continue
		}
		switch ev := ev.(type) {
		case telephony.StreamStart:
			telConn.SetReadDeadline(time.Time{})
			return ev, nil
		case telephony.Connected:
			continue
		case telephony.StreamStop:
			return telephony.StreamStart{}, fmt.Errorf("stream stopped before start")
		default:
			continue
		}
	}
}

// call is the per-call state shared by the three relay goroutines.
type call struct {
	bridge *Bridge

	telConn   *websocket.Conn
	agentConn *websocket.Conn
	streamSID string
	callSID   string

	sessionKey string
	token      string

	frames        chan []byte
	done          chan struct{}
	stop          sync.Once
	prewarmCancel context.CancelFunc
}

func (c *call) run() {
	b := c.bridge
	m := b.opts.Metrics

	c.sessionKey = "agent:voice:owner:" + b.opts.OwnerPhone
	if b.opts.OwnerPhone == "" {
		c.sessionKey = "agent:voice:call:" + c.callSID
	}
	c.token = uuid.NewString()
	thinkURL := b.opts.PublicURL + "/v1/chat/completions?call=" + c.token

	// Three keys point at this call: the unique token embedded in the think
	// endpoint, the bare endpoint URL for agents that strip the query, and
	// the current slot as the last-resort fallback.
	b.opts.Registry.Register(c.token, c.sessionKey)
	b.opts.Registry.Register(b.opts.PublicURL+"/v1/chat/completions", c.sessionKey)
	b.opts.Registry.Register(registry.KeyCurrent, c.sessionKey)

	reason := b.opts.Contexts.Activate(c.callSID)
	m.ActiveCalls.Inc()
	m.CallEvents.WithLabelValues("start").Inc()
	log.Printf("call started sid=%s stream=%s outbound_reason=%q", c.callSID, c.streamSID, reason)
	defer c.teardown()

	// Warm the gateway session while the agent socket dials. The result is
	// discarded either way; teardown aborts the request if the call ends
	// before it completes.
	prewarmCtx, prewarmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	c.prewarmCancel = prewarmCancel
	go c.prewarm(prewarmCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	agentConn, err := b.opts.Dialer.Dial(ctx)
	cancel()
	if err != nil {
		log.Printf("call %s: %v", c.callSID, err)
		m.CallEvents.WithLabelValues("agent_dial_failed").Inc()
		return
	}
	c.agentConn = agentConn

	speakModel := b.opts.Preference.Read()
	settings := agent.NewSettings(agent.SettingsParams{
		ThinkURL:   thinkURL,
		SpeakModel: speakModel,
		Greeting:   b.opts.Greeting,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.sender(settings)
	}()
	go func() {
		defer wg.Done()
		c.receiver()
	}()

	c.inbound()
	c.teardown()
	wg.Wait()
}

// inbound is the sole carrier reader. It queues caller audio and exits on
// stop or socket error.
func (c *call) inbound() {
	m := c.bridge.opts.Metrics
	for {
		_, raw, err := c.telConn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("call %s: carrier read: %v", c.callSID, err)
			}
			return
		}
		ev, err := c.parseInbound(raw)
		if err != nil {
			log.Printf("call %s: %v", c.callSID, err)
			continue
		}
		switch ev := ev.(type) {
		case telephony.MediaFrame:
			select {
			case c.frames <- ev.Payload:
				m.MediaFrames.WithLabelValues("inbound").Inc()
			default:
				m.DroppedFrames.Inc()
			}
		case telephony.StreamStop:
			m.CallEvents.WithLabelValues("stop").Inc()
			return
		case telephony.DTMF:
			log.Printf("call %s: dtmf digit=%s", c.callSID, ev.Digit)
		default:
		}
	}
}

func (c *call) parseInbound(raw []byte) (telephony.StreamEvent, error) {
	ev, err := telephony.ParseStreamEvent(raw)
	if err != nil {
		return nil, fmt.Errorf("parse carrier event: %w", err)
	}
	return ev, nil
}

// sender is the sole agent writer: Settings first, then queued caller audio.
func (c *call) sender(settings agent.Settings) {
	if err := c.agentConn.WriteJSON(settings); err != nil {
		log.Printf("call %s: send settings: %v", c.callSID, err)
		c.teardown()
		return
	}
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.frames:
			if err := c.agentConn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				select {
				case <-c.done:
				default:
					log.Printf("call %s: agent write: %v", c.callSID, err)
				}
				c.teardown()
				return
			}
		}
	}
}

// receiver is the sole agent reader and sole carrier writer. Running clears
// and playback on one goroutine guarantees a barge-in clear is on the wire
// before any audio that follows it.
func (c *call) receiver() {
	m := c.bridge.opts.Metrics
	for {
		msgType, raw, err := c.agentConn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("call %s: agent read: %v", c.callSID, err)
			}
			c.teardown()
			return
		}

		if msgType == websocket.BinaryMessage {
			out, err := telephony.OutboundMedia(c.streamSID, raw)
			if err != nil {
				log.Printf("call %s: frame playback: %v", c.callSID, err)
				continue
			}
			if err := c.telConn.WriteMessage(websocket.TextMessage, out); err != nil {
				c.teardown()
				return
			}
			m.MediaFrames.WithLabelValues("outbound").Inc()
			continue
		}

		ev, err := agent.ParseEvent(raw)
		if err != nil {
			log.Printf("call %s: %v", c.callSID, err)
			continue
		}
		switch ev := ev.(type) {
		case agent.UserStartedSpeaking:
			m.BargeIns.Inc()
			clearMsg, err := telephony.OutboundClear(c.streamSID)
			if err == nil {
				if err := c.telConn.WriteMessage(websocket.TextMessage, clearMsg); err != nil {
					c.teardown()
					return
				}
			}
		case agent.ConversationText:
			c.saveUtterance(ev)
		case agent.Welcome:
			log.Printf("call %s: agent session %s", c.callSID, ev.RequestID)
		case agent.SettingsApplied:
			log.Printf("call %s: agent settings applied", c.callSID)
		case agent.AgentStartedSpeaking:
			log.Printf("call %s: agent started speaking", c.callSID)
		case agent.AgentError:
			log.Printf("call %s: agent error %s: %s", c.callSID, ev.Code, ev.Description)
			m.CallEvents.WithLabelValues("agent_error").Inc()
		default:
		}
	}
}

func (c *call) saveUtterance(ev agent.ConversationText) {
	store := c.bridge.opts.History
	if store == nil {
		return
	}
	// Off the receiver goroutine so a slow store never stalls playback.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := store.SaveUtterance(ctx, history.Utterance{
			CallSID: c.callSID,
			Role:    ev.Role,
			Content: ev.Content,
		})
		if err != nil {
			log.Printf("call %s: save transcript: %v", c.callSID, err)
		}
	}()
}

// prewarm creates the gateway session ahead of the agent's first think
// request, using the same injected prefix the proxy will send so the prompt
// cache lines up. The result is deliberately discarded; ctx is canceled by
// teardown so a warm-up never outlives its call.
func (c *call) prewarm(ctx context.Context) {
	b := c.bridge
	if b.opts.Gateway == nil {
		return
	}
	prefix := b.opts.Assembler.Messages(time.Now(), b.opts.Contexts.Active())
	if err := b.opts.Gateway.Prewarm(ctx, b.opts.GatewayModel, c.sessionKey, prefix); err != nil {
		if ctx.Err() != nil {
			b.opts.Metrics.PrewarmTotal.WithLabelValues("canceled").Inc()
			return
		}
		b.opts.Metrics.PrewarmTotal.WithLabelValues("error").Inc()
		log.Printf("call %s: prewarm: %v", c.callSID, err)
		return
	}
	b.opts.Metrics.PrewarmTotal.WithLabelValues("ok").Inc()
}

// teardown is idempotent: whichever goroutine hits a terminal condition first
// wins, the rest unblock via the closed sockets and done channel.
func (c *call) teardown() {
	c.stop.Do(func() {
		close(c.done)
		if c.prewarmCancel != nil {
			c.prewarmCancel()
		}
		c.telConn.Close()
		if c.agentConn != nil {
			c.agentConn.Close()
		}
		removed := c.bridge.opts.Registry.ReleaseAll(c.sessionKey)
		c.bridge.opts.Contexts.Clear(c.callSID)
		m := c.bridge.opts.Metrics
		m.ActiveCalls.Dec()
		m.CallEvents.WithLabelValues("end").Inc()
		log.Printf("call ended sid=%s registry_released=%d", c.callSID, removed)
	})
}
