// Package httpapi exposes every HTTP surface of the bridge: health and
// metrics, the completions endpoint the speech agent calls back into, the
// carrier webhooks, the media stream websocket, and the local control API.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/deepclaw/internal/bridge"
	"github.com/ent0n29/deepclaw/internal/config"
	"github.com/ent0n29/deepclaw/internal/observability"
	"github.com/ent0n29/deepclaw/internal/openclaw"
	"github.com/ent0n29/deepclaw/internal/prompt"
	"github.com/ent0n29/deepclaw/internal/voice"
)

// Telephony is the slice of the carrier REST client the server needs.
// Nil when the carrier credentials are not configured.
type Telephony interface {
	PlaceCall() (string, error)
	SendSMS(body string) error
	Hangup(callSID string) error
	Owner(number string) bool
	ValidateWebhook(r *http.Request, form url.Values) bool
}

type Server struct {
	cfg        config.Config
	bridge     *bridge.Bridge
	proxy      http.Handler
	caller     Telephony
	contexts   *bridge.Contexts
	gateway    *openclaw.Client
	assembler  *prompt.Assembler
	preference *voice.Preference
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, b *bridge.Bridge, proxy http.Handler, caller Telephony, contexts *bridge.Contexts, gateway *openclaw.Client, assembler *prompt.Assembler, preference *voice.Preference, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		bridge:     b,
		proxy:      proxy,
		caller:     caller,
		contexts:   contexts,
		gateway:    gateway,
		assembler:  assembler,
		preference: preference,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The carrier's media stream client sends no browser Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat/completions", s.proxy.ServeHTTP)

	r.Get("/twilio/media", s.handleMediaStream)
	r.Post("/twilio/incoming", s.handleIncomingCall)
	r.Post("/twilio/sms", s.handleIncomingSMS)
	r.Post("/twilio/status", s.handleCallStatus)
	r.Post("/twilio/amd", s.handleMachineDetection)

	r.Post("/api/call", s.handlePlaceCall)
	r.Post("/api/sms", s.handleSendSMS)
	r.Get("/api/voice", s.handleListVoices)
	r.Post("/api/voice", s.handleSetVoice)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"telephony": s.caller != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.PublicURL == "" {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "PUBLIC_URL not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.bridge.Handle(conn)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
