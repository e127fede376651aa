package httpapi

import (
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/ent0n29/deepclaw/internal/voice"
)

// authorizeControl gates the /api surface: bearer token match, optionally
// restricted to loopback callers. Rejections happen before any stateful work.
func (s *Server) authorizeControl(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.ControlAPIToken == "" {
		s.metrics.ControlErrors.WithLabelValues("disabled").Inc()
		respondError(w, http.StatusNotImplemented, "control_disabled", "CONTROL_API_TOKEN not configured")
		return false
	}
	if s.cfg.ControlLocalhostOnly && !isLoopback(r.RemoteAddr) {
		s.metrics.ControlErrors.WithLabelValues("remote_addr").Inc()
		respondError(w, http.StatusForbidden, "forbidden", "control API is localhost-only")
		return false
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.ControlAPIToken {
		s.metrics.ControlErrors.WithLabelValues("bad_token").Inc()
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid control token")
		return false
	}
	return true
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type placeCallRequest struct {
	Context string `json:"context"`
}

// handlePlaceCall dials the owner. The context field records why the agent is
// calling and is injected into the first prompt of the resulting call.
func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeControl(w, r) {
		return
	}
	if s.caller == nil {
		respondError(w, http.StatusNotImplemented, "telephony_disabled", "carrier credentials not configured")
		return
	}
	var req placeCallRequest
	if err := decodeJSON(r, &req); err != nil && err != errEmptyBody {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	callSID, err := s.caller.PlaceCall()
	if err != nil {
		log.Printf("place call: %v", err)
		respondError(w, http.StatusBadGateway, "call_failed", err.Error())
		return
	}
	s.contexts.Add(callSID, strings.TrimSpace(req.Context))
	s.metrics.CallEvents.WithLabelValues("outbound").Inc()
	respondJSON(w, http.StatusOK, map[string]string{"call_sid": callSID})
}

type sendSMSRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSendSMS(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeControl(w, r) {
		return
	}
	if s.caller == nil {
		respondError(w, http.StatusNotImplemented, "telephony_disabled", "carrier credentials not configured")
		return
	}
	var req sendSMSRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	if err := s.caller.SendSMS(req.Message); err != nil {
		log.Printf("send sms: %v", err)
		respondError(w, http.StatusBadGateway, "sms_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeControl(w, r) {
		return
	}
	current := s.preference.Read()
	respondJSON(w, http.StatusOK, map[string]any{
		"current":      current,
		"current_name": voice.NameForModel(current),
		"voices":       voice.Catalog,
	})
}

type setVoiceRequest struct {
	Voice string `json:"voice"`
}

// handleSetVoice resolves a name, model id, or free-text description and
// persists the choice. It takes effect on the next call.
func (s *Server) handleSetVoice(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeControl(w, r) {
		return
	}
	var req setVoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	model, ok := voice.Resolve(req.Voice)
	if !ok {
		respondError(w, http.StatusNotFound, "voice_not_found", "no voice matches "+req.Voice)
		return
	}
	if err := s.preference.Write(model); err != nil {
		log.Printf("save voice preference: %v", err)
		respondError(w, http.StatusInternalServerError, "save_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"voice": model,
		"name":  voice.NameForModel(model),
	})
}
