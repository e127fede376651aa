package httpapi

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/deepclaw/internal/prompt"
	"github.com/ent0n29/deepclaw/internal/telephony"
)

// twilioForm validates the webhook signature and returns the parsed form.
// Returns false after writing the rejection when the request is not genuine.
func (s *Server) twilioForm(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return nil, false
	}
	if s.cfg.TwilioValidateSignature {
		if s.caller == nil || !s.caller.ValidateWebhook(r, r.PostForm) {
			s.metrics.ControlErrors.WithLabelValues("bad_signature").Inc()
			respondError(w, http.StatusForbidden, "invalid_signature", "signature validation failed")
			return nil, false
		}
	}
	form := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			form[k] = v[0]
		}
	}
	return form, true
}

// handleIncomingCall answers the voice webhook. Only the owner's number gets
// bridged; everyone else is rejected without ringing the agent.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	form, ok := s.twilioForm(w, r)
	if !ok {
		return
	}
	from := form["From"]
	if s.caller == nil || !s.caller.Owner(from) {
		log.Printf("rejecting inbound call from %q", from)
		s.metrics.CallEvents.WithLabelValues("rejected").Inc()
		respondTwiML(w, telephony.RejectTwiML())
		return
	}
	s.metrics.CallEvents.WithLabelValues("inbound").Inc()
	respondTwiML(w, telephony.ConnectTwiML(s.cfg.PublicURL))
}

// handleIncomingSMS acknowledges immediately and answers the owner's text
// through the gateway in the background. The carrier webhook times out in
// seconds, far less than a model turn.
func (s *Server) handleIncomingSMS(w http.ResponseWriter, r *http.Request) {
	form, ok := s.twilioForm(w, r)
	if !ok {
		return
	}
	from := form["From"]
	body := strings.TrimSpace(form["Body"])
	if s.caller == nil || !s.caller.Owner(from) || body == "" {
		respondTwiML(w, "<Response/>")
		return
	}

	go s.replySMS(body)
	respondTwiML(w, "<Response/>")
}

func (s *Server) replySMS(body string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GatewayTimeout)
	defer cancel()

	// Same session key as voice calls, so a text thread continues the
	// conversation the owner was just having on the phone.
	sessionKey := "agent:voice:owner:" + s.cfg.OwnerPhone
	messages := append(
		s.assembler.Messages(time.Now(), ""),
		prompt.Message{Role: "user", Content: body},
	)
	reply, err := s.gateway.CompleteText(ctx, s.cfg.SMSModel, sessionKey, messages)
	if err != nil {
		log.Printf("sms reply: %v", err)
		return
	}
	if reply == "" {
		return
	}
	if err := s.caller.SendSMS(reply); err != nil {
		log.Printf("sms reply: %v", err)
	}
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	form, ok := s.twilioForm(w, r)
	if !ok {
		return
	}
	status := form["CallStatus"]
	log.Printf("call %s status=%s", form["CallSid"], status)
	if status != "" {
		s.metrics.CallEvents.WithLabelValues("status_" + status).Inc()
	}
	// Failed outbound dials never open a media stream, so their context
	// would otherwise leak into the next call.
	switch status {
	case "busy", "no-answer", "failed", "canceled":
		s.contexts.Clear(form["CallSid"])
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMachineDetection hangs up outbound calls that voicemail answered.
func (s *Server) handleMachineDetection(w http.ResponseWriter, r *http.Request) {
	form, ok := s.twilioForm(w, r)
	if !ok {
		return
	}
	answeredBy := form["AnsweredBy"]
	callSID := form["CallSid"]
	log.Printf("call %s answered_by=%s", callSID, answeredBy)
	if strings.HasPrefix(answeredBy, "machine_") && s.caller != nil && callSID != "" {
		s.metrics.CallEvents.WithLabelValues("machine_hangup").Inc()
		if err := s.caller.Hangup(callSID); err != nil {
			log.Printf("machine hangup: %v", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
