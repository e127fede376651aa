package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/deepclaw/internal/bridge"
	"github.com/ent0n29/deepclaw/internal/config"
	"github.com/ent0n29/deepclaw/internal/observability"
	"github.com/ent0n29/deepclaw/internal/openclaw"
	"github.com/ent0n29/deepclaw/internal/prompt"
	"github.com/ent0n29/deepclaw/internal/voice"
)

var testMetrics = observability.NewMetrics("httpapitest")

type fakeCaller struct {
	mu        sync.Mutex
	callSID   string
	callErr   error
	sms       []string
	hungUp    []string
	owner     string
	validSigs bool
}

func (f *fakeCaller) PlaceCall() (string, error) { return f.callSID, f.callErr }

func (f *fakeCaller) SendSMS(body string) error {
	f.mu.Lock()
	f.sms = append(f.sms, body)
	f.mu.Unlock()
	return nil
}

func (f *fakeCaller) Hangup(callSID string) error {
	f.mu.Lock()
	f.hungUp = append(f.hungUp, callSID)
	f.mu.Unlock()
	return nil
}

func (f *fakeCaller) Owner(number string) bool { return number == f.owner }

func (f *fakeCaller) ValidateWebhook(_ *http.Request, _ url.Values) bool { return f.validSigs }

func (f *fakeCaller) sentSMS() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sms...)
}

type serverFixture struct {
	server          *Server
	router          http.Handler
	caller          *fakeCaller
	contexts        *bridge.Contexts
	pref            *voice.Preference
	gatewaySessions chan string
}

func newServer(t *testing.T, mutate func(*config.Config)) *serverFixture {
	t.Helper()
	gatewaySessions := make(chan string, 4)
	gatewaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gatewaySessions <- r.Header.Get("X-OpenClaw-Session-Key")
		io.WriteString(w, `{"choices":[{"message":{"content":"gateway reply"}}]}`)
	}))
	t.Cleanup(gatewaySrv.Close)

	cfg := config.Config{
		PublicURL:               "https://voice.example.org",
		OwnerPhone:              "+15551234567",
		ControlAPIToken:         "ctl-token",
		ControlLocalhostOnly:    true,
		TwilioValidateSignature: false,
		GatewayTimeout:          5 * time.Second,
		SMSModel:                "openclaw/voice",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f := &serverFixture{
		caller:          &fakeCaller{callSID: "CA-new", owner: "+15551234567", validSigs: true},
		contexts:        bridge.NewContexts(),
		pref:            voice.NewPreference(t.TempDir(), "aura-2-thalia-en"),
		gatewaySessions: gatewaySessions,
	}
	proxy := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"proxied":true}`)
	})
	gateway := openclaw.NewClient(gatewaySrv.URL, "tok", 5*time.Second)
	assembler := prompt.NewAssembler(false, t.TempDir(), 1000, "", "")
	f.server = New(cfg, nil, proxy, f.caller, f.contexts, gateway, assembler, f.pref, testMetrics)
	f.router = f.server.Router()
	return f
}

func doLocal(router http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:54321"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func ctlAuth() map[string]string {
	return map[string]string{"Authorization": "Bearer ctl-token", "Content-Type": "application/json"}
}

func formHeader() map[string]string {
	return map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
}

func TestHealthz(t *testing.T) {
	f := newServer(t, nil)
	rec := doLocal(f.router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["telephony"] != true {
		t.Errorf("health body = %v", body)
	}
}

func TestCompletionsRouteHitsProxy(t *testing.T) {
	f := newServer(t, nil)
	rec := doLocal(f.router, http.MethodPost, "/v1/chat/completions", "{}", nil)
	if !strings.Contains(rec.Body.String(), `"proxied":true`) {
		t.Errorf("proxy not wired: %s", rec.Body.String())
	}
}

func TestControlAuth(t *testing.T) {
	f := newServer(t, nil)

	rec := doLocal(f.router, http.MethodPost, "/api/sms", `{"message":"x"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rec.Code)
	}

	rec = doLocal(f.router, http.MethodPost, "/api/sms", `{"message":"x"}`,
		map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sms", strings.NewReader(`{"message":"x"}`))
	req.RemoteAddr = "203.0.113.9:1000"
	req.Header.Set("Authorization", "Bearer ctl-token")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("remote caller status = %d, want 403", rec.Code)
	}
	if len(f.caller.sentSMS()) != 0 {
		t.Errorf("rejected requests reached the carrier")
	}

	noToken := newServer(t, func(c *config.Config) { c.ControlAPIToken = "" })
	rec = doLocal(noToken.router, http.MethodPost, "/api/sms", `{"message":"x"}`, ctlAuth())
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("disabled control status = %d, want 501", rec.Code)
	}
}

func TestPlaceCallRecordsContext(t *testing.T) {
	f := newServer(t, nil)
	rec := doLocal(f.router, http.MethodPost, "/api/call", `{"context":"remind about the dentist"}`, ctlAuth())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["call_sid"] != "CA-new" {
		t.Errorf("call_sid = %q", body["call_sid"])
	}
	if got := f.contexts.Activate("CA-new"); got != "remind about the dentist" {
		t.Errorf("stored context = %q", got)
	}
}

func TestSendSMS(t *testing.T) {
	f := newServer(t, nil)
	rec := doLocal(f.router, http.MethodPost, "/api/sms", `{"message":"pick up milk"}`, ctlAuth())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if sms := f.caller.sentSMS(); len(sms) != 1 || sms[0] != "pick up milk" {
		t.Errorf("sent = %v", sms)
	}

	rec = doLocal(f.router, http.MethodPost, "/api/sms", `{"message":"  "}`, ctlAuth())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank message status = %d, want 400", rec.Code)
	}
}

func TestVoiceControl(t *testing.T) {
	f := newServer(t, nil)

	rec := doLocal(f.router, http.MethodGet, "/api/voice", "", ctlAuth())
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Current string             `json:"current"`
		Voices  []voice.Descriptor `json:"voices"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if list.Current != "aura-2-thalia-en" || len(list.Voices) == 0 {
		t.Errorf("catalog = current %q, %d voices", list.Current, len(list.Voices))
	}

	rec = doLocal(f.router, http.MethodPost, "/api/voice", `{"voice":"male british"}`, ctlAuth())
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.pref.Read(); got != "aura-2-draco-en" {
		t.Errorf("persisted voice = %q", got)
	}

	rec = doLocal(f.router, http.MethodPost, "/api/voice", `{"voice":"xyzzy"}`, ctlAuth())
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown voice status = %d, want 404", rec.Code)
	}
}

func TestIncomingCallOwnerOnly(t *testing.T) {
	f := newServer(t, nil)

	form := url.Values{"From": {"+15551234567"}, "CallSid": {"CA1"}}
	rec := doLocal(f.router, http.MethodPost, "/twilio/incoming", form.Encode(), formHeader())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `wss://voice.example.org/twilio/media`) {
		t.Errorf("owner call not bridged:\n%s", rec.Body.String())
	}

	form = url.Values{"From": {"+15559990000"}}
	rec = doLocal(f.router, http.MethodPost, "/twilio/incoming", form.Encode(), formHeader())
	if !strings.Contains(rec.Body.String(), "<Reject") {
		t.Errorf("stranger call not rejected:\n%s", rec.Body.String())
	}
}

func TestIncomingCallBadSignature(t *testing.T) {
	f := newServer(t, func(c *config.Config) { c.TwilioValidateSignature = true })
	f.caller.validSigs = false

	form := url.Values{"From": {"+15551234567"}}
	rec := doLocal(f.router, http.MethodPost, "/twilio/incoming", form.Encode(), formHeader())
	if rec.Code != http.StatusForbidden {
		t.Errorf("forged webhook status = %d, want 403", rec.Code)
	}
}

func TestIncomingSMSRepliesToOwner(t *testing.T) {
	f := newServer(t, nil)

	form := url.Values{"From": {"+15551234567"}, "Body": {"how are you"}}
	rec := doLocal(f.router, http.MethodPost, "/twilio/sms", form.Encode(), formHeader())
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<Response/>") {
		t.Fatalf("ack = %d %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.caller.sentSMS()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sms := f.caller.sentSMS(); len(sms) != 1 || sms[0] != "gateway reply" {
		t.Fatalf("reply sms = %v", sms)
	}
	// Texts continue the same gateway conversation as voice calls.
	select {
	case session := <-f.gatewaySessions:
		if session != "agent:voice:owner:+15551234567" {
			t.Errorf("gateway session for sms reply = %q", session)
		}
	default:
		t.Errorf("gateway never saw the sms turn")
	}

	form = url.Values{"From": {"+15550001111"}, "Body": {"hello"}}
	_ = doLocal(f.router, http.MethodPost, "/twilio/sms", form.Encode(), formHeader())
	time.Sleep(100 * time.Millisecond)
	if sms := f.caller.sentSMS(); len(sms) != 1 {
		t.Errorf("stranger sms answered: %v", sms)
	}
}

func TestMachineDetectionHangsUp(t *testing.T) {
	f := newServer(t, nil)

	form := url.Values{"CallSid": {"CA9"}, "AnsweredBy": {"machine_start"}}
	rec := doLocal(f.router, http.MethodPost, "/twilio/amd", form.Encode(), formHeader())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(f.caller.hungUp) != 1 || f.caller.hungUp[0] != "CA9" {
		t.Errorf("hung up = %v", f.caller.hungUp)
	}

	form = url.Values{"CallSid": {"CA10"}, "AnsweredBy": {"human"}}
	_ = doLocal(f.router, http.MethodPost, "/twilio/amd", form.Encode(), formHeader())
	if len(f.caller.hungUp) != 1 {
		t.Errorf("human answer hung up: %v", f.caller.hungUp)
	}
}

func TestCallStatusClearsFailedContext(t *testing.T) {
	f := newServer(t, nil)
	f.contexts.Add("CA5", "some reason")

	form := url.Values{"CallSid": {"CA5"}, "CallStatus": {"no-answer"}}
	rec := doLocal(f.router, http.MethodPost, "/twilio/status", form.Encode(), formHeader())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := f.contexts.Activate("CA5"); got != "" {
		t.Errorf("failed call context survived: %q", got)
	}
}
