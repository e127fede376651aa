package telephony

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Caller drives the carrier REST API for one owner line.
type Caller struct {
	client    *twilio.RestClient
	validator twilioclient.RequestValidator
	from      string
	owner     string
	publicURL string
}

type CallerConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	Owner      string
	PublicURL  string
}

func NewCaller(cfg CallerConfig) *Caller {
	return &Caller{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		validator: twilioclient.NewRequestValidator(cfg.AuthToken),
		from:      cfg.From,
		owner:     cfg.Owner,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}
}

// ConnectTwiML is the instruction document answering a call: open a media
// stream back to our websocket endpoint.
func ConnectTwiML(publicURL string) string {
	wsURL := strings.TrimRight(publicURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response><Connect><Stream url="%s/twilio/media"/></Connect></Response>`, wsURL)
}

// RejectTwiML answers a call from anyone but the owner.
func RejectTwiML() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<Response><Reject reason="rejected"/></Response>`
}

// PlaceCall dials the owner and bridges the answered call into the media
// stream endpoint. Machine detection runs asynchronously and reports to the
// amd webhook so voicemail pickups get hung up instead of talked at.
func (c *Caller) PlaceCall() (string, error) {
	params := &twilioapi.CreateCallParams{}
	params.SetTo(c.owner)
	params.SetFrom(c.from)
	params.SetTwiml(ConnectTwiML(c.publicURL))
	params.SetMachineDetection("Enable")
	params.SetAsyncAmd("true")
	params.SetAsyncAmdStatusCallback(c.publicURL + "/twilio/amd")
	params.SetStatusCallback(c.publicURL + "/twilio/status")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})

	call, err := c.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}
	if call.Sid == nil {
		return "", fmt.Errorf("create call: no sid in response")
	}
	return *call.Sid, nil
}

// SendSMS texts the owner.
func (c *Caller) SendSMS(body string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(c.owner)
	params.SetFrom(c.from)
	params.SetBody(body)
	if _, err := c.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}

// Hangup completes an in-progress call.
func (c *Caller) Hangup(callSID string) error {
	params := &twilioapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("hang up call %s: %w", callSID, err)
	}
	return nil
}

// Owner reports whether number is the configured owner line, comparing the
// last 10 digits so formatting and country-code variants still match.
func (c *Caller) Owner(number string) bool {
	return sameNumber(number, c.owner)
}

func sameNumber(a, b string) bool {
	da, db := digits(a), digits(b)
	if da == "" || db == "" {
		return false
	}
	if len(da) > 10 {
		da = da[len(da)-10:]
	}
	if len(db) > 10 {
		db = db[len(db)-10:]
	}
	return da == db
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateWebhook checks the carrier signature on a form-encoded webhook.
// form must be the already-parsed POST form.
func (c *Caller) ValidateWebhook(r *http.Request, form url.Values) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return c.validator.Validate(c.publicURL+r.URL.Path, params, signature)
}
