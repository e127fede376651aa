package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens authenticated agent sockets.
type Dialer struct {
	url    string
	apiKey string
	ws     *websocket.Dialer
}

func NewDialer(url, apiKey string) *Dialer {
	return &Dialer{
		url:    url,
		apiKey: apiKey,
		ws: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// Dial connects to the voice agent endpoint. The returned conn follows the
// usual gorilla discipline: one reader goroutine, one writer goroutine.
func (d *Dialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)

	conn, res, err := d.ws.DialContext(ctx, d.url, header)
	if err != nil {
		if res != nil {
			return nil, fmt.Errorf("dial voice agent: %w (status %d)", err, res.StatusCode)
		}
		return nil, fmt.Errorf("dial voice agent: %w", err)
	}
	return conn, nil
}
