// Package telephony covers both halves of the Twilio integration: the media
// stream protocol spoken over the websocket, and the REST client used to
// place calls, send SMS, and hang up.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// StreamEvent is one inbound message on the media stream socket. ParseStreamEvent
// returns exactly one of the variants below; events the bridge does not act on
// come back as UnknownStream.
type StreamEvent interface {
	streamEvent() string
}

// Connected is the protocol handshake, sent once before start.
type Connected struct {
	Protocol string
	Version  string
}

// StreamStart carries the call identity. No media is valid before it.
type StreamStart struct {
	StreamSID        string
	CallSID          string
	AccountSID       string
	CustomParameters map[string]string
}

// MediaFrame is one chunk of caller audio, already base64-decoded.
type MediaFrame struct {
	Track   string
	Payload []byte
}

type StreamStop struct{}

type DTMF struct {
	Digit string
}

type Mark struct {
	Name string
}

type UnknownStream struct {
	Event string
}

func (Connected) streamEvent() string       { return "connected" }
func (StreamStart) streamEvent() string     { return "start" }
func (MediaFrame) streamEvent() string      { return "media" }
func (StreamStop) streamEvent() string      { return "stop" }
func (DTMF) streamEvent() string            { return "dtmf" }
func (Mark) streamEvent() string            { return "mark" }
func (u UnknownStream) streamEvent() string { return u.Event }

// ParseStreamEvent decodes one text frame from the media stream socket.
func ParseStreamEvent(raw []byte) (StreamEvent, error) {
	var envelope struct {
		Event    string `json:"event"`
		Protocol string `json:"protocol"`
		Version  string `json:"version"`
		Start    struct {
			StreamSID        string            `json:"streamSid"`
			CallSID          string            `json:"callSid"`
			AccountSID       string            `json:"accountSid"`
			CustomParameters map[string]string `json:"customParameters"`
		} `json:"start"`
		Media struct {
			Track   string `json:"track"`
			Payload string `json:"payload"`
		} `json:"media"`
		DTMF struct {
			Digit string `json:"digit"`
		} `json:"dtmf"`
		Mark struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}

	switch envelope.Event {
	case "connected":
		return Connected{Protocol: envelope.Protocol, Version: envelope.Version}, nil
	case "start":
		return StreamStart{
			StreamSID:        envelope.Start.StreamSID,
			CallSID:          envelope.Start.CallSID,
			AccountSID:       envelope.Start.AccountSID,
			CustomParameters: envelope.Start.CustomParameters,
		}, nil
	case "media":
		payload, err := base64.StdEncoding.DecodeString(envelope.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode media payload: %w", err)
		}
		return MediaFrame{Track: envelope.Media.Track, Payload: payload}, nil
	case "stop":
		return StreamStop{}, nil
	case "dtmf":
		return DTMF{Digit: envelope.DTMF.Digit}, nil
	case "mark":
		return Mark{Name: envelope.Mark.Name}, nil
	default:
		return UnknownStream{Event: envelope.Event}, nil
	}
}

// OutboundMedia frames agent audio for playback on the stream.
func OutboundMedia(streamSID string, audio []byte) ([]byte, error) {
	msg := map[string]any{
		"event":     "media",
		"streamSid": streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(audio),
		},
	}
	return json.Marshal(msg)
}

// OutboundClear tells the carrier to drop all buffered playback. Sent on
// barge-in, before any further audio.
func OutboundClear(streamSID string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     "clear",
		"streamSid": streamSID,
	})
}
