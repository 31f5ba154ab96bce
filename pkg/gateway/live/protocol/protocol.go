// Package protocol defines the telephony media stream envelope: the
// JSON events exchanged over the per-call WebSocket with the telephony
// provider (Twilio Media Streams wire shape).
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// MediaFormat describes the audio shape of one stream, fixed by the
// start event for the lifetime of the call.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Connected is the first event after the WebSocket is established.
type Connected struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
}

// StartPayload carries the stream identifiers and format metadata.
type StartPayload struct {
	AccountSid       string            `json:"accountSid,omitempty"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// Start announces a new media stream session.
type Start struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid"`
	Start          StartPayload `json:"start"`
}

// MediaPayload carries one base64-encoded audio chunk.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Media carries caller audio inbound or agent audio outbound.
type Media struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid"`
	Media          MediaPayload `json:"media"`
}

// Mark echoes a named position in the outbound audio stream.
type Mark struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// Stop announces the end of the media stream session.
type Stop struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Stop      struct {
		AccountSid string `json:"accountSid,omitempty"`
		CallSid    string `json:"callSid,omitempty"`
	} `json:"stop"`
}

// DecodeInbound parses one telephony envelope frame into its typed
// event. Unknown event names are a decode error; the bridge drops the
// frame and continues.
func DecodeInbound(data []byte) (any, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return nil, badRequest("missing event", "event")
	}

	switch event {
	case "connected":
		var msg Connected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid connected frame", "")
		}
		return msg, nil
	case "start":
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid start frame", "")
		}
		if strings.TrimSpace(msg.Start.StreamSid) == "" && strings.TrimSpace(msg.StreamSid) == "" {
			return nil, badRequest("start.streamSid is required", "start.streamSid")
		}
		if msg.Start.StreamSid == "" {
			msg.Start.StreamSid = msg.StreamSid
		}
		return msg, nil
	case "media":
		var msg Media
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid media frame", "")
		}
		if strings.TrimSpace(msg.Media.Payload) == "" {
			return nil, badRequest("media.payload is required", "media.payload")
		}
		return msg, nil
	case "mark":
		var msg Mark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid mark frame", "")
		}
		return msg, nil
	case "stop":
		var msg Stop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid stop frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported event", "event")
	}
}

// EncodeOutboundMedia builds an outbound media frame carrying
// base64-encoded companded audio with the bridge's own sequence
// counter.
func EncodeOutboundMedia(streamSid, payloadB64 string, seq int64) ([]byte, error) {
	return json.Marshal(Media{
		Event:          "media",
		SequenceNumber: fmt.Sprintf("%d", seq),
		StreamSid:      streamSid,
		Media:          MediaPayload{Payload: payloadB64},
	})
}

// EncodeClear builds the frame that tells the telephony peer to drop
// any audio it has buffered but not yet played, used on barge-in.
func EncodeClear(streamSid string) ([]byte, error) {
	return json.Marshal(struct {
		Event     string `json:"event"`
		StreamSid string `json:"streamSid"`
	}{Event: "clear", StreamSid: streamSid})
}

// EncodeMark builds an outbound mark frame naming a position in the
// outbound audio stream.
func EncodeMark(streamSid, name string) ([]byte, error) {
	m := Mark{Event: "mark", StreamSid: streamSid}
	m.Mark.Name = name
	return json.Marshal(m)
}
