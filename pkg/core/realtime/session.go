// Package realtime manages the outbound WebSocket connection to the
// cloud speech-to-speech API for one call: it sends the session
// configuration, streams caller audio in, and demultiplexes inbound
// events into a bounded, finite event sequence.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session is one live connection to the speech API. Methods are safe
// for concurrent use; the event channel has a single consumer.
type Session struct {
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex
	events  chan Event
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	deltaSeq      int64
	droppedDeltas atomic.Int64
}

type sessionUpdate struct {
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	Modalities        []string       `json:"modalities"`
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *turnDetection `json:"turn_detection"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type bareEvent struct {
	Type string `json:"type"`
}

type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	Response   *struct {
		ID     string `json:"id,omitempty"`
		Status string `json:"status,omitempty"`
	} `json:"response,omitempty"`
	Error *struct {
		Type    string `json:"type,omitempty"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

// Dialer opens realtime sessions. The zero value uses the default
// WebSocket dialer.
type Dialer struct {
	WSDialer         *websocket.Dialer
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Dial opens the connection and sends the session configuration. A
// handshake or authentication failure is returned as *ConnectError;
// the caller decides whether to retry.
func (d Dialer) Dial(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, &ConnectError{Err: err}
	}
	cfg.applyDefaults()

	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, &ConnectError{Err: fmt.Errorf("parse url: %w", err)}
	}
	q := endpoint.Query()
	q.Set("model", cfg.Model)
	endpoint.RawQuery = q.Encode()

	wsDialer := d.WSDialer
	if wsDialer == nil {
		wsDialer = &websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	}
	if d.HandshakeTimeout > 0 {
		wsDialer.HandshakeTimeout = d.HandshakeTimeout
	}

	header := http.Header{}
	if strings.TrimSpace(cfg.APIKey) != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	conn, resp, err := wsDialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &ConnectError{Err: fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)}
		}
		return nil, &ConnectError{Err: err}
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		events:  make(chan Event, cfg.EventBufferSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := s.writeJSON(s.configMessage()); err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Err: fmt.Errorf("send session config: %w", err)}
	}

	go s.readLoop()
	return s, nil
}

func (s *Session) configMessage() sessionUpdate {
	var td *turnDetection
	if s.cfg.TurnDetection.ServerVAD != nil {
		vad := s.cfg.TurnDetection.ServerVAD
		td = &turnDetection{
			Type:              "server_vad",
			Threshold:         vad.Threshold,
			PrefixPaddingMS:   vad.PrefixPaddingMS,
			SilenceDurationMS: vad.SilenceDurationMS,
		}
	}
	return sessionUpdate{
		Type: "session.update",
		Session: sessionPayload{
			Modalities:        []string{"text", "audio"},
			Instructions:      s.cfg.Instructions,
			Voice:             s.cfg.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection:     td,
		},
	}
}

// AppendAudio streams caller audio (linear PCM at the session's input
// rate) into the upstream input buffer. Ordering is transport
// guaranteed; there is no acknowledgement.
func (s *Session) AppendAudio(pcm []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if len(pcm) == 0 {
		return nil
	}
	return s.writeJSON(audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// Commit marks the end of a caller turn in manual mode. Under
// server-side voice-activity detection the API rejects manual commits
// as a protocol violation, so the call is refused before anything is
// written.
func (s *Session) Commit() error {
	if s.cfg.TurnDetection.ServerVAD != nil {
		return fmt.Errorf("%w: manual commit while server VAD is enabled", ErrProtocolViolation)
	}
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.writeJSON(bareEvent{Type: "input_audio_buffer.commit"})
}

// CancelResponse asks the API to abandon the in-flight response.
// Idempotent: calling with no response in flight, or after close, is
// not an error.
func (s *Session) CancelResponse() error {
	if s.closed.Load() {
		return nil
	}
	return s.writeJSON(bareEvent{Type: "response.cancel"})
}

// Events returns the session's event sequence. It is finite: the
// channel closes when the session closes, and no events are delivered
// after Close returns.
func (s *Session) Events() <-chan Event {
	return s.events
}

// DroppedDeltas reports audio deltas discarded because the consumer
// was not keeping up.
func (s *Session) DroppedDeltas() int64 {
	return s.droppedDeltas.Load()
}

// Close tears the connection down. Safe to call from any goroutine and
// more than once; the underlying socket is closed on every path.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closing)
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	transcripts := make(map[string]*strings.Builder)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				s.emit(&ErrorEvent{Kind: KindTransientDisconnect, Message: err.Error()})
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("realtime event parse failed", "error", err)
			continue
		}

		switch ev.Type {
		case "session.created", "session.updated", "input_audio_buffer.committed":
			s.logger.Debug("realtime session event", "type", ev.Type)

		case "input_audio_buffer.speech_started":
			s.emit(&SpeechStartedEvent{})

		case "input_audio_buffer.speech_stopped":
			s.emit(&SpeechStoppedEvent{})

		case "response.created":
			id := ""
			if ev.Response != nil {
				id = ev.Response.ID
			}
			s.emit(&ResponseStartedEvent{ResponseID: id})

		case "response.output_audio.delta", "response.audio.delta":
			if ev.Delta == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil {
				s.logger.Warn("realtime audio delta decode failed", "error", err)
				continue
			}
			s.deltaSeq++
			s.emitDelta(&AudioDeltaEvent{ResponseID: ev.ResponseID, Seq: s.deltaSeq, PCM: pcm})

		case "response.output_audio_transcript.delta", "response.audio_transcript.delta":
			if ev.ResponseID != "" && ev.Delta != "" {
				b, ok := transcripts[ev.ResponseID]
				if !ok {
					b = &strings.Builder{}
					transcripts[ev.ResponseID] = b
				}
				b.WriteString(ev.Delta)
			}

		case "response.done", "response.completed":
			id := ev.ResponseID
			if id == "" && ev.Response != nil {
				id = ev.Response.ID
			}
			transcript := ""
			if b, ok := transcripts[id]; ok {
				transcript = b.String()
				delete(transcripts, id)
			}
			s.emit(&ResponseCompletedEvent{ResponseID: id, Transcript: transcript})

		case "response.error", "error":
			msg := "upstream error"
			kind := KindUpstream
			if ev.Error != nil {
				if ev.Error.Message != "" {
					msg = ev.Error.Message
				}
				if ev.Error.Code == "input_audio_buffer_commit_empty" ||
					strings.Contains(ev.Error.Code, "protocol") ||
					strings.Contains(msg, "turn_detection") {
					kind = KindProtocolViolation
				}
			}
			s.emit(&ErrorEvent{Kind: kind, Message: msg})

		default:
			s.logger.Debug("realtime event ignored", "type", ev.Type)
		}
	}
}

// emit delivers turn and error events, which must not be lost. It
// blocks until the consumer takes the event or teardown begins.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closing:
	}
}

// emitDelta delivers audio, which is droppable: if the consumer is not
// keeping up the frame is discarded rather than buffered without
// bound.
func (s *Session) emitDelta(ev *AudioDeltaEvent) {
	select {
	case s.events <- ev:
	default:
		s.droppedDeltas.Add(1)
	}
}
