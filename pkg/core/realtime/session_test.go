package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeSpeechServer accepts one realtime connection and records every
// client message. Scripted server events can be pushed to the client.
type fakeSpeechServer struct {
	t  *testing.T
	up websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []map[string]any
	connCh   chan struct{}
	header   http.Header
	query    string
}

func newFakeSpeechServer(t *testing.T) (*fakeSpeechServer, *httptest.Server) {
	f := &fakeSpeechServer{t: t, connCh: make(chan struct{})}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.header = r.Header.Clone()
		f.query = r.URL.RawQuery
		f.mu.Unlock()

		conn, err := f.up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		close(f.connCh)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Errorf("server decode: %v", err)
				continue
			}
			f.mu.Lock()
			f.received = append(f.received, msg)
			f.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSpeechServer) send(t *testing.T, v any) {
	t.Helper()
	select {
	case <-f.connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no client connected")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conn.WriteJSON(v); err != nil {
		t.Fatalf("server send: %v", err)
	}
}

func (f *fakeSpeechServer) waitMessages(t *testing.T, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.received) >= n {
			out := make([]map[string]any, n)
			copy(out, f.received)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Fatalf("timed out waiting for %d messages, have %d", n, len(f.received))
	return nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(srv *httptest.Server) Config {
	return Config{
		URL:          wsURL(srv),
		APIKey:       "sk-test",
		Model:        "gpt-realtime",
		Instructions: "You are a phone agent.",
		Voice:        "alloy",
		TurnDetection: TurnDetection{ServerVAD: &ServerVAD{
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 700,
		}},
	}
}

func dialTest(t *testing.T, srv *httptest.Server, cfg Config) *Session {
	t.Helper()
	s, err := Dialer{}.Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDialSendsSessionConfiguration(t *testing.T) {
	f, srv := newFakeSpeechServer(t)
	s := dialTest(t, srv, testConfig(srv))
	defer s.Close()

	msgs := f.waitMessages(t, 1)
	if msgs[0]["type"] != "session.update" {
		t.Fatalf("first message type = %v, want session.update", msgs[0]["type"])
	}
	session, _ := msgs[0]["session"].(map[string]any)
	if session["instructions"] != "You are a phone agent." {
		t.Fatalf("instructions = %v", session["instructions"])
	}
	if session["voice"] != "alloy" {
		t.Fatalf("voice = %v", session["voice"])
	}
	td, _ := session["turn_detection"].(map[string]any)
	if td == nil || td["type"] != "server_vad" {
		t.Fatalf("turn_detection = %v", session["turn_detection"])
	}
	if td["threshold"] != 0.5 || td["prefix_padding_ms"] != float64(300) || td["silence_duration_ms"] != float64(700) {
		t.Fatalf("vad params = %v", td)
	}

	f.mu.Lock()
	authz := f.header.Get("Authorization")
	query := f.query
	f.mu.Unlock()
	if authz != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", authz)
	}
	if !strings.Contains(query, "model=gpt-realtime") {
		t.Fatalf("model missing from query: %q", query)
	}
}

func TestAppendAudioSendsBase64Payload(t *testing.T) {
	f, srv := newFakeSpeechServer(t)
	s := dialTest(t, srv, testConfig(srv))

	pcm := []byte{1, 2, 3, 4}
	if err := s.AppendAudio(pcm); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}

	msgs := f.waitMessages(t, 2)
	if msgs[1]["type"] != "input_audio_buffer.append" {
		t.Fatalf("append type = %v", msgs[1]["type"])
	}
	if msgs[1]["audio"] != base64.StdEncoding.EncodeToString(pcm) {
		t.Fatalf("audio payload = %v", msgs[1]["audio"])
	}
}

func TestCommitRejectedUnderServerVAD(t *testing.T) {
	f, srv := newFakeSpeechServer(t)
	s := dialTest(t, srv, testConfig(srv))

	if err := s.Commit(); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("Commit under server VAD = %v, want ErrProtocolViolation", err)
	}

	// Nothing beyond the session config may reach the wire.
	time.Sleep(50 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.received {
		if msg["type"] == "input_audio_buffer.commit" {
			t.Fatal("manual commit was written under server VAD")
		}
	}
}

func TestCommitAllowedInManualMode(t *testing.T) {
	f, srv := newFakeSpeechServer(t)
	cfg := testConfig(srv)
	cfg.TurnDetection = TurnDetection{Manual: &ManualCommit{}}
	s := dialTest(t, srv, cfg)

	if err := s.Commit(); err != nil {
		t.Fatalf("Commit in manual mode: %v", err)
	}
	msgs := f.waitMessages(t, 2)
	if msgs[1]["type"] != "input_audio_buffer.commit" {
		t.Fatalf("commit type = %v", msgs[1]["type"])
	}
}

func TestEventDemultiplexing(t *testing.T) {
	f, srv := newFakeSpeechServer(t)
	s := dialTest(t, srv, testConfig(srv))

	pcm := []byte{9, 8, 7, 6}
	f.send(t, map[string]any{"type": "session.created"})
	f.send(t, map[string]any{"type": "input_audio_buffer.speech_started"})
	f.send(t, map[string]any{"type": "input_audio_buffer.speech_stopped"})
	f.send(t, map[string]any{"type": "response.created", "response": map[string]any{"id": "resp_1"}})
	f.send(t, map[string]any{
		"type":        "response.output_audio.delta",
		"response_id": "resp_1",
		"delta":       base64.StdEncoding.EncodeToString(pcm),
	})
	f.send(t, map[string]any{
		"type":        "response.output_audio_transcript.delta",
		"response_id": "resp_1",
		"delta":       "hello caller",
	})
	f.send(t, map[string]any{"type": "response.done", "response": map[string]any{"id": "resp_1"}})

	want := []string{"speech.started", "speech.stopped", "response.started", "response.audio_delta", "response.completed"}
	var got []Event
	timeout := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("event channel closed early after %d events", len(got))
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	for i, ev := range got {
		if ev.EventType() != want[i] {
			t.Fatalf("event %d = %s, want %s", i, ev.EventType(), want[i])
		}
	}

	delta := got[3].(*AudioDeltaEvent)
	if delta.ResponseID != "resp_1" || string(delta.PCM) != string(pcm) || delta.Seq != 1 {
		t.Fatalf("delta = %+v", delta)
	}
	done := got[4].(*ResponseCompletedEvent)
	if done.ResponseID != "resp_1" || done.Transcript != "hello caller" {
		t.Fatalf("completed = %+v", done)
	}
}

func TestCancelResponseIsIdempotent(t *testing.T) {
	f, srv := newFakeSpeechServer(t)
	s := dialTest(t, srv, testConfig(srv))

	if err := s.CancelResponse(); err != nil {
		t.Fatalf("CancelResponse: %v", err)
	}
	if err := s.CancelResponse(); err != nil {
		t.Fatalf("second CancelResponse: %v", err)
	}
	msgs := f.waitMessages(t, 3)
	if msgs[1]["type"] != "response.cancel" || msgs[2]["type"] != "response.cancel" {
		t.Fatalf("messages = %v", msgs)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.CancelResponse(); err != nil {
		t.Fatalf("CancelResponse after close = %v, want nil", err)
	}
}

func TestCloseEndsEventSequence(t *testing.T) {
	_, srv := newFakeSpeechServer(t)
	s := dialTest(t, srv, testConfig(srv))

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-s.Events():
		if ok {
			t.Fatal("received event after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed")
	}

	if err := s.AppendAudio([]byte{1, 2}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("AppendAudio after close = %v", err)
	}
}

func TestServerDisconnectEmitsTransientError(t *testing.T) {
	f, srv := newFakeSpeechServer(t)
	s := dialTest(t, srv, testConfig(srv))

	select {
	case <-f.connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
	}
	f.mu.Lock()
	_ = f.conn.Close()
	f.mu.Unlock()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatal("channel closed without transient error event")
			}
			if errEv, isErr := ev.(*ErrorEvent); isErr {
				if errEv.Kind != KindTransientDisconnect {
					t.Fatalf("error kind = %s", errEv.Kind)
				}
				return
			}
		case <-timeout:
			t.Fatal("no error event after disconnect")
		}
	}
}

func TestUpstreamErrorEvent(t *testing.T) {
	f, srv := newFakeSpeechServer(t)
	s := dialTest(t, srv, testConfig(srv))

	f.send(t, map[string]any{"type": "error", "error": map[string]any{"code": "rate_limit", "message": "quota exceeded"}})

	select {
	case ev := <-s.Events():
		errEv, ok := ev.(*ErrorEvent)
		if !ok {
			t.Fatalf("event = %T", ev)
		}
		if errEv.Kind != KindUpstream || errEv.Message != "quota exceeded" {
			t.Fatalf("error event = %+v", errEv)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
}

func TestDialFailsWithConnectError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testConfig(srv)
	cfg.URL = wsURL(srv)
	_, err := Dialer{}.Dial(context.Background(), cfg)
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnectError", err)
	}
}

func TestDialValidatesTurnDetection(t *testing.T) {
	_, err := Dialer{}.Dial(context.Background(), Config{URL: "ws://example", Model: "m"})
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("missing turn detection: err = %v", err)
	}

	_, err = Dialer{}.Dial(context.Background(), Config{
		URL:   "ws://example",
		Model: "m",
		TurnDetection: TurnDetection{
			ServerVAD: &ServerVAD{Threshold: 1.5, SilenceDurationMS: 700},
		},
	})
	if !errors.As(err, &connErr) {
		t.Fatalf("bad threshold: err = %v", err)
	}
}
