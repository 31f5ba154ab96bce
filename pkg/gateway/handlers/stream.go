package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/callbridge/pkg/core/realtime"
	"github.com/vango-go/callbridge/pkg/gateway/calllog"
	"github.com/vango-go/callbridge/pkg/gateway/config"
	"github.com/vango-go/callbridge/pkg/gateway/lifecycle"
	"github.com/vango-go/callbridge/pkg/gateway/live/session"
	"github.com/vango-go/callbridge/pkg/gateway/live/sessions"
	"github.com/vango-go/callbridge/pkg/gateway/registry"
	"github.com/vango-go/callbridge/pkg/gateway/usage"
)

// StreamHandler upgrades the telephony media-stream websocket and runs
// one call session per connection.
type StreamHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Calls     *sessions.Tracker
	Registry  *registry.Registry
	Observer  session.Observer
	Recorder  calllog.Recorder
	Usage     usage.Meter

	// Dial is swappable for tests; nil uses the realtime dialer.
	Dial session.VoiceDialer
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.WSHandshakeTimeout,
		// The peer is a telephony provider, not a browser.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	dial := h.Dial
	if dial == nil {
		dial = h.realtimeDialer()
	}

	s, err := session.New(session.Deps{
		Logger:         h.Logger,
		Conn:           conn,
		Dial:           dial,
		RealtimeConfig: h.realtimeConfig(),
		Observer:       h.Observer,
		Context:        h.contextLookup(),
		Config: session.Config{
			PingInterval:        h.Config.WSPingInterval,
			WriteTimeout:        h.Config.WSWriteTimeout,
			MaxMessageBytes:     h.Config.WSMaxMessageBytes,
			MaxCallDuration:     h.Config.MaxCallDuration,
			OutboundQueueSize:   h.Config.OutboundQueueSize,
			CoalesceDuration:    h.Config.CoalesceDuration,
			MaxRetryCount:       h.Config.MaxRetryCount,
			MaxAudioFPS:         h.Config.MaxAudioFPS,
			MaxAudioBPS:         h.Config.MaxAudioBPS,
			InboundBurstSeconds: h.Config.InboundBurstSeconds,
		},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("create call session", "err", err)
		}
		return
	}

	unregister := func() {}
	if h.Calls != nil {
		// The call SID is unknown until the start event; the handle
		// reads it lazily so snapshots see it once revealed.
		unregister = h.Calls.Register(s.ID(), sessions.Handle{
			CallSid: s.CallSid,
			Close:   s.Close,
		})
	}
	defer unregister()

	if err := s.Run(r.Context()); err != nil && h.Logger != nil {
		h.Logger.Warn("call session ended with error", "call_session", s.ID(), "err", err)
	}

	st := s.Stats()
	if h.Registry != nil && st.StreamSid != "" {
		// Conversation context lives until the call record is written,
		// then the registry forgets the stream.
		h.Registry.Bind(st.StreamSid, st.CallSid)
		for _, line := range st.Transcript {
			h.Registry.AppendTranscript(st.StreamSid, line)
		}
		if final, ok := h.Registry.Clear(st.StreamSid); ok {
			st.Transcript = final.Transcript
		}
	}
	h.record(st)
}

// contextLookup adapts the session registry to the bridge's context
// hook. The registry is keyed by the provider-assigned stream SID.
func (h StreamHandler) contextLookup() session.ContextLookup {
	if h.Registry == nil {
		return nil
	}
	return func(streamSid, callSid string) session.ConversationContext {
		cc := h.Registry.GetContext(streamSid)
		h.Registry.Bind(streamSid, callSid)
		return session.ConversationContext{
			SystemPrompt: cc.SystemPrompt,
			Voice:        cc.Voice,
		}
	}
}

// record persists the call detail record and meters usage once the
// session is done. Failures are logged, never surfaced to the peer.
func (h StreamHandler) record(st session.Stats) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if h.Recorder != nil {
		err := h.Recorder.Record(ctx, calllog.Record{
			CallSid:       st.CallSid,
			StreamSid:     st.StreamSid,
			StartedAt:     st.StartedAt,
			EndedAt:       st.EndedAt,
			Status:        st.Status,
			InboundBytes:  st.InboundBytes,
			OutboundBytes: st.OutboundBytes,
			BargeIns:      st.BargeIns,
			Reconnects:    st.Reconnects,
			DroppedFrames: st.DroppedFrames,
			Transcript:    st.Transcript,
		})
		if err != nil && h.Logger != nil {
			h.Logger.Error("record call", "call_sid", st.CallSid, "err", err)
		}
	}
	if h.Usage != nil && st.Status == "completed" && st.CallSid != "" {
		if err := h.Usage.RecordCall(ctx, st.CallSid, st.EndedAt.Sub(st.StartedAt)); err != nil && h.Logger != nil {
			h.Logger.Error("meter call usage", "call_sid", st.CallSid, "err", err)
		}
	}
}

func (h StreamHandler) realtimeConfig() realtime.Config {
	return realtime.Config{
		URL:          h.Config.RealtimeURL,
		APIKey:       h.Config.RealtimeAPIKey,
		Model:        h.Config.RealtimeModel,
		Voice:        h.Config.RealtimeVoice,
		Instructions: h.Config.SystemPrompt,
		TurnDetection: realtime.TurnDetection{
			ServerVAD: &realtime.ServerVAD{
				Threshold:         h.Config.VADThreshold,
				PrefixPaddingMS:   int(h.Config.VADPrefixPadding / time.Millisecond),
				SilenceDurationMS: int(h.Config.VADSilenceDuration / time.Millisecond),
			},
		},
		InputRate:  realtime.DefaultInputRate,
		OutputRate: realtime.DefaultOutputRate,
	}
}

func (h StreamHandler) realtimeDialer() session.VoiceDialer {
	dialer := &realtime.Dialer{
		HandshakeTimeout: h.Config.WSHandshakeTimeout,
		Logger:           h.Logger,
	}
	return func(ctx context.Context, cfg realtime.Config) (session.VoiceSession, error) {
		return dialer.Dial(ctx, cfg)
	}
}
