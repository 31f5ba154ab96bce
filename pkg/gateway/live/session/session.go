// Package session bridges one telephony media stream to one realtime
// speech session. Caller audio arrives as 8kHz companded frames over a
// websocket, is decoded and upsampled to linear PCM for the speech API,
// and agent audio comes back as 24kHz PCM to be downsampled, companded
// and framed for the telephony leg. The bridge also arbitrates the
// conversational floor so a caller who starts talking over the agent
// cancels the in-flight response.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/callbridge/pkg/core/audio"
	"github.com/vango-go/callbridge/pkg/core/realtime"
	"github.com/vango-go/callbridge/pkg/core/turn"
	"github.com/vango-go/callbridge/pkg/gateway/live/protocol"
)

// State is the lifecycle of a call session. Transitions only move
// forward; Closed and Failed are terminal.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// VoiceSession is the subset of the realtime session the bridge needs.
// It is an interface so tests can substitute a scripted fake.
type VoiceSession interface {
	AppendAudio(pcm []byte) error
	CancelResponse() error
	Events() <-chan realtime.Event
	Close() error
}

// VoiceDialer opens a new speech session. The bridge calls it once at
// start and again on each reconnect attempt.
type VoiceDialer func(ctx context.Context, cfg realtime.Config) (VoiceSession, error)

// ConversationContext carries the per-call prompt and voice the bridge
// reads once when the stream's start event reveals the call identity.
// Empty fields leave the configured defaults in place.
type ConversationContext struct {
	SystemPrompt string
	Voice        string
}

// ContextLookup resolves the conversation context for a call, keyed by
// the provider-assigned stream and call identifiers.
type ContextLookup func(streamSid, callSid string) ConversationContext

// Observer receives call-level measurements. Implementations must be
// safe for concurrent use.
type Observer interface {
	CallStarted()
	CallEnded(status string, d time.Duration)
	AudioBytes(direction string, n int)
	BargeIn()
	Reconnect()
	FrameDropped(direction string)
}

type nopObserver struct{}

func (nopObserver) CallStarted()                    {}
func (nopObserver) CallEnded(string, time.Duration) {}
func (nopObserver) AudioBytes(string, int)          {}
func (nopObserver) BargeIn()                        {}
func (nopObserver) Reconnect()                      {}
func (nopObserver) FrameDropped(string)             {}

type Config struct {
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	MaxMessageBytes     int64
	MaxCallDuration     time.Duration
	OutboundQueueSize   int
	CoalesceDuration    time.Duration
	MaxRetryCount       int
	MaxAudioFPS         int
	MaxAudioBPS         int64
	InboundBurstSeconds int
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = time.Hour
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = 16
	}
	if c.CoalesceDuration <= 0 {
		c.CoalesceDuration = 150 * time.Millisecond
	}
}

// telephonyConn is the websocket surface the bridge uses, satisfied by
// *websocket.Conn.
type telephonyConn interface {
	wsWriter
	ReadMessage() (int, []byte, error)
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
}

// Deps carries everything a call session needs. Conn, Dial and
// RealtimeConfig are required.
type Deps struct {
	Logger         *slog.Logger
	Conn           telephonyConn
	Dial           VoiceDialer
	RealtimeConfig realtime.Config
	Config         Config
	Observer       Observer
	Now            func() time.Time

	// Context, when set, is consulted once after the start event and
	// may override the realtime instructions and voice for this call.
	Context ContextLookup
}

// Stats is a snapshot of a finished (or running) call, used for call
// detail records and usage metering after Run returns.
type Stats struct {
	ID            string
	CallSid       string
	StreamSid     string
	StartedAt     time.Time
	EndedAt       time.Time
	Status        string
	InboundBytes  int64
	OutboundBytes int64
	BargeIns      int64
	Reconnects    int64
	DroppedFrames int64
	Transcript    []string
}

type outboundFrame struct {
	payload      []byte
	isAgentAudio bool
	responseID   string
}

// CallSession owns one telephony connection and its paired speech
// session. Run drives the inbound loop on the calling goroutine and
// spawns the writer and event-consumer goroutines.
type CallSession struct {
	id         string
	logger     *slog.Logger
	conn       telephonyConn
	dial       VoiceDialer
	rtCfg      realtime.Config
	cfg        Config
	observer   Observer
	now        func() time.Time
	contextFor ContextLookup

	state atomic.Int32

	voiceMu sync.Mutex
	voice   VoiceSession

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	canceledMu sync.Mutex
	canceled   map[string]struct{}

	closing   chan struct{}
	closeOnce sync.Once

	streamSid string
	callSid   string
	encoding  audio.Encoding
	upsampler *audio.Resampler
	coalesced []int16
	limiter   *inboundAudioLimiter

	startedAt time.Time

	statsMu    sync.Mutex
	endedAt    time.Time
	status     string
	transcript []string

	inboundBytes  atomic.Int64
	outboundBytes atomic.Int64
	bargeIns      atomic.Int64
	reconnects    atomic.Int64
	droppedFrames atomic.Int64
	outboundSeq   atomic.Int64
}

func New(deps Deps) (*CallSession, error) {
	if deps.Conn == nil {
		return nil, errors.New("session: Conn is required")
	}
	if deps.Dial == nil {
		return nil, errors.New("session: Dial is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Config.applyDefaults()
	if deps.RealtimeConfig.InputRate <= 0 {
		deps.RealtimeConfig.InputRate = realtime.DefaultInputRate
	}
	if deps.RealtimeConfig.OutputRate <= 0 {
		deps.RealtimeConfig.OutputRate = realtime.DefaultOutputRate
	}

	id := uuid.NewString()
	s := &CallSession{
		id:               id,
		logger:           deps.Logger.With("call_session", id),
		conn:             deps.Conn,
		dial:             deps.Dial,
		rtCfg:            deps.RealtimeConfig,
		cfg:              deps.Config,
		observer:         deps.Observer,
		contextFor:       deps.Context,
		now:              deps.Now,
		outboundPriority: make(chan outboundFrame, 4),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		canceled:         make(map[string]struct{}),
		closing:          make(chan struct{}),
		limiter: newInboundAudioLimiter(deps.Now,
			deps.Config.MaxAudioFPS, deps.Config.MaxAudioBPS, deps.Config.InboundBurstSeconds),
	}
	s.state.Store(int32(StateConnecting))
	return s, nil
}

func (s *CallSession) ID() string      { return s.id }
func (s *CallSession) State() State    { return State(s.state.Load()) }
// CallSid is safe to call while the session is still waiting for the
// stream's start event; it returns "" until the provider reveals it.
func (s *CallSession) CallSid() string {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.callSid
}

// Stats may be called at any time; terminal fields are only meaningful
// after Run has returned.
func (s *CallSession) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	transcript := make([]string, len(s.transcript))
	copy(transcript, s.transcript)
	return Stats{
		ID:            s.id,
		CallSid:       s.callSid,
		StreamSid:     s.streamSid,
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
		Status:        s.status,
		InboundBytes:  s.inboundBytes.Load(),
		OutboundBytes: s.outboundBytes.Load(),
		BargeIns:      s.bargeIns.Load(),
		Reconnects:    s.reconnects.Load(),
		DroppedFrames: s.droppedFrames.Load(),
		Transcript:    transcript,
	}
}

// Run processes the call until the telephony stream stops, the context
// is canceled, or the session fails. It always leaves the session in a
// terminal state and returns the error that ended it, if any.
func (s *CallSession) Run(ctx context.Context) error {
	s.startedAt = s.now()
	s.observer.CallStarted()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.MaxCallDuration)
	defer cancel()

	s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(s.now().Add(2*s.cfg.PingInterval + s.cfg.WriteTimeout))
	})

	if err := s.awaitStart(); err != nil {
		s.finish(StateFailed, fmt.Sprintf("handshake: %v", err))
		return err
	}

	// The call identity is known now; let the registry override the
	// default prompt and voice before the speech session is configured.
	if s.contextFor != nil {
		cc := s.contextFor(s.streamSid, s.callSid)
		if cc.SystemPrompt != "" {
			s.rtCfg.Instructions = cc.SystemPrompt
		}
		if cc.Voice != "" {
			s.rtCfg.Voice = cc.Voice
		}
	}

	voice, err := s.dial(ctx, s.rtCfg)
	if err != nil {
		s.finish(StateFailed, "connect_failed")
		return fmt.Errorf("dial voice session: %w", err)
	}
	s.setVoice(voice)
	s.state.Store(int32(StateActive))
	s.logger.Info("call session active",
		"call_sid", s.callSid, "stream_sid", s.streamSid, "encoding", string(s.encoding))

	writer := &outboundWriter{
		ws:         s.conn,
		ctx:        ctx,
		cfg:        s.cfg,
		priority:   s.outboundPriority,
		normal:     s.outboundNormal,
		isCanceled: s.isCanceled,
	}

	var wg sync.WaitGroup
	writerErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := writer.Run(); err != nil {
			writerErr <- err
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.consumeVoiceEvents(ctx, cancel)
	}()

	readErr := s.readTelephony(ctx)

	s.teardown()
	cancel()
	wg.Wait()

	if s.State() == StateFailed {
		select {
		case err := <-writerErr:
			return err
		default:
		}
		if readErr != nil {
			return readErr
		}
		return errors.New("call session failed")
	}
	return nil
}

// Close tears the session down from outside, e.g. on process drain.
// Safe to call concurrently with Run and more than once.
func (s *CallSession) Close() {
	s.teardown()
}

func (s *CallSession) setVoice(v VoiceSession) {
	s.voiceMu.Lock()
	s.voice = v
	s.voiceMu.Unlock()
}

func (s *CallSession) currentVoice() VoiceSession {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()
	return s.voice
}

// teardown is the only writer of terminal state. The first caller wins;
// everyone else observes the result.
func (s *CallSession) teardown() {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosing)))
		terminal := StateClosed
		status := "completed"
		if prev == StateFailed || prev == StateConnecting {
			terminal = StateFailed
			status = "failed"
		}
		close(s.closing)
		if v := s.currentVoice(); v != nil {
			_ = v.Close()
		}
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			s.now().Add(s.cfg.WriteTimeout))
		_ = s.conn.Close()

		s.state.Store(int32(terminal))
		ended := s.now()
		s.statsMu.Lock()
		s.endedAt = ended
		s.status = status
		s.statsMu.Unlock()
		s.observer.CallEnded(status, ended.Sub(s.startedAt))
		s.logger.Info("call session ended",
			"call_sid", s.callSid, "status", status, "duration", ended.Sub(s.startedAt),
			"barge_ins", s.bargeIns.Load(), "reconnects", s.reconnects.Load(),
			"dropped_frames", s.droppedFrames.Load())
	})
}

// fail records a failure reason and tears down. The Failed state is set
// before teardown so the terminal state resolves to Failed.
func (s *CallSession) fail(reason string) {
	s.state.CompareAndSwap(int32(StateActive), int32(StateFailed))
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateFailed))
	s.logger.Warn("call session failing", "reason", reason)
	s.teardown()
}

func (s *CallSession) finish(terminal State, reason string) {
	if terminal == StateFailed {
		s.fail(reason)
		return
	}
	s.teardown()
}

// awaitStart reads telephony messages until the start envelope arrives,
// capturing stream identifiers and the negotiated media format.
func (s *CallSession) awaitStart() error {
	deadline := s.now().Add(10 * time.Second)
	for {
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read before start: %w", err)
		}
		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			return fmt.Errorf("decode before start: %w", err)
		}
		switch m := msg.(type) {
		case protocol.Connected:
			continue
		case protocol.Start:
			s.statsMu.Lock()
			s.streamSid = m.Start.StreamSid
			s.callSid = m.Start.CallSid
			s.statsMu.Unlock()
			enc := audio.Encoding(m.Start.MediaFormat.Encoding)
			switch enc {
			case audio.EncodingMuLaw, audio.EncodingALaw,
				audio.EncodingPCM16, audio.EncodingPCM16Raw:
				s.encoding = enc
			case "":
				s.encoding = audio.EncodingMuLaw
			default:
				return fmt.Errorf("%w: unsupported media encoding %q", audio.ErrInvalidFrame, m.Start.MediaFormat.Encoding)
			}
			inRate := m.Start.MediaFormat.SampleRate
			if inRate <= 0 {
				inRate = 8000
			}
			up, err := audio.NewResampler(inRate, s.rtCfg.InputRate)
			if err != nil {
				return fmt.Errorf("caller audio resampler: %w", err)
			}
			s.upsampler = up
			return nil
		default:
			return fmt.Errorf("unexpected %T before start", msg)
		}
	}
}

// readTelephony is the inbound loop: telephony frames in, speech API
// appends out. It returns when the stream stops or errors.
func (s *CallSession) readTelephony(ctx context.Context) error {
	var lastFlush time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closing:
			return nil
		default:
		}

		if err := s.conn.SetReadDeadline(s.now().Add(2*s.cfg.PingInterval + s.cfg.WriteTimeout)); err != nil {
			return err
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-s.closing:
				return nil
			default:
			}
			return fmt.Errorf("read telephony: %w", err)
		}

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			s.logger.Warn("dropping undecodable frame", "err", err)
			s.droppedFrames.Add(1)
			s.observer.FrameDropped("inbound")
			continue
		}

		switch m := msg.(type) {
		case protocol.Media:
			if err := s.handleInboundMedia(m, &lastFlush); err != nil {
				s.logger.Warn("dropping media frame", "err", err)
				s.droppedFrames.Add(1)
				s.observer.FrameDropped("inbound")
			}
		case protocol.Mark:
			s.logger.Debug("mark acknowledged", "name", m.Mark.Name)
		case protocol.Stop:
			s.logger.Info("stream stopped by telephony peer", "stream_sid", s.streamSid)
			return nil
		case protocol.Connected, protocol.Start:
			// Duplicate handshake frames are tolerated and ignored.
		}
	}
}

func (s *CallSession) handleInboundMedia(m protocol.Media, lastFlush *time.Time) error {
	payload, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return fmt.Errorf("%w: media payload is not base64", audio.ErrInvalidFrame)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty media payload", audio.ErrInvalidFrame)
	}
	if !s.limiter.Allow(len(payload)) {
		return errors.New("inbound audio rate limit exceeded")
	}
	s.inboundBytes.Add(int64(len(payload)))
	s.observer.AudioBytes("inbound", len(payload))

	var samples []int16
	if s.encoding.IsCompanded() {
		samples, err = audio.DecodeCompanded(s.encoding, payload)
	} else {
		samples, err = audio.SamplesFromPCM16(payload)
	}
	if err != nil {
		return err
	}
	s.coalesced = append(s.coalesced, s.upsampler.Process(samples)...)

	// Batch small telephony frames into larger appends, bounded so
	// caller audio never lags by more than the coalesce window.
	if lastFlush.IsZero() {
		*lastFlush = s.now()
	}
	target := s.rtCfg.InputRate * int(s.cfg.CoalesceDuration/time.Millisecond) / 1000
	if len(s.coalesced) < target && s.now().Sub(*lastFlush) < s.cfg.CoalesceDuration {
		return nil
	}
	*lastFlush = s.now()
	return s.flushInbound()
}

func (s *CallSession) flushInbound() error {
	if len(s.coalesced) == 0 {
		return nil
	}
	pcm := audio.PCM16FromSamples(s.coalesced)
	s.coalesced = s.coalesced[:0]

	v := s.currentVoice()
	if v == nil {
		// Reconnect in progress; audio from the gap is dropped.
		s.droppedFrames.Add(1)
		s.observer.FrameDropped("upstream")
		return nil
	}
	if err := v.AppendAudio(pcm); err != nil {
		if errors.Is(err, realtime.ErrSessionClosed) {
			s.droppedFrames.Add(1)
			s.observer.FrameDropped("upstream")
			return nil
		}
		return fmt.Errorf("append audio: %w", err)
	}
	return nil
}

// consumeVoiceEvents owns the turn arbiter and is the only goroutine
// that applies floor signals. It survives transient disconnects by
// redialing up to the retry budget.
func (s *CallSession) consumeVoiceEvents(ctx context.Context, cancel context.CancelFunc) {
	arb := turn.NewArbiter()
	downsampler, err := audio.NewResampler(s.rtCfg.OutputRate, 8000)
	if err != nil {
		s.logger.Error("agent audio resampler", "err", err)
		s.fail("bad_output_rate")
		cancel()
		return
	}
	currentResponse := ""
	retries := 0

	for {
		v := s.currentVoice()
		if v == nil {
			return
		}
		reconnect := s.consumeUntilClosed(ctx, v, arb, downsampler, &currentResponse)
		if !reconnect {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		default:
		}

		s.setVoice(nil)
		_ = v.Close()

		var nv VoiceSession
		for nv == nil {
			if retries >= s.cfg.MaxRetryCount {
				s.logger.Error("retry budget exhausted", "retries", retries)
				s.fail("retry_budget_exhausted")
				cancel()
				return
			}
			retries++

			backoff := time.Duration(retries) * 250 * time.Millisecond
			s.logger.Warn("reconnecting voice session", "attempt", retries, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-s.closing:
				return
			case <-time.After(backoff):
			}

			dialed, err := s.dial(ctx, s.rtCfg)
			if err != nil {
				s.logger.Warn("voice reconnect failed", "attempt", retries, "err", err)
				continue
			}
			nv = dialed
		}
		s.reconnects.Add(1)
		s.observer.Reconnect()
		// Partial agent audio from the dropped connection is abandoned;
		// the conversation resumes from the caller's next utterance.
		currentResponse = ""
		downsampler.Reset()
		if arb.ResponseInFlight() {
			arb.Apply(turn.SignalResponseCompleted)
		}
		s.setVoice(nv)
	}
}

// consumeUntilClosed drains one voice session's event stream. It
// returns true when the stream ended in a way worth reconnecting from.
func (s *CallSession) consumeUntilClosed(ctx context.Context, v VoiceSession, arb *turn.Arbiter, downsampler *audio.Resampler, currentResponse *string) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		case ev, ok := <-v.Events():
			if !ok {
				// Channel closed without a terminal event: treat as a
				// transient disconnect.
				return true
			}
			switch e := ev.(type) {
			case *realtime.SpeechStartedEvent:
				if arb.Apply(turn.SignalSpeechStarted) == turn.ActionCancelResponse {
					s.handleBargeIn(v, *currentResponse)
				}
			case *realtime.SpeechStoppedEvent:
				arb.Apply(turn.SignalSpeechStopped)
			case *realtime.ResponseStartedEvent:
				*currentResponse = e.ResponseID
				arb.Apply(turn.SignalResponseStarted)
			case *realtime.AudioDeltaEvent:
				if s.isCanceled(e.ResponseID) {
					continue
				}
				s.enqueueAgentAudio(e, downsampler)
			case *realtime.ResponseCompletedEvent:
				arb.Apply(turn.SignalResponseCompleted)
				if e.ResponseID == *currentResponse {
					*currentResponse = ""
				}
				if e.Transcript != "" && !s.isCanceled(e.ResponseID) {
					s.statsMu.Lock()
					s.transcript = append(s.transcript, e.Transcript)
					s.statsMu.Unlock()
				}
				s.enqueuePriority(protocolMark(s.streamSid, e.ResponseID))
			case *realtime.ErrorEvent:
				switch e.Kind {
				case realtime.KindTransientDisconnect:
					return true
				case realtime.KindUpstream:
					s.logger.Warn("upstream error", "message", e.Message)
				case realtime.KindProtocolViolation:
					s.logger.Error("protocol violation from speech peer", "message", e.Message)
				}
			}
		}
	}
}

// handleBargeIn runs when the caller talks over the agent: cancel the
// in-flight response, mark its queued audio dead, and tell the
// telephony peer to flush its playback buffer.
func (s *CallSession) handleBargeIn(v VoiceSession, responseID string) {
	s.bargeIns.Add(1)
	s.observer.BargeIn()
	if responseID != "" {
		s.markCanceled(responseID)
	}
	if err := v.CancelResponse(); err != nil {
		s.logger.Warn("cancel response", "err", err)
	}
	flush, err := protocol.EncodeClear(s.streamSid)
	if err == nil {
		s.enqueuePriority(flush)
	}
	s.logger.Info("barge-in", "response_id", responseID)
}

func (s *CallSession) enqueueAgentAudio(e *realtime.AudioDeltaEvent, downsampler *audio.Resampler) {
	samples, err := audio.SamplesFromPCM16(e.PCM)
	if err != nil {
		s.logger.Warn("bad agent audio delta", "err", err)
		return
	}
	out := downsampler.Process(samples)
	if len(out) == 0 {
		return
	}
	var companded []byte
	switch s.encoding {
	case audio.EncodingALaw:
		companded = audio.EncodeALaw(out)
	case audio.EncodingPCM16, audio.EncodingPCM16Raw:
		companded = audio.PCM16FromSamples(out)
	default:
		companded = audio.EncodeMuLaw(out)
	}
	seq := s.outboundSeq.Add(1)
	frame, err := protocol.EncodeOutboundMedia(s.streamSid,
		base64.StdEncoding.EncodeToString(companded), seq)
	if err != nil {
		s.logger.Warn("encode outbound media", "err", err)
		return
	}

	select {
	case s.outboundNormal <- outboundFrame{payload: frame, isAgentAudio: true, responseID: e.ResponseID}:
		s.outboundBytes.Add(int64(len(companded)))
		s.observer.AudioBytes("outbound", len(companded))
	default:
		// Queue full: drop the oldest-pending policy is handled by the
		// writer's pacing; here the newest frame is shed to bound lag.
		s.droppedFrames.Add(1)
		s.observer.FrameDropped("outbound")
	}
}

func (s *CallSession) enqueuePriority(payload []byte) {
	if len(payload) == 0 {
		return
	}
	select {
	case s.outboundPriority <- outboundFrame{payload: payload}:
	case <-s.closing:
	default:
		s.droppedFrames.Add(1)
		s.observer.FrameDropped("outbound")
	}
}

func (s *CallSession) markCanceled(responseID string) {
	s.canceledMu.Lock()
	s.canceled[responseID] = struct{}{}
	s.canceledMu.Unlock()
}

func (s *CallSession) isCanceled(responseID string) bool {
	if responseID == "" {
		return false
	}
	s.canceledMu.Lock()
	_, ok := s.canceled[responseID]
	s.canceledMu.Unlock()
	return ok
}

func protocolMark(streamSid, responseID string) []byte {
	frame, err := protocol.EncodeMark(streamSid, "response-"+responseID)
	if err != nil {
		return nil
	}
	return frame
}
