package realtime

import (
	"fmt"
	"strings"
)

const (
	// DefaultInputRate is the linear PCM rate the speech API ingests.
	DefaultInputRate = 16000
	// DefaultOutputRate is the linear PCM rate of response audio deltas.
	DefaultOutputRate = 24000
)

// TurnDetection selects how turn boundaries are decided for the
// lifetime of a session. Exactly one of the two fields is set; the
// zero value is invalid so the choice is always explicit.
//
// Under server-side VAD the manual commit path is unreachable:
// Session.Commit rejects the call before anything is written, because
// the API treats a manual commit under automatic detection as a
// protocol violation.
type TurnDetection struct {
	ServerVAD *ServerVAD
	Manual    *ManualCommit
}

// ServerVAD enables server-side voice-activity detection.
type ServerVAD struct {
	// Threshold is the detection sensitivity in [0,1].
	Threshold float64
	// PrefixPadding is leading audio included before detected speech.
	PrefixPaddingMS int
	// SilenceDuration is trailing silence before a turn is complete.
	SilenceDurationMS int
}

// ManualCommit disables automatic detection; the caller decides turn
// boundaries by calling Session.Commit.
type ManualCommit struct{}

func (t TurnDetection) validate() error {
	switch {
	case t.ServerVAD != nil && t.Manual != nil:
		return fmt.Errorf("turn detection must be server VAD or manual, not both")
	case t.ServerVAD != nil:
		if t.ServerVAD.Threshold < 0 || t.ServerVAD.Threshold > 1 {
			return fmt.Errorf("vad threshold must be in [0,1]")
		}
		if t.ServerVAD.PrefixPaddingMS < 0 {
			return fmt.Errorf("vad prefix padding must be >= 0")
		}
		if t.ServerVAD.SilenceDurationMS <= 0 {
			return fmt.Errorf("vad silence duration must be > 0")
		}
		return nil
	case t.Manual != nil:
		return nil
	default:
		return fmt.Errorf("turn detection mode is required")
	}
}

// Config describes one realtime voice session.
type Config struct {
	// URL is the WebSocket endpoint, e.g.
	// wss://api.openai.com/v1/realtime. The model is appended as a
	// query parameter.
	URL    string
	APIKey string
	Model  string

	// Instructions is the per-call system prompt.
	Instructions string
	// Voice selects the agent voice for response audio.
	Voice string

	TurnDetection TurnDetection

	// InputRate and OutputRate are the linear PCM rates for appended
	// caller audio and response deltas. Defaults apply when zero.
	InputRate  int
	OutputRate int

	// EventBufferSize bounds the event channel. When the consumer is
	// not keeping up, audio deltas are dropped rather than queued
	// without bound. Defaults to 64.
	EventBufferSize int
}

func (c *Config) applyDefaults() {
	if c.InputRate <= 0 {
		c.InputRate = DefaultInputRate
	}
	if c.OutputRate <= 0 {
		c.OutputRate = DefaultOutputRate
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = 64
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("realtime url is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("realtime model is required")
	}
	return c.TurnDetection.validate()
}
