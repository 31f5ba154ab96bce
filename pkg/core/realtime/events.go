package realtime

// Event is the interface for all realtime session events. The event
// sequence produced by a session is finite: it ends when the session
// closes and is not restartable.
type Event interface {
	// EventType returns the event type string for logging.
	EventType() string
}

// SpeechStartedEvent is emitted when server-side VAD detects the
// caller starting to speak.
type SpeechStartedEvent struct{}

func (e *SpeechStartedEvent) EventType() string { return "speech.started" }

// SpeechStoppedEvent is emitted when server-side VAD detects the
// caller going silent.
type SpeechStoppedEvent struct{}

func (e *SpeechStoppedEvent) EventType() string { return "speech.stopped" }

// ResponseStartedEvent is emitted when the API begins generating an
// agent response.
type ResponseStartedEvent struct {
	ResponseID string
}

func (e *ResponseStartedEvent) EventType() string { return "response.started" }

// AudioDeltaEvent carries one decoded chunk of response audio as
// linear PCM at the session's output rate.
type AudioDeltaEvent struct {
	ResponseID string
	// Seq increases monotonically per session, for diagnostics only.
	Seq int64
	PCM []byte
}

func (e *AudioDeltaEvent) EventType() string { return "response.audio_delta" }

// ResponseCompletedEvent is emitted when the in-flight response is
// finalized, whether fully delivered or cancelled server-side.
type ResponseCompletedEvent struct {
	ResponseID string
	// Transcript is the text form of the spoken response, when the
	// API provided one.
	Transcript string
}

func (e *ResponseCompletedEvent) EventType() string { return "response.completed" }

// ErrorEvent is emitted for peer-reported and connection errors.
type ErrorEvent struct {
	Kind    ErrorKind
	Message string
}

func (e *ErrorEvent) EventType() string { return "error" }
