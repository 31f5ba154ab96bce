// Package registry holds per-call conversation context: the
// instructions and voice a speech session is configured with, plus the
// transcript accumulated while the call runs.
package registry

import (
	"sync"
	"time"
)

// Defaults seed the context of every new call.
type Defaults struct {
	SystemPrompt string
	Voice        string
	Greeting     string
}

// ConversationContext is the per-call view handed to the bridge and to
// operators inspecting a live call.
type ConversationContext struct {
	SessionID    string
	CallSid      string
	SystemPrompt string
	Voice        string
	Greeting     string
	StartedAt    time.Time
	Transcript   []string
}

type Registry struct {
	mu       sync.Mutex
	defaults Defaults
	now      func() time.Time
	contexts map[string]*ConversationContext
}

func New(defaults Defaults) *Registry {
	return &Registry{
		defaults: defaults,
		now:      time.Now,
		contexts: make(map[string]*ConversationContext),
	}
}

// GetContext returns the context for a session, creating one seeded
// from the defaults on first use.
func (r *Registry) GetContext(sessionID string) ConversationContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.ensureLocked(sessionID))
}

// Bind attaches the telephony call identifier once the stream start
// envelope reveals it.
func (r *Registry) Bind(sessionID, callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(sessionID).CallSid = callSid
}

// AppendTranscript records one completed agent utterance.
func (r *Registry) AppendTranscript(sessionID, line string) {
	if line == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx := r.ensureLocked(sessionID)
	ctx.Transcript = append(ctx.Transcript, line)
}

// Clear drops a session's context at teardown and returns the final
// snapshot for call records.
func (r *Registry) Clear(sessionID string) (ConversationContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.contexts[sessionID]
	if !ok {
		return ConversationContext{}, false
	}
	delete(r.contexts, sessionID)
	return snapshot(ctx), true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

func (r *Registry) ensureLocked(sessionID string) *ConversationContext {
	ctx, ok := r.contexts[sessionID]
	if !ok {
		ctx = &ConversationContext{
			SessionID:    sessionID,
			SystemPrompt: r.defaults.SystemPrompt,
			Voice:        r.defaults.Voice,
			Greeting:     r.defaults.Greeting,
			StartedAt:    r.now(),
		}
		r.contexts[sessionID] = ctx
	}
	return ctx
}

func snapshot(ctx *ConversationContext) ConversationContext {
	out := *ctx
	out.Transcript = make([]string, len(ctx.Transcript))
	copy(out.Transcript, ctx.Transcript)
	return out
}
