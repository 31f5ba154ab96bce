// Package sessions tracks the set of live call sessions so the process
// can enumerate them and drain cleanly on shutdown.
package sessions

import (
	"context"
	"sync"
)

// Handle is what the tracker needs from a live call: identity for
// introspection and a way to hang it up. CallSid is a function because
// the provider call SID is unknown until the stream's start event
// arrives, after the call has been registered.
type Handle struct {
	CallSid func() string
	Close   func()
}

// Info identifies one live call.
type Info struct {
	SessionID string
	CallSid   string
}

type Tracker struct {
	mu    sync.Mutex
	calls map[string]*trackedCall
	wg    sync.WaitGroup
}

type trackedCall struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		calls: make(map[string]*trackedCall),
	}
}

// Register adds a call under its session ID and returns the matching
// unregister. Re-registering an ID replaces and releases the old entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedCall{handle: h}

	t.mu.Lock()
	if t.calls == nil {
		t.calls = make(map[string]*trackedCall)
	}
	old := t.calls[sessionID]
	t.calls[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedCall) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.calls != nil && t.calls[sessionID] == entry {
			delete(t.calls, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Snapshot lists the live calls at this instant.
func (t *Tracker) Snapshot() []Info {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Info, 0, len(t.calls))
	for id, entry := range t.calls {
		info := Info{SessionID: id}
		if entry.handle.CallSid != nil {
			info.CallSid = entry.handle.CallSid()
		}
		out = append(out, info)
	}
	return out
}

// CloseAll hangs up every live call. Close callbacks run outside the
// lock so a call may unregister itself from within.
func (t *Tracker) CloseAll() (closed int) {
	if t == nil {
		return 0
	}

	var closes []func()
	t.mu.Lock()
	for _, entry := range t.calls {
		if entry == nil || entry.handle.Close == nil {
			continue
		}
		closes = append(closes, entry.handle.Close)
	}
	t.mu.Unlock()

	for _, c := range closes {
		c()
		closed++
	}
	return closed
}

// Wait blocks until every registered call has unregistered or the
// context expires; it reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
