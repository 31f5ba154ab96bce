package sessions

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func sid(s string) func() string {
	return func() string { return s }
}

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("s1", Handle{CallSid: sid("CA1")})
	u2 := tr.Register("s2", Handle{CallSid: sid("CA2")})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_RegisterSameID_ReplacesOldEntry(t *testing.T) {
	tr := NewTracker()
	tr.Register("s1", Handle{CallSid: sid("CA1")})
	u2 := tr.Register("s1", Handle{CallSid: sid("CA2")})

	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1 after replacement", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatal("replaced entry must release its wait slot")
	}
}

func TestTracker_CloseAll_HangsUpEveryCall(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("s1", Handle{CallSid: sid("CA1"), Close: func() { c1.Add(1) }})
	tr.Register("s2", Handle{CallSid: sid("CA2"), Close: func() { c2.Add(1) }})

	if n := tr.CloseAll(); n != 2 {
		t.Fatalf("closed=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("close calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_Snapshot(t *testing.T) {
	tr := NewTracker()
	tr.Register("s1", Handle{CallSid: sid("CA1")})
	tr.Register("s2", Handle{CallSid: sid("CA2")})

	infos := tr.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(infos))
	}
	seen := map[string]string{}
	for _, info := range infos {
		seen[info.SessionID] = info.CallSid
	}
	if seen["s1"] != "CA1" || seen["s2"] != "CA2" {
		t.Fatalf("snapshot = %v", seen)
	}
}

func TestTracker_SnapshotSeesCallSidRevealedAfterRegister(t *testing.T) {
	tr := NewTracker()

	// Calls register before the stream start event names them.
	var mu sync.Mutex
	callSid := ""
	tr.Register("s1", Handle{CallSid: func() string {
		mu.Lock()
		defer mu.Unlock()
		return callSid
	}})

	if got := tr.Snapshot()[0].CallSid; got != "" {
		t.Fatalf("CallSid before start = %q, want empty", got)
	}

	mu.Lock()
	callSid = "CA1"
	mu.Unlock()
	if got := tr.Snapshot()[0].CallSid; got != "CA1" {
		t.Fatalf("CallSid after start = %q, want CA1", got)
	}

	tr.Register("s2", Handle{})
	for _, info := range tr.Snapshot() {
		if info.SessionID == "s2" && info.CallSid != "" {
			t.Fatalf("nil CallSid func should read as empty, got %q", info.CallSid)
		}
	}
}

func TestTracker_WaitTimesOutWithLiveCalls(t *testing.T) {
	tr := NewTracker()
	tr.Register("s1", Handle{CallSid: sid("CA1")})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); ok {
		t.Fatal("Wait should time out while a call is registered")
	}
}
