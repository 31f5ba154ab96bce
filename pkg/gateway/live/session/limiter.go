package session

import "time"

// inboundAudioLimiter bounds caller audio to a frames-per-second and
// bytes-per-second budget with a small burst allowance. A nil limiter
// allows everything, so callers never need to check for one.
type inboundAudioLimiter struct {
	now        func() time.Time
	lastRefill time.Time

	frameRate   int64
	frameTokens int64
	byteRate    int64
	byteTokens  int64
	burst       int64
}

func newInboundAudioLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *inboundAudioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	l := &inboundAudioLimiter{
		now:        now,
		lastRefill: now(),
		frameRate:  int64(fps),
		byteRate:   bps,
		burst:      int64(burstSeconds),
	}
	l.frameTokens = l.frameRate * l.burst
	l.byteTokens = l.byteRate * l.burst
	return l
}

func (l *inboundAudioLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	if frameBytes < 0 {
		frameBytes = 0
	}
	l.refill()

	if l.frameRate > 0 && l.frameTokens < 1 {
		return false
	}
	if l.byteRate > 0 && l.byteTokens < int64(frameBytes) {
		return false
	}
	if l.frameRate > 0 {
		l.frameTokens--
	}
	if l.byteRate > 0 {
		l.byteTokens -= int64(frameBytes)
	}
	return true
}

func (l *inboundAudioLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.frameTokens = refillTokens(l.frameTokens, l.frameRate, l.burst, elapsed)
	l.byteTokens = refillTokens(l.byteTokens, l.byteRate, l.burst, elapsed)
	l.lastRefill = now
}

func refillTokens(tokens, rate, burst int64, elapsed time.Duration) int64 {
	if rate <= 0 {
		return tokens
	}
	tokens += (elapsed.Nanoseconds() * rate) / int64(time.Second)
	if max := rate * burst; tokens > max {
		tokens = max
	}
	return tokens
}
