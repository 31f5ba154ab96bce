// Package lifecycle tracks whether the gateway is draining. During a
// graceful shutdown the process stops admitting new calls but keeps the
// live media streams running until they finish, and the readiness probe
// has to start failing so the load balancer routes new calls elsewhere.
package lifecycle

import "sync/atomic"

// Lifecycle is shared between the signal handler that initiates shutdown
// and the HTTP handlers that gate admission on it. All methods are safe on
// a nil receiver, which reads as "not draining".
type Lifecycle struct {
	draining atomic.Bool
}

// SetDraining flips the drain state. The signal handler sets it to true
// once on SIGTERM; tests set it back to false.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

// IsDraining reports whether new calls should be refused.
func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
