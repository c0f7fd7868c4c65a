package lifecycle

import "sync/atomic"

// Lifecycle holds the process's draining flag. The readiness handler reads
// it so load balancers stop routing to an instance that is shutting down.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
