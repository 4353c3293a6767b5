package resource

import (
	"time"
)

// instance is the runtime record of one descriptor within one run.
// Instances are owned by their Orchestrator and mutated only through transition.
type instance struct {
	desc     Descriptor
	state    State
	resource Resource
	handle   any

	// reachedStarting is set once Start was entered; such instances get a Stop attempt.
	reachedStarting bool
	stopAttempted   bool
	// startDone is closed when the Start call returns, even after its timeout
	// has already been reported.
	startDone chan struct{}

	startErr      error
	stopErr       error
	startDuration time.Duration
	stopDuration  time.Duration
}

func newInstance(d Descriptor) *instance {
	return &instance{desc: d, state: Created}
}

func (i *instance) transition(to State) bool {
	if !canTransition(i.state, to) {
		return false
	}
	i.state = to
	if to == Starting {
		i.reachedStarting = true
	}
	return true
}

func (i *instance) needsStop() bool {
	if i.stopAttempted || !i.reachedStarting || i.resource == nil {
		return false
	}
	return i.state == Running || i.state == Starting || i.state == Failed
}

func handleOf(r Resource) any {
	if h, ok := r.(Handler); ok {
		return h.Handle()
	}
	return r
}

// Snapshot is a point-in-time view of one resource instance.
type Snapshot struct {
	Key           string
	Scope         Scope
	State         State
	Handle        any
	StartDuration time.Duration
	StopDuration  time.Duration
	StartErr      error
	StopErr       error
}

func (i *instance) snapshot() Snapshot {
	return Snapshot{
		Key:           i.desc.Key,
		Scope:         i.desc.Scope,
		State:         i.state,
		Handle:        i.handle,
		StartDuration: i.startDuration,
		StopDuration:  i.stopDuration,
		StartErr:      i.startErr,
		StopErr:       i.stopErr,
	}
}
