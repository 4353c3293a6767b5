package resource

// State is the lifecycle state of one resource instance.
type State uint8

const (
	Created State = iota
	Starting
	Running
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further lifecycle transition can happen.
func (s State) Terminal() bool {
	return s == Stopped || s == Failed
}

var transitions = map[State][]State{
	Created:  {Starting},
	Starting: {Running, Failed},
	Running:  {Stopping},
	Stopping: {Stopped, Failed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
