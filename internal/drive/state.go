package drive

import "fmt"

// NodeState is the soft-delete lifecycle of a node.
type NodeState int

const (
	StateActive NodeState = iota
	StateTrashed
	StatePurged
)

func (s NodeState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTrashed:
		return "trashed"
	case StatePurged:
		return "purged"
	}
	return fmt.Sprintf("NodeState(%d)", int(s))
}

// ParseNodeState converts the persisted representation back to a NodeState.
func ParseNodeState(v string) (NodeState, error) {
	switch v {
	case "active":
		return StateActive, nil
	case "trashed":
		return StateTrashed, nil
	case "purged":
		return StatePurged, nil
	}
	return 0, fmt.Errorf("unknown node state %q", v)
}

// CanTransition reports whether a node in state s may be moved to state to by
// a top-level operation. Purged only admits Purged so an interrupted purge can
// be resumed.
func (s NodeState) CanTransition(to NodeState) bool {
	switch s {
	case StateActive:
		return to == StateTrashed || to == StatePurged
	case StateTrashed:
		return to == StateActive || to == StateTrashed || to == StatePurged
	case StatePurged:
		return to == StatePurged
	}
	return false
}

// checkTransition returns ErrInvalidTransition when n cannot move to state to.
func checkTransition(n *Node, to NodeState) error {
	if !n.State.CanTransition(to) {
		return fmt.Errorf("node %d: %s -> %s: %w", n.ID, n.State, to, ErrInvalidTransition)
	}
	return nil
}
