package types

// node's position in the access cycle
// RELEASED -> WANTED on a local request, WANTED -> HELD once every
// required peer has acknowledged, HELD -> RELEASED when the print
// operation finishes; the machine cycles for the process lifetime
type NodeState uint

const (
	StateReleased NodeState = iota
	StateWanted
	StateHeld
)

func (s NodeState) String() string {
	switch s {
	case StateReleased:
		return "RELEASED"
	case StateWanted:
		return "WANTED"
	case StateHeld:
		return "HELD"
	default:
		return "UNKNOWN"
	}
}
