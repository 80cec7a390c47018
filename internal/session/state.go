package session

// State tracks a single connection attempt. Transitions are driven by
// local ICE gathering, signaling responses, and data channel events;
// StateOpen, StateClosed, and StateFailed are reached at most once.
type State int32

const (
	StateNew State = iota
	StateGatheringLocal
	StateOfferSent
	StateAwaitingAnswer
	StateNegotiatingRemote
	StateOpen
	StateClosed
	StateFailed
)

var stateNames = map[State]string{
	StateNew:               "new",
	StateGatheringLocal:    "gathering-local",
	StateOfferSent:         "offer-sent",
	StateAwaitingAnswer:    "awaiting-answer",
	StateNegotiatingRemote: "negotiating-remote-candidates",
	StateOpen:              "open",
	StateClosed:            "closed",
	StateFailed:            "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
