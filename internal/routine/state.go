package routine

type State int32

const (
	StateIdle State = iota
	StateSelecting
	StateBatching
	StateNormalizing
	StatePersisting
	StateAdvancingCursor
	StateSleeping
	StateStopped
)

var stateNames = []string{
	"idle",
	"selecting",
	"batching",
	"normalizing",
	"persisting",
	"advancing_cursor",
	"sleeping",
	"stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
