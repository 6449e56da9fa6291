package loop

// State is a node of the runtime state machine.
type State int

const (
	Idle State = iota
	Planning
	Dispatching
	Parsing
	Validating
	Persisting
	Refining
	Done
	Failed
)

var stateNames = [...]string{
	Idle:        "idle",
	Planning:    "planning",
	Dispatching: "dispatching",
	Parsing:     "parsing",
	Validating:  "validating",
	Persisting:  "persisting",
	Refining:    "refining",
	Done:        "done",
	Failed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// observations keeps the last size notes about failed steps.
type observations struct {
	size  int
	items []string
}

func newObservations(size int) *observations {
	return &observations{size: size}
}

func (o *observations) add(note string) {
	if o.size <= 0 {
		return
	}
	o.items = append(o.items, note)
	if len(o.items) > o.size {
		o.items = append([]string(nil), o.items[len(o.items)-o.size:]...)
	}
}

func (o *observations) list() []string {
	if len(o.items) == 0 {
		return nil
	}
	return append([]string(nil), o.items...)
}
