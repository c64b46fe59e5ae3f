package entities

// InvocationState is a step of the dispatch state machine.
type InvocationState int

const (
	StateReceived InvocationState = iota
	StateRouted
	StateBuffersPrepared
	StateExecuting
	StateCompleted
	StateRejected
)

var stateNames = [...]string{
	StateReceived:        "RECEIVED",
	StateRouted:          "ROUTED",
	StateBuffersPrepared: "BUFFERS_PREPARED",
	StateExecuting:       "EXECUTING",
	StateCompleted:       "COMPLETED",
	StateRejected:        "REJECTED",
}

func (s InvocationState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is allowed.
func (s InvocationState) Terminal() bool {
	return s == StateCompleted || s == StateRejected
}

// CanTransition reports whether moving from s to next is legal. Static blob
// routes complete straight from ROUTED. Only RECEIVED and ROUTED may be
// rejected; once buffers exist the invocation always completes.
func (s InvocationState) CanTransition(next InvocationState) bool {
	switch s {
	case StateReceived:
		return next == StateRouted || next == StateRejected
	case StateRouted:
		return next == StateBuffersPrepared || next == StateCompleted || next == StateRejected
	case StateBuffersPrepared:
		return next == StateExecuting
	case StateExecuting:
		return next == StateCompleted
	}
	return false
}

// CallMode selects how a module is entered.
type CallMode string

const (
	// ModeDirect calls a named export with i32 arguments.
	ModeDirect CallMode = "direct"
	// ModePOSIX runs _start with stdin/stdout wired to buffers.
	ModePOSIX CallMode = "posix"
)

// ParseCallMode maps a guest-supplied mode string. Empty means direct.
func ParseCallMode(s string) (CallMode, bool) {
	switch CallMode(s) {
	case "", ModeDirect:
		return ModeDirect, true
	case ModePOSIX:
		return ModePOSIX, true
	}
	return "", false
}
