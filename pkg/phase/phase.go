package phase

// Phase is the coarse lifecycle stage of one interview session.
// It is machine state, never persisted.
type Phase int

const (
	Greeting Phase = iota
	Connecting
	Active
	Ending
	Completed
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case Greeting:
		return "GREETING"
	case Connecting:
		return "CONNECTING"
	case Active:
		return "ACTIVE"
	case Ending:
		return "ENDING"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}
