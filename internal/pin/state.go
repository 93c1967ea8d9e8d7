package pin

// State is a PIN lifecycle state.
type State int

const (
	NoPinSet State = iota
	AwaitingFirstEntry
	AwaitingConfirmation
	PinConfirmed // PIN exists, vault locked
	PinValidated // PIN held in the live session
)

func (s State) String() string {
	switch s {
	case NoPinSet:
		return "no_pin_set"
	case AwaitingFirstEntry:
		return "awaiting_first_entry"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case PinConfirmed:
		return "locked"
	case PinValidated:
		return "unlocked"
	default:
		return "unknown"
	}
}

// MarshalText lets State serialize as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
