package panel

import "fmt"

// Priority ranks what a tile shows first. Higher wins.
type Priority int

const (
	PriorityReady Priority = iota
	PriorityNotReady
	PriorityArmed
	PriorityBypass
	PriorityTrouble
	PriorityAlarm
)

// String returns string representation.
func (p Priority) String() string {
	switch p {
	case PriorityReady:
		return "ready"
	case PriorityNotReady:
		return "not-ready"
	case PriorityArmed:
		return "armed"
	case PriorityBypass:
		return "bypass"
	case PriorityTrouble:
		return "trouble"
	case PriorityAlarm:
		return "alarm"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Colour returns the panel's tile colour for p.
func (p Priority) Colour() string {
	switch p {
	case PriorityAlarm, PriorityArmed:
		return "red"
	case PriorityTrouble:
		return "blue"
	case PriorityBypass:
		return "yellow"
	case PriorityNotReady:
		return "grey"
	default:
		return "green"
	}
}

// MarshalText encodes the priority by name for JSON and YAML output.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
