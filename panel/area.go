// Package panel turns the raw status tables into area and zone views and
// encodes the panel's key-function commands.
package panel

import (
	"strconv"

	"github.com/st-keller/ultrasync/registry"
)

// Area status fields within a bank, in panel order.
const (
	AreaArmedAway = iota
	AreaArmedStay
	AreaReady
	AreaFireAlarm
	AreaBurgAlarm
	AreaPanicAlarm
	AreaMedicalAlarm
	AreaExitDelay
	AreaExitDelay2
	AreaEntryDelay
	AreaZoneBypass
	AreaZoneTrouble
	AreaZoneTamper
	AreaZoneLowBattery
	AreaZoneSupervision
	AreaChime
)

// AreaStates are the labels of the area status fields.
var AreaStates = []string{
	"Armed Away",
	"Armed Stay",
	"Ready",
	"Fire Alarm",
	"Burg Alarm",
	"Panic Alarm",
	"Medical Alarm",
	"Exit Delay",
	"Exit Delay 2",
	"Entry Delay",
	"Zone Bypass",
	"Zone Trouble",
	"Zone Tamper",
	"Zone Low Battery",
	"Zone Supervision",
}

// NotReady is shown for a disarmed area whose ready bit is clear.
const NotReady = "Not Ready"

// AreasPerBank is the number of areas sharing one bank of bit masks.
const AreasPerBank = 8

// Area is the decoded view of one area.
type Area struct {
	Number   int      `json:"number" yaml:"number"`
	Bank     int      `json:"bank" yaml:"bank"`
	Name     string   `json:"name" yaml:"name"`
	Sequence int      `json:"sequence" yaml:"sequence"`
	States   []string `json:"states" yaml:"states"`
	Status   string   `json:"status" yaml:"status"`
	Priority Priority `json:"priority" yaml:"priority"`
	Armed    bool     `json:"armed" yaml:"armed"`
	Partial  bool     `json:"partial" yaml:"partial"`
	Chime    bool     `json:"chime" yaml:"chime"`
}

// AreaBank returns the bank holding area number (1-based).
func AreaBank(number int) int {
	return (number - 1) / AreasPerBank
}

// AreaMask returns the bit of area number (1-based) within its bank.
func AreaMask(number int) int {
	return 1 << ((number - 1) % AreasPerBank)
}

// DecodeArea builds the view of area number (1-based) from the flat status
// table. faults are the system fault lines; more than one counts as trouble.
func DecodeArea(number int, name string, status []string, faults []string) Area {
	i := number - 1
	byteindex := (i / AreasPerBank) * registry.AreaBankWidth
	mask := AreaMask(number)

	set := func(field int) bool {
		return fieldValue(status, byteindex+field)&mask != 0
	}

	a := Area{
		Number:  number,
		Bank:    AreaBank(number),
		Name:    name,
		Armed:   set(AreaArmedAway),
		Partial: set(AreaArmedStay),
		Chime:   set(AreaChime),
	}

	for field, label := range AreaStates {
		if field == AreaReady {
			if a.Armed || a.Partial {
				continue
			}
			if !set(AreaReady) {
				a.States = append(a.States, NotReady)
				continue
			}
		}
		if set(field) {
			a.States = append(a.States, label)
		}
	}
	if len(a.States) > 0 {
		a.Status = a.States[0]
	}

	switch {
	case set(AreaFireAlarm) || set(AreaBurgAlarm) || set(AreaPanicAlarm) || set(AreaMedicalAlarm):
		a.Priority = PriorityAlarm
	case set(AreaZoneTrouble) || set(AreaZoneTamper) || set(AreaZoneLowBattery) || set(AreaZoneSupervision) || len(faults) > 1:
		a.Priority = PriorityTrouble
	case set(AreaZoneBypass) || a.Partial:
		a.Priority = PriorityBypass
	case a.Armed:
		a.Priority = PriorityArmed
	case !set(AreaReady):
		a.Priority = PriorityNotReady
	default:
		a.Priority = PriorityReady
	}
	return a
}

// DecodeAreas decodes every used area slot. sequences are per bank.
func DecodeAreas(names Names, sequences []int, status []string, faults []string) []Area {
	var out []Area
	for i := range names {
		if !names.Used(i) {
			continue
		}
		a := DecodeArea(i+1, names.Label(i, "Area"), status, faults)
		if a.Bank < len(sequences) {
			a.Sequence = sequences[a.Bank]
		}
		out = append(out, a)
	}
	return out
}

// System summarizes all areas the way the panel's "All Partitions" tile does.
type System struct {
	Name     string   `json:"name" yaml:"name"`
	AllAway  bool     `json:"all_away" yaml:"all_away"`
	AllStay  bool     `json:"all_stay" yaml:"all_stay"`
	AllChime bool     `json:"all_chime" yaml:"all_chime"`
	Priority Priority `json:"priority" yaml:"priority"`
	Faults   []string `json:"faults" yaml:"faults"`
}

// Summarize combines decoded areas with the system fault lines.
func Summarize(areas []Area, faults []string) System {
	s := System{
		Name:     "All Partitions",
		AllAway:  len(areas) > 0,
		AllStay:  len(areas) > 0,
		AllChime: len(areas) > 0,
		Faults:   faults,
	}
	for _, a := range areas {
		s.AllAway = s.AllAway && a.Armed
		s.AllStay = s.AllStay && a.Partial
		s.AllChime = s.AllChime && a.Chime
		if a.Priority > s.Priority {
			s.Priority = a.Priority
		}
	}
	return s
}

// fieldValue parses status[i] as a decimal bit mask. Missing or malformed
// fields read as 0.
func fieldValue(status []string, i int) int {
	if i < 0 || i >= len(status) {
		return 0
	}
	v, err := strconv.Atoi(status[i])
	if err != nil {
		return 0
	}
	return v
}
