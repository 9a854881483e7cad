package panel

// Zone status categories. Each category is one row of the zone status
// table, holding a bit mask per group of ZonesPerWord zones.
const (
	ZoneNotReady = iota
	ZoneTamper
	ZoneTrouble
	ZoneBypass
	ZoneInhibited
	ZoneAlarm
	ZoneLowBattery
	ZoneSupervisionFault
)

// ZoneStates are the labels of the zone status categories.
var ZoneStates = []string{
	"Not Ready",
	"Tamper",
	"Trouble",
	"Bypass",
	"Inhibited",
	"Alarm",
	"Low Battery",
	"Supervision Fault",
}

// Ready is shown for a zone whose not-ready bit is clear.
const Ready = "Ready"

// ZonesPerWord is the number of zones sharing one mask value.
const ZonesPerWord = 16

// Zone is the decoded view of one zone.
type Zone struct {
	Number   int      `json:"number" yaml:"number"`
	Name     string   `json:"name" yaml:"name"`
	States   []string `json:"states" yaml:"states"`
	Status   string   `json:"status" yaml:"status"`
	Priority Priority `json:"priority" yaml:"priority"`
	Bypassed bool     `json:"bypassed" yaml:"bypassed"`
}

// DecodeZone builds the view of zone number (1-based) from the zone status
// rows, indexed by category.
func DecodeZone(number int, name string, status [][]string) Zone {
	i := number - 1
	word := i / ZonesPerWord
	mask := 1 << (i % ZonesPerWord)

	set := func(category int) bool {
		if category >= len(status) {
			return false
		}
		return fieldValue(status[category], word)&mask != 0
	}

	z := Zone{
		Number:   number,
		Name:     name,
		Bypassed: set(ZoneBypass),
	}

	if !set(ZoneNotReady) {
		z.States = append(z.States, Ready)
	}
	for category, label := range ZoneStates {
		if set(category) {
			z.States = append(z.States, label)
		}
	}
	z.Status = z.States[0]

	switch {
	case set(ZoneAlarm):
		z.Priority = PriorityAlarm
	case set(ZoneTamper) || set(ZoneTrouble) || set(ZoneLowBattery) || set(ZoneSupervisionFault):
		z.Priority = PriorityTrouble
	case set(ZoneBypass) || set(ZoneInhibited):
		z.Priority = PriorityBypass
	case set(ZoneNotReady):
		z.Priority = PriorityNotReady
	default:
		z.Priority = PriorityReady
	}
	return z
}

// DecodeZones decodes every used zone slot.
func DecodeZones(names Names, status [][]string) []Zone {
	var out []Zone
	for i := range names {
		if !names.Used(i) {
			continue
		}
		out = append(out, DecodeZone(i+1, names.Label(i, "Zone"), status))
	}
	return out
}
