package panel

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Unused marks a name slot with no configured device.
const Unused = "!"

// NormalizeName decodes a percent-escaped panel name, normalizes it to NFC
// and trims surrounding space. Invalid escapes are kept verbatim.
func NormalizeName(raw string) string {
	name, err := url.PathUnescape(raw)
	if err != nil {
		name = raw
	}
	return strings.TrimSpace(norm.NFC.String(name))
}

// Names is a slot-indexed name list as delivered by the panel.
type Names []string

// ParseNames normalizes every slot. Unused slots keep the Unused marker.
func ParseNames(raw []string) Names {
	out := make(Names, len(raw))
	for i, r := range raw {
		out[i] = NormalizeName(r)
	}
	return out
}

// Used reports whether slot i (0-based) holds a configured device.
func (n Names) Used(i int) bool {
	return i >= 0 && i < len(n) && n[i] != Unused
}

// Label returns the display name of slot i, falling back to
// "<fallback> <i+1>" when the panel left it blank.
func (n Names) Label(i int, fallback string) string {
	if i < 0 || i >= len(n) || n[i] == "" {
		return fmt.Sprintf("%s %d", fallback, i+1)
	}
	return n[i]
}

// Count returns the number of used slots.
func (n Names) Count() int {
	count := 0
	for i := range n {
		if n.Used(i) {
			count++
		}
	}
	return count
}
