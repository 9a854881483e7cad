// Package xmlvalue extracts fields from the panel's tag-delimited response bodies.
//
// The panel does not emit well-formed XML. Every parser in this module relies on
// the same first-match scan, so nested or repeated tags resolve to the first
// occurrence and attributes are never understood.
package xmlvalue

import "strings"

// Sentinel is the body prefix the panel serves instead of data when the
// session is no longer valid (its login page).
const Sentinel = "<!DOCTYPE"

// Extract returns the text between the first "<tag>" and the first "</tag>"
// in data. It returns "" when either marker is missing or the closing marker
// appears before the opening one.
func Extract(data, tag string) string {
	open := "<" + tag + ">"
	s := strings.Index(data, open)
	e := strings.Index(data, "</"+tag+">")
	if s >= 0 && e > s {
		return data[s+len(open) : e]
	}
	return ""
}

// IsSentinel reports whether body starts with the session-expired marker.
// The comparison is case-insensitive over the first len(Sentinel) bytes.
func IsSentinel(body string) bool {
	if len(body) < len(Sentinel) {
		return false
	}
	return strings.EqualFold(body[:len(Sentinel)], Sentinel)
}

// List extracts tag and splits it on sep. An empty field yields nil.
func List(data, tag, sep string) []string {
	v := Extract(data, tag)
	if v == "" {
		return nil
	}
	return strings.Split(v, sep)
}
