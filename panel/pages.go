package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Page endpoints.
const (
	LoginPath     = "/login.cgi"
	LogoutPath    = "/logout.cgi"
	ZonesPath     = "/user/zones.htm"
	LoginPagePath = "/login.htm"
)

// ErrNoSession is returned when a login response carries no session token.
var ErrNoSession = errors.New("no session in login response")

var sessionRe = regexp.MustCompile(`function getSession\(\)[^"]+"([^"]+)"`)

// LoginState is what the panel's login.cgi page delivers.
type LoginState struct {
	Session       string
	AreaNames     Names
	AreaSequences []int
	AreaStatus    []string
}

// ZonesState is what the panel's zones.htm page delivers.
type ZonesState struct {
	ZoneNames     Names
	ZoneSequences []int
	ZoneStatus    [][]string
}

// ParseLogin extracts the session token and the initial area state.
// AreaNames is optional; the other arrays are required.
func ParseLogin(body string) (*LoginState, error) {
	m := sessionRe.FindStringSubmatch(body)
	if m == nil {
		return nil, ErrNoSession
	}

	state := &LoginState{Session: m[1]}
	var err error

	if state.AreaSequences, err = intArray(body, "areaSequence"); err != nil {
		return nil, err
	}
	if state.AreaStatus, err = flatArray(body, "areaStatus"); err != nil {
		return nil, err
	}
	if names, err := flatArray(body, "areaNames"); err == nil {
		state.AreaNames = ParseNames(names)
	}
	return state, nil
}

// ParseZones extracts the zone names, sequence vector and status rows.
func ParseZones(body string) (*ZonesState, error) {
	names, err := flatArray(body, "zoneNames")
	if err != nil {
		return nil, err
	}
	state := &ZonesState{ZoneNames: ParseNames(names)}

	if state.ZoneSequences, err = intArray(body, "zoneSequence"); err != nil {
		return nil, err
	}
	if state.ZoneStatus, err = rowArray(body, "zoneStatus"); err != nil {
		return nil, err
	}
	return state, nil
}

// jsArray returns the bracketed literal assigned to "var <name>".
func jsArray(body, name string) (string, error) {
	re := regexp.MustCompile(`var ` + regexp.QuoteMeta(name) + `\s*=\s*\[`)
	loc := re.FindStringIndex(body)
	if loc == nil {
		return "", fmt.Errorf("%s not found", name)
	}

	start := loc[1] - 1
	depth := 0
	inString := false
	for i := start; i < len(body); i++ {
		c := body[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth == 0 {
				return body[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%s: unterminated array", name)
}

func decodeArray(body, name string) ([]interface{}, error) {
	lit, err := jsArray(body, name)
	if err != nil {
		return nil, err
	}
	var values []interface{}
	if err := json.Unmarshal([]byte(lit), &values); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return values, nil
}

// flatArray decodes an array of strings or numbers into strings.
func flatArray(body, name string) ([]string, error) {
	values, err := decodeArray(body, name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, scalar(v))
	}
	return out, nil
}

func intArray(body, name string) ([]int, error) {
	values, err := flatArray(body, name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(values))
	for i, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
		}
		out[i] = n
	}
	return out, nil
}

// rowArray decodes an array of rows. A row is either a nested array or a
// comma-separated string.
func rowArray(body, name string) ([][]string, error) {
	values, err := decodeArray(body, name)
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(values))
	for i, v := range values {
		switch row := v.(type) {
		case []interface{}:
			out[i] = make([]string, len(row))
			for j, cell := range row {
				out[i][j] = scalar(cell)
			}
		case string:
			out[i] = strings.Split(row, ",")
		default:
			out[i] = []string{scalar(row)}
		}
	}
	return out, nil
}

func scalar(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
