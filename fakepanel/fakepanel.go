// Package fakepanel emulates the web server of an UltraSync / ComNav alarm
// panel closely enough to drive the client end to end: login and logout,
// the sequence vector, full-state banks and the key/zone function commands.
package fakepanel

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	bankWidth     = 17
	areasPerBank  = 8
	zonesPerWord  = 16
	zoneRows      = 8
	bypassRow     = 3
	fieldArmed    = 0
	fieldPartial  = 1
	fieldReady    = 2
	fieldChime    = 15
	funcChime     = 1
	funcDisarm    = 16
	funcAway      = 17
	funcStay      = 18
	loginPageHTML = `<!DOCTYPE html><html><head><title>Login</title></head><body><form action="/login.cgi" method="post"></form></body></html>`
)

// Options configures a Panel.
type Options struct {
	User      string   // default "User 1"
	Pin       string   // default "1234"
	AreaNames []string // raw (percent-escaped) names, "!" for unused; default one area
	ZoneNames []string // raw names, "!" for unused; default four zones
	Logger    *slog.Logger
}

// Panel is an in-memory panel. It is safe for concurrent use.
type Panel struct {
	mu sync.Mutex

	user, pin string
	session   string

	areaNames  []string
	areaSeq    []int
	areaStatus []string

	zoneNames  []string
	zoneSeq    []int
	zoneStatus [][]string

	faults        []string
	expiredStatus int
	silent        map[string]bool
	hits          map[string]int

	logger *slog.Logger
}

// New creates a panel with every area disarmed and ready and every zone ready.
func New(opts Options) *Panel {
	if opts.User == "" {
		opts.User = "User 1"
	}
	if opts.Pin == "" {
		opts.Pin = "1234"
	}
	if len(opts.AreaNames) == 0 {
		opts.AreaNames = []string{"Home"}
	}
	if len(opts.ZoneNames) == 0 {
		opts.ZoneNames = []string{"Front%20door", "Back%20door", "Garage", "Hallway"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	banks := (len(opts.AreaNames) + areasPerBank - 1) / areasPerBank
	words := (len(opts.ZoneNames) + zonesPerWord - 1) / zonesPerWord

	p := &Panel{
		user:          opts.User,
		pin:           opts.Pin,
		areaNames:     append([]string(nil), opts.AreaNames...),
		areaSeq:       make([]int, banks),
		areaStatus:    make([]string, banks*bankWidth),
		zoneNames:     append([]string(nil), opts.ZoneNames...),
		zoneSeq:       make([]int, zoneRows),
		zoneStatus:    make([][]string, zoneRows),
		faults:        []string{"No System Faults"},
		expiredStatus: http.StatusOK,
		silent:        map[string]bool{},
		hits:          map[string]int{},
		logger:        opts.Logger,
	}
	for i := range p.areaStatus {
		p.areaStatus[i] = "0"
	}
	for i, name := range p.areaNames {
		if name != "!" {
			p.setAreaBit(i+1, fieldReady, true)
		}
	}
	for row := range p.zoneStatus {
		p.zoneStatus[row] = make([]string, words)
		for w := range p.zoneStatus[row] {
			p.zoneStatus[row][w] = "0"
		}
	}
	return p
}

// Handler returns the panel's HTTP routes.
func (p *Panel) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/login.htm", p.handleLoginPage).Methods("GET")
	r.HandleFunc("/login.cgi", p.handleLogin).Methods("POST")
	r.HandleFunc("/logout.cgi", p.handleLogout).Methods("POST")
	r.HandleFunc("/user/zones.htm", p.authed(p.handleZones)).Methods("GET", "POST")
	r.HandleFunc("/user/seq.xml", p.authed(p.handleSequence)).Methods("GET", "POST")
	r.HandleFunc("/user/status.xml", p.authed(p.handleAreaState)).Methods("GET", "POST")
	r.HandleFunc("/user/zstate.xml", p.authed(p.handleZoneState)).Methods("GET", "POST")
	r.HandleFunc("/user/keyfunction.cgi", p.authed(p.handleKeyFunction)).Methods("POST")
	r.HandleFunc("/user/zonefunction.cgi", p.authed(p.handleZoneFunction)).Methods("POST")
	return r
}

// Session returns the current session token, or "" when logged out.
func (p *Panel) Session() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Expire invalidates the current session as the panel does after inactivity.
func (p *Panel) Expire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = ""
}

// SetExpiredStatus selects how requests with an invalid session are answered:
// http.StatusOK serves the login page, anything else is sent as the status.
func (p *Panel) SetExpiredStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiredStatus = status
}

// SetSilent makes the panel hold requests to path until the client gives up.
func (p *Panel) SetSilent(path string, silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent[path] = silent
}

// Hits returns how many requests reached path.
func (p *Panel) Hits(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

// SetAreaField sets or clears area's bit in a status field and moves the
// bank's sequence number.
func (p *Panel) SetAreaField(area, field int, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setAreaBit(area, field, on)
	p.areaSeq[(area-1)/areasPerBank]++
}

// SetZoneState sets or clears zone's bit in a status category row and moves
// the row's sequence number.
func (p *Panel) SetZoneState(zone, category int, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setZoneBit(zone, category, on)
	p.zoneSeq[category]++
}

// SetFaults replaces the system fault lines.
func (p *Panel) SetFaults(faults ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults = append([]string(nil), faults...)
	if len(p.areaSeq) > 0 {
		p.areaSeq[0]++
	}
}

// AreaField reports whether area's bit is set in field.
func (p *Panel) AreaField(area, field int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.areaBit(area, field)
}

// ZoneState reports whether zone's bit is set in category.
func (p *Panel) ZoneState(zone, category int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := zone - 1
	v, _ := strconv.Atoi(p.zoneStatus[category][i/zonesPerWord])
	return v&(1<<(i%zonesPerWord)) != 0
}

func (p *Panel) areaBit(area, field int) bool {
	i := area - 1
	idx := (i/areasPerBank)*bankWidth + field
	v, _ := strconv.Atoi(p.areaStatus[idx])
	return v&(1<<(i%areasPerBank)) != 0
}

func (p *Panel) setAreaBit(area, field int, on bool) {
	i := area - 1
	idx := (i/areasPerBank)*bankWidth + field
	p.areaStatus[idx] = setBit(p.areaStatus[idx], i%areasPerBank, on)
}

func (p *Panel) setZoneBit(zone, category int, on bool) {
	i := zone - 1
	row := p.zoneStatus[category]
	row[i/zonesPerWord] = setBit(row[i/zonesPerWord], i%zonesPerWord, on)
}

func setBit(field string, bit int, on bool) string {
	v, _ := strconv.Atoi(field)
	if on {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	return strconv.Itoa(v)
}

// authed serves h only for a valid session.
func (p *Panel) authed(h func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		p.mu.Lock()
		p.hits[r.URL.Path]++
		valid := p.session != "" && r.Form.Get("sess") == p.session
		status := p.expiredStatus
		silent := p.silent[r.URL.Path]
		p.mu.Unlock()

		if silent {
			<-r.Context().Done()
			return
		}
		if !valid {
			p.logger.Debug("rejecting request", "path", r.URL.Path, "status", status)
			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			writeHTML(w, loginPageHTML)
			return
		}
		h(w, r)
	}
}

func (p *Panel) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	writeHTML(w, loginPageHTML)
}

func (p *Panel) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.hits[r.URL.Path]++

	if r.Form.Get("lgname") != p.user || r.Form.Get("lgpin") != p.pin {
		p.logger.Info("login rejected", "user", r.Form.Get("lgname"))
		writeHTML(w, loginPageHTML)
		return
	}

	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
	p.session = token
	p.logger.Info("login", "user", p.user, "session", token)

	var b strings.Builder
	b.WriteString("<html><head><script>\n")
	fmt.Fprintf(&b, "function getSession(){return %q;}\n", token)
	fmt.Fprintf(&b, "var areaSequence = %s;\n", jsInts(p.areaSeq))
	fmt.Fprintf(&b, "var areaStatus = %s;\n", jsStrings(p.areaStatus))
	fmt.Fprintf(&b, "var areaNames = %s;\n", jsStrings(p.areaNames))
	b.WriteString("</script></head><body></body></html>")
	writeHTML(w, b.String())
}

func (p *Panel) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.hits[r.URL.Path]++
	if r.Form.Get("sess") == p.session {
		p.session = ""
	}
	p.mu.Unlock()
	writeHTML(w, loginPageHTML)
}

func (p *Panel) handleZones(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows := make([]string, len(p.zoneStatus))
	for i, row := range p.zoneStatus {
		rows[i] = "[" + strings.Join(row, ",") + "]"
	}

	var b strings.Builder
	b.WriteString("<html><head><script>\n")
	fmt.Fprintf(&b, "var zoneNames = %s;\n", jsStrings(p.zoneNames))
	fmt.Fprintf(&b, "var zoneSequence = %s;\n", jsInts(p.zoneSeq))
	fmt.Fprintf(&b, "var zoneStatus = [%s];\n", strings.Join(rows, ","))
	b.WriteString("</script></head><body></body></html>")
	writeHTML(w, b.String())
}

func (p *Panel) handleSequence(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	writeXML(w, fmt.Sprintf("<response><areas>%s</areas><zones>%s</zones></response>",
		joinInts(p.areaSeq), joinInts(p.zoneSeq)))
}

func (p *Panel) handleAreaState(w http.ResponseWriter, r *http.Request) {
	bank, err := strconv.Atoi(r.Form.Get("arsel"))
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil || bank < 0 || bank >= len(p.areaSeq) {
		http.Error(w, "bad arsel", http.StatusBadRequest)
		return
	}
	writeXML(w, p.areaStateXML(bank))
}

func (p *Panel) handleZoneState(w http.ResponseWriter, r *http.Request) {
	row, err := strconv.Atoi(r.Form.Get("state"))
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil || row < 0 || row >= len(p.zoneStatus) {
		http.Error(w, "bad state", http.StatusBadRequest)
		return
	}
	writeXML(w, p.zoneStateXML(row))
}

func (p *Panel) handleKeyFunction(w http.ResponseWriter, r *http.Request) {
	fn, err1 := strconv.Atoi(r.Form.Get("data2"))
	mask, err2 := strconv.Atoi(r.Form.Get("data1"))
	if r.Form.Get("comm") != "80" || err1 != nil || err2 != nil {
		http.Error(w, "bad key function", http.StatusBadRequest)
		return
	}
	start, _ := strconv.Atoi(r.Form.Get("start"))

	p.mu.Lock()
	defer p.mu.Unlock()
	if start < 0 || start >= len(p.areaSeq) {
		http.Error(w, "bad start", http.StatusBadRequest)
		return
	}

	for bit := 0; bit < areasPerBank; bit++ {
		area := start*areasPerBank + bit + 1
		if mask&(1<<bit) == 0 || area > len(p.areaNames) || p.areaNames[area-1] == "!" {
			continue
		}
		switch fn {
		case funcAway:
			p.setAreaBit(area, fieldArmed, true)
			p.setAreaBit(area, fieldPartial, false)
		case funcStay:
			p.setAreaBit(area, fieldArmed, false)
			p.setAreaBit(area, fieldPartial, true)
		case funcDisarm:
			p.setAreaBit(area, fieldArmed, false)
			p.setAreaBit(area, fieldPartial, false)
		case funcChime:
			p.setAreaBit(area, fieldChime, !p.areaBit(area, fieldChime))
		}
	}
	p.areaSeq[start]++
	p.logger.Info("key function", "function", fn, "mask", mask, "bank", start)
	writeXML(w, p.areaStateXML(start))
}

func (p *Panel) handleZoneFunction(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.Form.Get("data0"))
	if r.Form.Get("comm") != "82" || err != nil {
		http.Error(w, "bad zone function", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.zoneNames) {
		http.Error(w, "bad zone", http.StatusBadRequest)
		return
	}

	zone := idx + 1
	i := idx
	v, _ := strconv.Atoi(p.zoneStatus[bypassRow][i/zonesPerWord])
	p.setZoneBit(zone, bypassRow, v&(1<<(i%zonesPerWord)) == 0)
	p.zoneSeq[bypassRow]++
	p.logger.Info("zone bypass toggled", "zone", zone)
	writeXML(w, p.zoneStateXML(bypassRow))
}

// areaStateXML must be called with p.mu held.
func (p *Panel) areaStateXML(bank int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<response><abank>%d</abank><aseq>%d</aseq>", bank, p.areaSeq[bank])
	for i := 0; i < bankWidth; i++ {
		fmt.Fprintf(&b, "<stat%d>%s</stat%d>", i, p.areaStatus[bank*bankWidth+i], i)
	}
	fmt.Fprintf(&b, "<sysflt>%s</sysflt></response>", strings.Join(p.faults, "\r\n"))
	return b.String()
}

// zoneStateXML must be called with p.mu held.
func (p *Panel) zoneStateXML(row int) string {
	return fmt.Sprintf("<response><zstate>%d</zstate><zseq>%d</zseq><zdat>%s</zdat></response>",
		row, p.zoneSeq[row], strings.Join(p.zoneStatus[row], ","))
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}

func writeXML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func jsInts(values []int) string {
	return "[" + joinInts(values) + "]"
}

func jsStrings(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
