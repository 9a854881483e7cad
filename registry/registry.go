// Package registry holds the client-side mirror of the panel state: the
// per-bank sequence numbers and the status tables for areas and zones.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// AreaBankWidth is the number of status fields per area bank.
const AreaBankWidth = 17

// MaxBanks bounds the bank index of a write. The largest panels have 64
// areas (8 banks) and 8 zone categories, so anything at or past it is a
// corrupt reply.
const MaxBanks = 64

// Kind selects one of the two synchronized tables.
type Kind int

const (
	Areas Kind = iota
	Zones
)

// String returns string representation.
func (k Kind) String() string {
	switch k {
	case Areas:
		return "areas"
	case Zones:
		return "zones"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Change describes one bank write whose content differs from the cached one.
type Change struct {
	Kind     Kind
	Bank     int
	Sequence int
	Previous int // -1 if the bank was unknown
	Checksum string
	Values   []string
	At       time.Time
}

// Registry mirrors the panel's sequence vectors and status tables.
// Bank writes are atomic: readers never observe a partially written bank.
type Registry struct {
	mu sync.RWMutex

	// seq: kind -> bank -> sequence number (-1 = unknown)
	seq map[Kind][]int

	// areas is addressed bank*AreaBankWidth + field
	areas []string

	// zones holds one row per bank
	zones [][]string

	faults []string

	// checksums: kind -> bank -> SHA256 of the bank values
	checksums  map[Kind]map[int]string
	lastUpdate map[Kind]map[int]time.Time

	onChange func(Change)
	now      func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		seq:        map[Kind][]int{Areas: nil, Zones: nil},
		checksums:  map[Kind]map[int]string{Areas: {}, Zones: {}},
		lastUpdate: map[Kind]map[int]time.Time{Areas: {}, Zones: {}},
		now:        time.Now,
	}
}

// OnChange sets the hook called after a bank write that changed content.
// The hook runs outside the registry lock.
func (r *Registry) OnChange(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Reset forgets all cached state.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq = map[Kind][]int{Areas: nil, Zones: nil}
	r.areas = nil
	r.zones = nil
	r.faults = nil
	r.checksums = map[Kind]map[int]string{Areas: {}, Zones: {}}
	r.lastUpdate = map[Kind]map[int]time.Time{Areas: {}, Zones: {}}
}

// SeedAreas installs the sequence vector and flat status table delivered
// by the login page. No change hook fires.
func (r *Registry) SeedAreas(sequences []int, status []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq[Areas] = append([]int(nil), sequences...)
	r.areas = append([]string(nil), status...)
	for bank := 0; bank*AreaBankWidth < len(r.areas); bank++ {
		r.checksums[Areas][bank] = checksum(r.areaBank(bank))
	}
}

// SeedZones installs the sequence vector and per-bank status rows delivered
// by the zones page. No change hook fires.
func (r *Registry) SeedZones(sequences []int, status [][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq[Zones] = append([]int(nil), sequences...)
	r.zones = make([][]string, len(status))
	for bank, row := range status {
		r.zones[bank] = append([]string(nil), row...)
		r.checksums[Zones][bank] = checksum(row)
	}
}

// Sequence returns the cached sequence number of a bank.
func (r *Registry) Sequence(kind Kind, bank int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seqs := r.seq[kind]
	if bank < 0 || bank >= len(seqs) || seqs[bank] < 0 {
		return 0, false
	}
	return seqs[bank], true
}

// Sequences returns a copy of the cached sequence vector.
func (r *Registry) Sequences(kind Kind) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int(nil), r.seq[kind]...)
}

// Stale reports whether the remote sequence number of a bank differs from
// the cached one. Unknown banks are always stale.
func (r *Registry) Stale(kind Kind, bank, remote int) bool {
	cached, ok := r.Sequence(kind, bank)
	return !ok || cached != remote
}

// PutArea stores a freshly fetched area bank: the sequence number and the
// AreaBankWidth fields at [bank*AreaBankWidth, (bank+1)*AreaBankWidth).
func (r *Registry) PutArea(bank, sequence int, values []string) error {
	if bank < 0 || bank >= MaxBanks {
		return fmt.Errorf("invalid area bank %d", bank)
	}
	if len(values) != AreaBankWidth {
		return fmt.Errorf("area bank %d: got %d fields, want %d", bank, len(values), AreaBankWidth)
	}

	r.mu.Lock()
	start := bank * AreaBankWidth
	if need := start + AreaBankWidth; len(r.areas) < need {
		grown := make([]string, need)
		copy(grown, r.areas)
		r.areas = grown
	}
	copy(r.areas[start:start+AreaBankWidth], values)
	change, fn := r.commit(Areas, bank, sequence, values)
	r.mu.Unlock()

	if change != nil && fn != nil {
		fn(*change)
	}
	return nil
}

// PutZone stores a freshly fetched zone bank row.
func (r *Registry) PutZone(bank, sequence int, values []string) error {
	if bank < 0 || bank >= MaxBanks {
		return fmt.Errorf("invalid zone bank %d", bank)
	}

	r.mu.Lock()
	if len(r.zones) <= bank {
		grown := make([][]string, bank+1)
		copy(grown, r.zones)
		r.zones = grown
	}
	r.zones[bank] = append([]string(nil), values...)
	change, fn := r.commit(Zones, bank, sequence, values)
	r.mu.Unlock()

	if change != nil && fn != nil {
		fn(*change)
	}
	return nil
}

// commit records the sequence number and checksum of a written bank.
// Must be called with r.mu held. Returns a Change if the content differs.
func (r *Registry) commit(kind Kind, bank, sequence int, values []string) (*Change, func(Change)) {
	seqs := r.seq[kind]
	for len(seqs) <= bank {
		seqs = append(seqs, -1)
	}
	previous := seqs[bank]
	seqs[bank] = sequence
	r.seq[kind] = seqs

	now := r.now()
	r.lastUpdate[kind][bank] = now

	sum := checksum(values)
	if old, ok := r.checksums[kind][bank]; ok && old == sum {
		return nil, nil
	}
	r.checksums[kind][bank] = sum

	return &Change{
		Kind:     kind,
		Bank:     bank,
		Sequence: sequence,
		Previous: previous,
		Checksum: sum,
		Values:   append([]string(nil), values...),
		At:       now,
	}, r.onChange
}

// SetSystemFaults replaces the system fault lines.
func (r *Registry) SetSystemFaults(faults []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append([]string(nil), faults...)
}

// SystemFaults returns a copy of the system fault lines.
func (r *Registry) SystemFaults() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.faults...)
}

// AreaStatus returns a copy of the flat area status table.
func (r *Registry) AreaStatus() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.areas...)
}

// ZoneStatus returns a copy of the zone status rows.
func (r *Registry) ZoneStatus() [][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([][]string, len(r.zones))
	for i, row := range r.zones {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// LastUpdate returns when a bank was last written by a full-state fetch.
// Zero if never.
func (r *Registry) LastUpdate(kind Kind, bank int) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdate[kind][bank]
}

// Checksum returns the content checksum of a bank, or "" if unknown.
func (r *Registry) Checksum(kind Kind, bank int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checksums[kind][bank]
}

func (r *Registry) areaBank(bank int) []string {
	start := bank * AreaBankWidth
	end := start + AreaBankWidth
	if end > len(r.areas) {
		end = len(r.areas)
	}
	return r.areas[start:end]
}

// checksum hashes the JSON encoding of a bank.
func checksum(values []string) string {
	data, _ := json.Marshal(values)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
