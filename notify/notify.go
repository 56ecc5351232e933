// Package notify implements the outbound trap/inform target table of
// SPEC_FULL.md's "Supplemented features" section, grounded on the
// original source's Firmware/Plugin/target/target.c. It holds the
// addressing data VACM's notify-view check and the (out-of-scope)
// instrumentation layer need to originate a notification: which
// transport address to send to, under which tag(s), using which
// security parameters. Building the actual TRAP/INFORM PDU is out of
// scope per spec.md §1's Non-goals; this package only tracks where one
// would go.
package notify

import (
	"sync"

	"github.com/duniansampa/priot/rowstatus"
)

// ParamEntry mirrors snmpTargetParamsEntry: the security parameters used
// to originate a notification to a target address.
type ParamEntry struct {
	Name          string
	SecurityModel int
	SecurityName  string
	SecurityLevel int

	Row *rowstatus.Row
}

// AddrEntry mirrors snmpTargetAddrEntry: one destination plus the tags
// that select it, and the ParamEntry name supplying its credentials.
type AddrEntry struct {
	Name          string
	TransportAddr string // e.g. "udp:203.0.113.9:162"
	Tags          []string
	ParamsName    string
	StorageType   int

	Row *rowstatus.Row
}

// Table holds the two target relations, keyed by name.
type Table struct {
	mu     sync.RWMutex
	addrs  map[string]*AddrEntry
	params map[string]*ParamEntry
}

// NewTable returns an empty target table.
func NewTable() *Table {
	return &Table{
		addrs:  make(map[string]*AddrEntry),
		params: make(map[string]*ParamEntry),
	}
}

// PutAddr inserts or replaces an address entry.
func (t *Table) PutAddr(a *AddrEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrs[a.Name] = a
}

// PutParam inserts or replaces a parameter entry.
func (t *Table) PutParam(p *ParamEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.params[p.Name] = p
}

// RemoveAddr removes an address entry by name.
func (t *Table) RemoveAddr(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.addrs, name)
}

// Target is one resolved (address, params) pair ready for a notification
// originator to use.
type Target struct {
	Addr   *AddrEntry
	Params *ParamEntry
}

// Resolve returns every active address entry tagged with any of tags,
// paired with its active parameter entry, mirroring
// get_target_sessions's matching rule: an address with no matching tag,
// an inactive row, or a missing/inactive parameter entry is skipped.
func (t *Table) Resolve(tags []string) []Target {
	t.mu.RLock()
	defer t.mu.RUnlock()

	wanted := make(map[string]bool, len(tags))
	for _, tag := range tags {
		wanted[tag] = true
	}

	var out []Target
	for _, a := range t.addrs {
		if a.Row == nil || !a.Row.UsableForAuthorization() {
			continue
		}
		if !hasMatchingTag(a.Tags, wanted) {
			continue
		}
		p, ok := t.params[a.ParamsName]
		if !ok || p.Row == nil || !p.Row.UsableForAuthorization() {
			continue
		}
		out = append(out, Target{Addr: a, Params: p})
	}
	return out
}

func hasMatchingTag(have []string, wanted map[string]bool) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, tag := range have {
		if wanted[tag] {
			return true
		}
	}
	return false
}
