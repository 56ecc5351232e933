// Package vacm implements the view-based access control model of
// spec.md §4.5: the three relations (security-to-group, access,
// view-tree-family) and the Check decision procedure that gates every
// varbind of every PDU. Row lifecycle for all three tables reuses the
// shared rowstatus package.
package vacm

import (
	"sync"

	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/mp"
	"github.com/duniansampa/priot/rowstatus"
)

// ViewKind selects which of an access row's three view names applies to
// a request, per spec.md §4.5 step 3.
type ViewKind int

const (
	ViewRead ViewKind = iota
	ViewWrite
	ViewNotify
)

// MatchType is an access row's context-match mode.
type MatchType int

const (
	MatchExact MatchType = iota
	MatchPrefix
)

// Decision is Check's verdict.
type Decision int

const (
	Allowed Decision = iota
	Denied
	NoSuchView
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case NoSuchView:
		return "noSuchView"
	default:
		return "unknown"
	}
}

// SecurityToGroupRow maps (security-model, security-name) to a group
// name, per spec.md §3.
type SecurityToGroupRow struct {
	SecurityModel int
	SecurityName  string
	GroupName     string
	StorageType   int
	Row           *rowstatus.Row
}

// AccessRow maps (group, context-prefix, security-model, security-level)
// to the three view names a request of that shape may use.
type AccessRow struct {
	GroupName     string
	ContextPrefix string
	ContextMatch  MatchType
	SecurityModel int // 0 means "any model" (wildcard)
	SecurityLevel mp.SecurityLevel

	ReadView   string
	WriteView  string
	NotifyView string

	StorageType int
	Row         *rowstatus.Row
}

func (a *AccessRow) view(kind ViewKind) string {
	switch kind {
	case ViewRead:
		return a.ReadView
	case ViewWrite:
		return a.WriteView
	default:
		return a.NotifyView
	}
}

// ViewTreeFamilyRow is one (subtree, mask) membership test within a
// named view.
type ViewTreeFamilyRow struct {
	ViewName string
	Subtree  ber.OID
	Mask     []byte // MSB-first, one bit per Subtree sub-id; missing trailing bits read as 1
	Included bool   // true = included, false = excluded

	StorageType int
	Row         *rowstatus.Row
}

func maskBit(mask []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(mask) {
		return true
	}
	bitIdx := 7 - i%8
	return mask[byteIdx]&(1<<uint(bitIdx)) != 0
}

func (v *ViewTreeFamilyRow) matches(oid ber.OID) bool {
	if len(oid) < len(v.Subtree) {
		return false
	}
	for i, sub := range v.Subtree {
		if maskBit(v.Mask, i) && oid[i] != sub {
			return false
		}
	}
	return true
}

func (v *ViewTreeFamilyRow) ones() int {
	n := 0
	for _, b := range v.Mask {
		for b != 0 {
			n += int(b & 1)
			b >>= 1
		}
	}
	return n
}

type groupKey struct {
	model int
	name  string
}

// Tables bundles the three VACM relations the agent wires together; one
// instance per Engine.
type Tables struct {
	mu          sync.RWMutex
	groups      map[groupKey]*SecurityToGroupRow
	access      []*AccessRow
	viewsByName map[string][]*ViewTreeFamilyRow
}

// NewTables returns empty VACM relations.
func NewTables() *Tables {
	return &Tables{
		groups:      make(map[groupKey]*SecurityToGroupRow),
		viewsByName: make(map[string][]*ViewTreeFamilyRow),
	}
}

// PutGroup inserts or replaces a security-to-group row.
func (t *Tables) PutGroup(r *SecurityToGroupRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[groupKey{r.SecurityModel, r.SecurityName}] = r
}

// PutAccess appends an access row.
func (t *Tables) PutAccess(r *AccessRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access = append(t.access, r)
}

// PutView appends a view-tree-family row under its view name.
func (t *Tables) PutView(r *ViewTreeFamilyRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.viewsByName[r.ViewName] = append(t.viewsByName[r.ViewName], r)
}

// Check is the VACM gate of spec.md §4.5: decide whether principal may
// read/write/notify oid in context.
func (t *Tables) Check(principal mp.Principal, context string, oid ber.OID, kind ViewKind) Decision {
	t.mu.RLock()
	defer t.mu.RUnlock()

	group, ok := t.groups[groupKey{principal.SecurityModel, principal.SecurityName}]
	if !ok || !group.Row.UsableForAuthorization() {
		return Denied
	}

	access := t.bestAccess(group.GroupName, context, principal)
	if access == nil {
		return Denied
	}

	viewName := access.view(kind)
	if viewName == "" {
		return Denied
	}

	entry := t.bestView(viewName, oid)
	if entry == nil {
		return NoSuchView
	}
	if entry.Included {
		return Allowed
	}
	return Denied
}

func (t *Tables) bestAccess(group, context string, principal mp.Principal) *AccessRow {
	var best *AccessRow
	for _, a := range t.access {
		if a.GroupName != group || !a.Row.UsableForAuthorization() {
			continue
		}
		if a.SecurityModel != 0 && a.SecurityModel != principal.SecurityModel {
			continue
		}
		if a.SecurityLevel > principal.SecurityLevel {
			continue // request's security level is insufficient for this row
		}

		var contextOK bool
		switch a.ContextMatch {
		case MatchExact:
			contextOK = a.ContextPrefix == context
		case MatchPrefix:
			contextOK = len(context) >= len(a.ContextPrefix) && context[:len(a.ContextPrefix)] == a.ContextPrefix
		}
		if !contextOK {
			continue
		}

		if best == nil || betterAccess(a, best) {
			best = a
		}
	}
	return best
}

// betterAccess reports whether candidate outranks current by spec.md
// §4.5 step 2's tie-break order: exact context match beats prefix match;
// among prefix matches the longest prefix wins; then a non-wildcard
// security model beats a wildcard one; then ties on security level favor
// the lowest sufficient level.
func betterAccess(candidate, current *AccessRow) bool {
	candidateIsExact := candidate.ContextMatch == MatchExact
	currentIsExact := current.ContextMatch == MatchExact
	if candidateIsExact != currentIsExact {
		return candidateIsExact
	}
	if !candidateIsExact {
		if len(candidate.ContextPrefix) != len(current.ContextPrefix) {
			return len(candidate.ContextPrefix) > len(current.ContextPrefix)
		}
	}
	candidateWildcard := candidate.SecurityModel == 0
	currentWildcard := current.SecurityModel == 0
	if candidateWildcard != currentWildcard {
		return !candidateWildcard
	}
	return candidate.SecurityLevel < current.SecurityLevel
}

func (t *Tables) bestView(viewName string, oid ber.OID) *ViewTreeFamilyRow {
	var best *ViewTreeFamilyRow
	for _, v := range t.viewsByName[viewName] {
		if !v.Row.UsableForAuthorization() || !v.matches(oid) {
			continue
		}
		if best == nil ||
			len(v.Subtree) > len(best.Subtree) ||
			(len(v.Subtree) == len(best.Subtree) && v.ones() > best.ones()) {
			best = v
		}
	}
	return best
}
