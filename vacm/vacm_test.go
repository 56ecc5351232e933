package vacm

import (
	"testing"

	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/mp"
	"github.com/duniansampa/priot/rowstatus"
)

func activeRow() *rowstatus.Row {
	r := rowstatus.NewRow()
	r.Set(rowstatus.CreateAndGo, true)
	return r
}

func TestCheckAllowedWithinView(t *testing.T) {
	tables := NewTables()
	tables.PutGroup(&SecurityToGroupRow{SecurityModel: 3, SecurityName: "alice", GroupName: "admins", Row: activeRow()})
	tables.PutAccess(&AccessRow{
		GroupName:     "admins",
		ContextPrefix: "",
		ContextMatch:  MatchExact,
		SecurityModel: 3,
		SecurityLevel: mp.AuthNoPriv,
		ReadView:      "all",
		Row:           activeRow(),
	})
	tables.PutView(&ViewTreeFamilyRow{
		ViewName: "all",
		Subtree:  ber.OID{1, 3, 6, 1, 2, 1},
		Mask:     nil,
		Included: true,
		Row:      activeRow(),
	})

	principal := mp.Principal{SecurityModel: 3, SecurityName: "alice", SecurityLevel: mp.AuthNoPriv}
	got := tables.Check(principal, "", ber.OID{1, 3, 6, 1, 2, 1, 1, 1, 0}, ViewRead)
	if got != Allowed {
		t.Fatalf("decision = %v, want Allowed", got)
	}
}

func TestCheckDeniedWithoutGroup(t *testing.T) {
	tables := NewTables()
	principal := mp.Principal{SecurityModel: 3, SecurityName: "stranger", SecurityLevel: mp.NoAuthNoPriv}
	got := tables.Check(principal, "", ber.OID{1, 3, 6, 1, 2, 1, 1, 1, 0}, ViewRead)
	if got != Denied {
		t.Fatalf("decision = %v, want Denied", got)
	}
}

func TestCheckInsufficientSecurityLevel(t *testing.T) {
	tables := NewTables()
	tables.PutGroup(&SecurityToGroupRow{SecurityModel: 3, SecurityName: "bob", GroupName: "readers", Row: activeRow()})
	tables.PutAccess(&AccessRow{
		GroupName:     "readers",
		ContextMatch:  MatchExact,
		SecurityModel: 3,
		SecurityLevel: mp.AuthPriv,
		ReadView:      "all",
		Row:           activeRow(),
	})
	tables.PutView(&ViewTreeFamilyRow{ViewName: "all", Subtree: ber.OID{1}, Included: true, Row: activeRow()})

	principal := mp.Principal{SecurityModel: 3, SecurityName: "bob", SecurityLevel: mp.AuthNoPriv}
	got := tables.Check(principal, "", ber.OID{1, 3, 6}, ViewRead)
	if got != Denied {
		t.Fatalf("decision = %v, want Denied (security level below the access row's requirement)", got)
	}
}

func TestBestAccessTieBreakFavorsLowestSufficientLevel(t *testing.T) {
	tables := NewTables()
	tables.PutGroup(&SecurityToGroupRow{SecurityModel: 3, SecurityName: "dave", GroupName: "readers", Row: activeRow()})
	tables.PutAccess(&AccessRow{
		GroupName:     "readers",
		ContextMatch:  MatchExact,
		SecurityModel: 3,
		SecurityLevel: mp.AuthPriv,
		ReadView:      "strict",
		Row:           activeRow(),
	})
	tables.PutAccess(&AccessRow{
		GroupName:     "readers",
		ContextMatch:  MatchExact,
		SecurityModel: 3,
		SecurityLevel: mp.AuthNoPriv,
		ReadView:      "lenient",
		Row:           activeRow(),
	})
	tables.PutView(&ViewTreeFamilyRow{ViewName: "strict", Subtree: ber.OID{1}, Included: true, Row: activeRow()})
	tables.PutView(&ViewTreeFamilyRow{ViewName: "lenient", Subtree: ber.OID{2}, Included: true, Row: activeRow()})

	principal := mp.Principal{SecurityModel: 3, SecurityName: "dave", SecurityLevel: mp.AuthPriv}

	// Both access rows are otherwise equally specific and both are
	// sufficient for an authPriv request; the tie must favor the lowest
	// sufficient level (authNoPriv's "lenient" view), not authPriv's
	// "strict" one, per spec.md's explicit tie-break rule.
	got := tables.Check(principal, "", ber.OID{2, 1}, ViewRead)
	if got != Allowed {
		t.Fatalf("decision = %v, want Allowed via the lenient view", got)
	}
	got = tables.Check(principal, "", ber.OID{1, 1}, ViewRead)
	if got != NoSuchView {
		t.Fatalf("decision = %v, want NoSuchView: the lowest-sufficient-level row's view shadowed the strict one", got)
	}
}

func TestCheckNoSuchViewWhenNoEntryMatches(t *testing.T) {
	tables := NewTables()
	tables.PutGroup(&SecurityToGroupRow{SecurityModel: 3, SecurityName: "carol", GroupName: "limited", Row: activeRow()})
	tables.PutAccess(&AccessRow{
		GroupName:     "limited",
		ContextMatch:  MatchExact,
		SecurityModel: 3,
		SecurityLevel: mp.NoAuthNoPriv,
		ReadView:      "ifTableOnly",
		Row:           activeRow(),
	})
	tables.PutView(&ViewTreeFamilyRow{
		ViewName: "ifTableOnly",
		Subtree:  ber.OID{1, 3, 6, 1, 2, 1, 2},
		Included: true,
		Row:      activeRow(),
	})

	principal := mp.Principal{SecurityModel: 3, SecurityName: "carol", SecurityLevel: mp.NoAuthNoPriv}
	got := tables.Check(principal, "", ber.OID{1, 3, 6, 1, 2, 1, 1, 1, 0}, ViewRead)
	if got != NoSuchView {
		t.Fatalf("decision = %v, want NoSuchView", got)
	}
}

func TestCheckExcludedSubtreeDenied(t *testing.T) {
	tables := NewTables()
	tables.PutGroup(&SecurityToGroupRow{SecurityModel: 3, SecurityName: "dave", GroupName: "ops", Row: activeRow()})
	tables.PutAccess(&AccessRow{
		GroupName:     "ops",
		ContextMatch:  MatchExact,
		SecurityModel: 3,
		SecurityLevel: mp.NoAuthNoPriv,
		ReadView:      "mostOfMib",
		Row:           activeRow(),
	})
	tables.PutView(&ViewTreeFamilyRow{ViewName: "mostOfMib", Subtree: ber.OID{1, 3, 6}, Included: true, Row: activeRow()})
	tables.PutView(&ViewTreeFamilyRow{ViewName: "mostOfMib", Subtree: ber.OID{1, 3, 6, 1, 6, 3}, Included: false, Row: activeRow()})

	principal := mp.Principal{SecurityModel: 3, SecurityName: "dave", SecurityLevel: mp.NoAuthNoPriv}
	got := tables.Check(principal, "", ber.OID{1, 3, 6, 1, 6, 3, 15, 1, 1, 1, 0}, ViewRead)
	if got != Denied {
		t.Fatalf("decision = %v, want Denied (excluded subtree overrides the broader included one)", got)
	}
	got = tables.Check(principal, "", ber.OID{1, 3, 6, 1, 2, 1, 1, 1, 0}, ViewRead)
	if got != Allowed {
		t.Fatalf("decision = %v, want Allowed outside the excluded subtree", got)
	}
}

func TestCheckWriteViewDistinctFromReadView(t *testing.T) {
	tables := NewTables()
	tables.PutGroup(&SecurityToGroupRow{SecurityModel: 3, SecurityName: "erin", GroupName: "readonly", Row: activeRow()})
	tables.PutAccess(&AccessRow{
		GroupName:     "readonly",
		ContextMatch:  MatchExact,
		SecurityModel: 3,
		SecurityLevel: mp.NoAuthNoPriv,
		ReadView:      "all",
		Row:           activeRow(),
	})
	tables.PutView(&ViewTreeFamilyRow{ViewName: "all", Subtree: ber.OID{1, 3}, Included: true, Row: activeRow()})

	principal := mp.Principal{SecurityModel: 3, SecurityName: "erin", SecurityLevel: mp.NoAuthNoPriv}
	if got := tables.Check(principal, "", ber.OID{1, 3, 6, 1, 2, 1, 1, 4, 0}, ViewWrite); got != Denied {
		t.Fatalf("decision = %v, want Denied: no write view configured", got)
	}
}

func TestCheckContextPrefixMatching(t *testing.T) {
	tables := NewTables()
	tables.PutGroup(&SecurityToGroupRow{SecurityModel: 3, SecurityName: "frank", GroupName: "tenants", Row: activeRow()})
	tables.PutAccess(&AccessRow{
		GroupName:     "tenants",
		ContextPrefix: "tenant-",
		ContextMatch:  MatchPrefix,
		SecurityModel: 3,
		SecurityLevel: mp.NoAuthNoPriv,
		ReadView:      "all",
		Row:           activeRow(),
	})
	tables.PutView(&ViewTreeFamilyRow{ViewName: "all", Subtree: ber.OID{1}, Included: true, Row: activeRow()})

	principal := mp.Principal{SecurityModel: 3, SecurityName: "frank", SecurityLevel: mp.NoAuthNoPriv}
	if got := tables.Check(principal, "tenant-42", ber.OID{1, 3, 6}, ViewRead); got != Allowed {
		t.Fatalf("decision = %v, want Allowed for a matching context prefix", got)
	}
	if got := tables.Check(principal, "other", ber.OID{1, 3, 6}, ViewRead); got != Denied {
		t.Fatalf("decision = %v, want Denied for a non-matching context", got)
	}
}

func TestCheckRowNotActiveIsIgnored(t *testing.T) {
	tables := NewTables()
	notReady := rowstatus.NewRow()
	tables.PutGroup(&SecurityToGroupRow{SecurityModel: 3, SecurityName: "gina", GroupName: "pending", Row: notReady})

	principal := mp.Principal{SecurityModel: 3, SecurityName: "gina", SecurityLevel: mp.NoAuthNoPriv}
	if got := tables.Check(principal, "", ber.OID{1, 3, 6}, ViewRead); got != Denied {
		t.Fatalf("decision = %v, want Denied: group row is not yet active", got)
	}
}

func TestMaskWildcardAllowsAnySubIdentifier(t *testing.T) {
	v := &ViewTreeFamilyRow{
		Subtree: ber.OID{1, 3, 6, 1, 4, 1, 0},
		Mask:    []byte{0b11111011}, // 7 significant bits, position 5 (0-indexed) wildcarded
	}
	if !v.matches(ber.OID{1, 3, 6, 1, 4, 99, 0}) {
		t.Fatal("expected the wildcarded sub-identifier to match any value")
	}
	if v.matches(ber.OID{1, 3, 6, 1, 4, 99, 1}) {
		t.Fatal("expected the final fixed sub-identifier to still be enforced")
	}
}

func TestMaskMissingTrailingBitsTreatedAsOnes(t *testing.T) {
	v := &ViewTreeFamilyRow{
		Subtree: ber.OID{1, 3, 6, 1, 2, 1, 2, 2, 1, 1},
		Mask:    []byte{0xFF}, // covers only the first 8 sub-ids; subtree has 10
	}
	if !v.matches(ber.OID{1, 3, 6, 1, 2, 1, 2, 2, 1, 1, 7}) {
		t.Fatal("expected an exact prefix match to pass")
	}
	if v.matches(ber.OID{1, 3, 6, 1, 2, 1, 2, 2, 1, 2}) {
		t.Fatal("expected a differing sub-identifier beyond the mask's last bit to be rejected")
	}
}

func TestBestViewPrefersLongestSubtree(t *testing.T) {
	tables := NewTables()
	tables.PutView(&ViewTreeFamilyRow{ViewName: "v", Subtree: ber.OID{1, 3, 6}, Included: false, Row: activeRow()})
	tables.PutView(&ViewTreeFamilyRow{ViewName: "v", Subtree: ber.OID{1, 3, 6, 1, 2}, Included: true, Row: activeRow()})

	got := tables.bestView("v", ber.OID{1, 3, 6, 1, 2, 1})
	if got == nil || !got.Included {
		t.Fatal("expected the longer, more specific subtree to win over the broader excluded one")
	}
}
