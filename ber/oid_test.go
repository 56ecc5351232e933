package ber

import "testing"

func TestOIDCompare(t *testing.T) {
	tests := []struct {
		a, b OID
		want int
	}{
		{OID{1, 3, 6}, OID{1, 3, 6}, 0},
		{OID{1, 3, 6}, OID{1, 3, 7}, -1},
		{OID{1, 3, 6, 1}, OID{1, 3, 6}, 1},
		{OID{1, 3}, OID{1, 3, 0}, -1},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestOIDHasPrefix(t *testing.T) {
	o := OID{1, 3, 6, 1, 2, 1, 1, 3, 0}
	if !o.HasPrefix(OID{1, 3, 6, 1, 2, 1}) {
		t.Error("expected prefix match")
	}
	if o.HasPrefix(OID{1, 3, 6, 1, 2, 2}) {
		t.Error("unexpected prefix match")
	}
	if !o.HasPrefix(o) {
		t.Error("an OID must be its own prefix")
	}
}

func TestOIDStringRoundTrip(t *testing.T) {
	s := "1.3.6.1.2.1.1.3.0"
	o, err := ParseOIDString(s)
	if err != nil {
		t.Fatal(err)
	}
	if got := o.String(); got != s {
		t.Errorf("got %q, want %q", got, s)
	}
}

func TestOIDValid(t *testing.T) {
	if (OID{1}).Valid() {
		t.Error("single sub-id OID must be invalid")
	}
	if !(OID{1, 3}).Valid() {
		t.Error("two sub-id OID must be valid")
	}
}
