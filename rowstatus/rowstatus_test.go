package rowstatus

import "testing"

func TestCreateAndWaitThenActivate(t *testing.T) {
	r := NewRow()
	if err := r.Set(CreateAndWait, false); err != nil {
		t.Fatal(err)
	}
	if r.Status() != NotReady {
		t.Fatalf("status = %s, want notReady", r.Status())
	}
	if r.UsableForAuthorization() {
		t.Fatal("notReady row must not be usable for authorization")
	}

	if err := r.Set(Active, false); err == nil {
		t.Fatal("expected error activating with incomplete columns")
	}
	if err := r.Set(Active, true); err != nil {
		t.Fatal(err)
	}
	if !r.UsableForAuthorization() {
		t.Fatal("active row must be usable for authorization")
	}
}

func TestCreateAndGoRequiresCompleteColumns(t *testing.T) {
	r := NewRow()
	if err := r.Set(CreateAndGo, true); err != nil {
		t.Fatal(err)
	}
	if r.Status() != Active {
		t.Fatalf("status = %s, want active", r.Status())
	}
}

func TestDestroyAlwaysAllowed(t *testing.T) {
	r := NewRow()
	_ = r.Set(CreateAndGo, true)
	if err := r.Set(Destroy, false); err != nil {
		t.Fatal(err)
	}
	if !r.Destroyed() {
		t.Fatal("expected row destroyed")
	}
}

func TestNotReadyNotSettable(t *testing.T) {
	r := NewRow()
	if err := r.Set(NotReady, true); err != ErrIllegalTransition {
		t.Fatalf("got %v, want ErrIllegalTransition", err)
	}
}
