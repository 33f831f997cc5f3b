package auth

import "testing"

func TestByNameNormalizes(t *testing.T) {
	p, err := ByName("manage users")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if p.Ordinal != ManageUsers.Ordinal {
		t.Errorf("got ordinal %d, want %d", p.Ordinal, ManageUsers.Ordinal)
	}
}

func TestIsAllowedOrdering(t *testing.T) {
	if !Layman.IsAllowed(Superuser) {
		t.Error("Superuser should be allowed to do Layman-level actions")
	}
	if Superuser.IsAllowed(Layman) {
		t.Error("Layman should not be allowed to do Superuser-level actions")
	}
}

func TestGate(t *testing.T) {
	if err := Gate(ConfigureMotors, Superuser); err != nil {
		t.Errorf("Superuser should pass ConfigureMotors gate: %v", err)
	}
	if err := Gate(ConfigureMotors, Layman); err == nil {
		t.Error("Layman should fail ConfigureMotors gate")
	}
}

func TestAllOrdinalAscending(t *testing.T) {
	all := All()
	for i := 1; i < len(all); i++ {
		if all[i].Ordinal < all[i-1].Ordinal {
			t.Fatalf("All() not ordinal-ascending at index %d: %+v", i, all)
		}
	}
}
