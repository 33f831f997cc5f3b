package store

import (
	"path/filepath"
	"testing"

	"github.com/awacha/cctd/internal/auth"
)

func openTestUserDB(t *testing.T) *UserProjectDB {
	t.Helper()
	db, err := OpenUserProjectDB(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("OpenUserProjectDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetUser(t *testing.T) {
	db := openTestUserDB(t)
	u := User{Username: "alice", FirstName: "Alice", LastName: "Example", MaxPrivilege: auth.ConfigureMotors}
	if err := db.PutUser(u); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	got, err := db.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.FirstName != "Alice" || got.MaxPrivilege.Ordinal != auth.ConfigureMotors.Ordinal {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetUnknownUser(t *testing.T) {
	db := openTestUserDB(t)
	if _, err := db.GetUser("nobody"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestDeleteUser(t *testing.T) {
	db := openTestUserDB(t)
	db.PutUser(User{Username: "bob"})
	if err := db.DeleteUser("bob"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := db.GetUser("bob"); err == nil {
		t.Fatal("expected error after deletion")
	}
}

func TestListUsers(t *testing.T) {
	db := openTestUserDB(t)
	db.PutUser(User{Username: "alice"})
	db.PutUser(User{Username: "bob"})
	users, err := db.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("len(users) = %d, want 2", len(users))
	}
}

func TestPutProjectAssignsID(t *testing.T) {
	db := openTestUserDB(t)
	p, err := db.PutProject(Project{Name: "SAXS beamtime 2026", Proposer: "alice"})
	if err != nil {
		t.Fatalf("PutProject: %v", err)
	}
	if p.ID == "" {
		t.Fatal("expected a generated ID")
	}
	got, err := db.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Name != "SAXS beamtime 2026" {
		t.Fatalf("unexpected project: %+v", got)
	}
}

func TestListProjects(t *testing.T) {
	db := openTestUserDB(t)
	db.PutProject(Project{Name: "A"})
	db.PutProject(Project{Name: "B"})
	projects, err := db.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("len(projects) = %d, want 2", len(projects))
	}
}
