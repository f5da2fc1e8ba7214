package authz

import (
	"testing"

	"civicdesk/api/internal/identity"
)

var (
	guest    = identity.Anonymous()
	resident = identity.Identity{Role: identity.RoleResident, UserID: "user_1"}
	admin    = identity.Identity{Role: identity.RoleAdmin, UserID: "admin_1"}
)

func TestCanCreate(t *testing.T) {
	cases := []struct {
		name     string
		caller   identity.Identity
		ownerID  string
		expected bool
	}{
		{"guest ownerless", guest, "", true},
		{"guest claiming owner", guest, "user_1", false},
		{"resident self", resident, "user_1", true},
		{"resident other", resident, "user_2", false},
		{"resident ownerless", resident, "", false},
		{"resident without user id", identity.Identity{Role: identity.RoleResident}, "", false},
		{"admin ownerless", admin, "", true},
		{"admin self", admin, "admin_1", true},
		{"admin other", admin, "user_1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanCreate(tc.caller, tc.ownerID); got != tc.expected {
				t.Errorf("CanCreate = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestCanRead(t *testing.T) {
	cases := []struct {
		name     string
		caller   identity.Identity
		ownerID  string
		expected bool
	}{
		{"guest never reads", guest, "", false},
		{"guest never reads owned", guest, "user_1", false},
		{"resident own", resident, "user_1", true},
		{"resident other", resident, "user_2", false},
		{"resident guest record", resident, "", false},
		{"admin owned", admin, "user_1", true},
		{"admin guest record", admin, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanRead(tc.caller, tc.ownerID); got != tc.expected {
				t.Errorf("CanRead = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestCanMutateState(t *testing.T) {
	if CanMutateState(guest) {
		t.Error("guest may mutate state")
	}
	if CanMutateState(resident) {
		t.Error("resident may mutate state")
	}
	if !CanMutateState(admin) {
		t.Error("admin may not mutate state")
	}
}

func TestReadScope(t *testing.T) {
	if got := ReadScope(guest); got != ScopeNone {
		t.Errorf("guest scope = %v, want ScopeNone", got)
	}
	if got := ReadScope(resident); got != ScopeOwn {
		t.Errorf("resident scope = %v, want ScopeOwn", got)
	}
	if got := ReadScope(identity.Identity{Role: identity.RoleResident}); got != ScopeNone {
		t.Errorf("resident without id scope = %v, want ScopeNone", got)
	}
	if got := ReadScope(admin); got != ScopeAll {
		t.Errorf("admin scope = %v, want ScopeAll", got)
	}
}
