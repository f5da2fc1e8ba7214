// Package authz is the authorization gateway: one pure decision function per
// operation, no store dependency. Disallowed reads scope down to nothing so
// callers can return empty results instead of leaking record existence.
package authz

import "civicdesk/api/internal/identity"

// Scope is the visibility window for read operations.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeOwn
	ScopeAll
)

// CanCreate reports whether the caller may create a request with the proposed
// owner. Guests must stay ownerless; residents may only claim themselves.
func CanCreate(id identity.Identity, proposedOwnerID string) bool {
	switch id.Role {
	case identity.RoleAnonymous:
		return proposedOwnerID == ""
	case identity.RoleResident:
		return proposedOwnerID == id.UserID && id.UserID != ""
	case identity.RoleAdmin:
		return proposedOwnerID == "" || proposedOwnerID == id.UserID
	default:
		return false
	}
}

// CanRead reports whether the caller may see a record owned by ownerID.
// ownerID is empty for guest submissions.
func CanRead(id identity.Identity, ownerID string) bool {
	switch id.Role {
	case identity.RoleAdmin:
		return true
	case identity.RoleResident:
		return ownerID != "" && ownerID == id.UserID
	default:
		return false
	}
}

// CanMutateState reports whether the caller may change status, priority, or
// admin notes. Admin only.
func CanMutateState(id identity.Identity) bool {
	return id.Role == identity.RoleAdmin
}

// ReadScope is the list-query counterpart of CanRead.
func ReadScope(id identity.Identity) Scope {
	switch id.Role {
	case identity.RoleAdmin:
		return ScopeAll
	case identity.RoleResident:
		if id.UserID == "" {
			return ScopeNone
		}
		return ScopeOwn
	default:
		return ScopeNone
	}
}
