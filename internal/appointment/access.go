package appointment

import (
	"errors"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient    Role = "patient"
	RoleDoctor     Role = "doctor"
	RoleSuperAdmin Role = "super_admin"
)

var ErrForbidden = errors.New("access denied")

// Valid reports whether r is a role the gate knows about.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleSuperAdmin:
		return true
	}
	return false
}

// Caller is the already-authenticated identity an operation runs on behalf of.
type Caller struct {
	ID   uuid.UUID
	Role Role
}

func (c Caller) authenticated() bool {
	return c.ID != uuid.Nil && c.Role.Valid()
}

// requireRole fails with ErrForbidden unless the caller holds one of roles.
// An empty roles list admits any authenticated caller.
func requireRole(c Caller, roles ...Role) error {
	if !c.authenticated() {
		return ErrForbidden
	}
	if len(roles) == 0 {
		return nil
	}
	for _, r := range roles {
		if c.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

func requireAssignedDoctor(c Caller, a *Appointment) error {
	if c.Role != RoleDoctor || a.DoctorID != c.ID {
		return ErrForbidden
	}
	return nil
}

func requireOwningPatient(c Caller, a *Appointment) error {
	if a.PatientID != c.ID {
		return ErrForbidden
	}
	return nil
}
