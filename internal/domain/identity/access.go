package identity

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/auth"
)

// AccessRules decides which role a user acts under and which patients a
// doctor may read or modify. It keeps no state between calls.
type AccessRules struct {
	users   UserRepository
	roles   RoleRepository
	doctors DoctorRepository
}

func NewAccessRules(users UserRepository, roles RoleRepository, doctors DoctorRepository) *AccessRules {
	return &AccessRules{users: users, roles: roles, doctors: doctors}
}

// ResolveRoleForUser returns the user's role. A user in several roles acts
// under the lexicographically first one. No membership is ErrRoleNotFound;
// there is no default role.
func (a *AccessRules) ResolveRoleForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "identity.ResolveRoleForUser"
	names, err := a.roles.NamesForUser(ctx, userID)
	if err != nil {
		return "", apperr.Persist(op, err)
	}
	if len(names) == 0 {
		return "", apperr.Wrap(apperr.ErrRoleNotFound.Kind, op, apperr.ErrRoleNotFound.Message, nil)
	}
	sort.Strings(names)
	return names[0], nil
}

// ResolveDoctorForUser returns the doctor linked to userID, or ErrNotDoctor.
func (a *AccessRules) ResolveDoctorForUser(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	const op = "identity.ResolveDoctorForUser"
	d, err := a.doctors.GetByUserID(ctx, userID)
	if apperr.IsNotFound(err) {
		return nil, apperr.Wrap(apperr.ErrNotDoctor.Kind, op, apperr.ErrNotDoctor.Message, nil)
	}
	if err != nil {
		return nil, apperr.Persist(op, err)
	}
	return d, nil
}

// ResolveSession loads the user, its role and, for doctors, the doctor
// record.
func (a *AccessRules) ResolveSession(ctx context.Context, userID uuid.UUID) (*Session, error) {
	u, err := a.users.GetByID(ctx, userID)
	if apperr.IsNotFound(err) {
		return nil, apperr.Wrap(apperr.ErrInvalidCredentials.Kind, "identity.ResolveSession",
			apperr.ErrInvalidCredentials.Message, nil)
	}
	if err != nil {
		return nil, apperr.Persist("identity.ResolveSession", err)
	}

	role, err := a.ResolveRoleForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	sess := &Session{User: u, Role: role}
	if role == auth.RoleDoctor {
		d, err := a.ResolveDoctorForUser(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		sess.Doctor = d
	}
	return sess, nil
}

// OwnedPatients returns the ids in the doctor's roster.
func (a *AccessRules) OwnedPatients(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := a.doctors.PatientIDs(ctx, doctorID)
	if err != nil {
		return nil, apperr.Persist("identity.OwnedPatients", err)
	}
	return ids, nil
}

// Owns reports whether patientID is in the doctor's roster.
func (a *AccessRules) Owns(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	owner, err := a.doctors.OwnerOf(ctx, patientID)
	if err != nil {
		return false, apperr.Persist("identity.Owns", err)
	}
	return owner != uuid.Nil && owner == doctorID, nil
}

// AddOwnedPatient adds patientID to the doctor's roster. Adding a patient the
// doctor already owns is a no-op; a patient owned by another doctor is
// refused with ErrOwnedByOther.
func (a *AccessRules) AddOwnedPatient(ctx context.Context, doctorID, patientID uuid.UUID) error {
	const op = "identity.AddOwnedPatient"
	owner, err := a.doctors.OwnerOf(ctx, patientID)
	if err != nil {
		return apperr.Persist(op, err)
	}
	switch owner {
	case doctorID:
		return nil
	case uuid.Nil:
		return apperr.Persist(op, a.doctors.AddPatient(ctx, doctorID, patientID))
	default:
		return apperr.Wrap(apperr.ErrOwnedByOther.Kind, op, apperr.ErrOwnedByOther.Message, nil)
	}
}

// GrantRole adds userID to the named role. A missing role is a deployment
// error reported as ErrRoleMissing; it is never created here.
func (a *AccessRules) GrantRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	const op = "identity.GrantRole"
	role, err := a.roles.GetByName(ctx, roleName)
	if apperr.IsNotFound(err) {
		return apperr.Wrap(apperr.ErrRoleMissing.Kind, op, apperr.ErrRoleMissing.Message, fmt.Errorf("role %q", roleName))
	}
	if err != nil {
		return apperr.Persist(op, err)
	}
	return apperr.Persist(op, a.roles.AddMember(ctx, role.ID, userID))
}

// GrantPatientRole adds userID to the "Patient" role.
func (a *AccessRules) GrantPatientRole(ctx context.Context, userID uuid.UUID) error {
	return a.GrantRole(ctx, userID, auth.RolePatient)
}

// EnsureRoles creates any of the named roles that do not exist yet.
func (a *AccessRules) EnsureRoles(ctx context.Context, names ...string) ([]*Role, error) {
	roles := make([]*Role, 0, len(names))
	for _, name := range names {
		r, err := a.roles.Ensure(ctx, name)
		if err != nil {
			return nil, apperr.Persist("identity.EnsureRoles", err)
		}
		roles = append(roles, r)
	}
	return roles, nil
}
