package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/clinicrecords/api/internal/domain/identity"
	"github.com/clinicrecords/api/internal/domain/identity/identitytest"
	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/auth"
)

func newAccess() (*identity.AccessRules, *identitytest.Users, *identitytest.Roles, *identitytest.Doctors) {
	users := identitytest.NewUsers()
	roles := identitytest.StandardRoles()
	doctors := identitytest.NewDoctors()
	return identity.NewAccessRules(users, roles, doctors), users, roles, doctors
}

func TestResolveRoleForUser_NoMembership(t *testing.T) {
	access, _, _, _ := newAccess()
	_, err := access.ResolveRoleForUser(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
	if !apperr.IsAuth(err) {
		t.Errorf("expected Auth kind, got %s", apperr.KindOf(err))
	}
}

func TestResolveRoleForUser_PicksFirstRoleByName(t *testing.T) {
	access, _, roles, _ := newAccess()
	ctx := context.Background()
	userID := uuid.New()

	if err := access.GrantRole(ctx, userID, auth.RolePatient); err != nil {
		t.Fatal(err)
	}
	if err := access.GrantRole(ctx, userID, auth.RoleDoctor); err != nil {
		t.Fatal(err)
	}
	role, err := access.ResolveRoleForUser(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != auth.RoleDoctor {
		t.Errorf("expected Doctor, got %s", role)
	}
	if roles.Writes != 2 {
		t.Errorf("expected 2 membership writes, got %d", roles.Writes)
	}
}

func TestGrantPatientRole_MissingRole(t *testing.T) {
	users := identitytest.NewUsers()
	access := identity.NewAccessRules(users, identitytest.NewRoles(auth.RoleDoctor), identitytest.NewDoctors())

	err := access.GrantPatientRole(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrRoleMissing) {
		t.Fatalf("expected ErrRoleMissing, got %v", err)
	}
	if apperr.IsValidation(err) {
		t.Error("a missing role is not a validation error")
	}
}

func TestResolveDoctorForUser_Absent(t *testing.T) {
	access, _, _, _ := newAccess()
	_, err := access.ResolveDoctorForUser(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrNotDoctor) {
		t.Errorf("expected ErrNotDoctor, got %v", err)
	}
}

func TestOwnedPatients_RoundTrip(t *testing.T) {
	access, _, _, _ := newAccess()
	ctx := context.Background()
	doctorID := uuid.New()
	patientID := uuid.New()

	if err := access.AddOwnedPatient(ctx, doctorID, patientID); err != nil {
		t.Fatalf("AddOwnedPatient() error: %v", err)
	}
	ids, err := access.OwnedPatients(ctx, doctorID)
	if err != nil {
		t.Fatalf("OwnedPatients() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != patientID {
		t.Errorf("expected roster [%s], got %v", patientID, ids)
	}
	if ok, _ := access.Owns(ctx, doctorID, patientID); !ok {
		t.Error("expected doctor to own patient")
	}
}

func TestAddOwnedPatient_Idempotent(t *testing.T) {
	access, _, _, doctors := newAccess()
	ctx := context.Background()
	doctorID := uuid.New()
	patientID := uuid.New()

	for i := 0; i < 3; i++ {
		if err := access.AddOwnedPatient(ctx, doctorID, patientID); err != nil {
			t.Fatalf("add #%d: %v", i+1, err)
		}
	}
	ids, _ := access.OwnedPatients(ctx, doctorID)
	if len(ids) != 1 {
		t.Errorf("expected roster of 1, got %d", len(ids))
	}
	if doctors.Writes != 1 {
		t.Errorf("expected a single write, got %d", doctors.Writes)
	}
}

func TestAddOwnedPatient_OwnedByOther(t *testing.T) {
	access, _, _, _ := newAccess()
	ctx := context.Background()
	d1, d2 := uuid.New(), uuid.New()
	patientID := uuid.New()

	if err := access.AddOwnedPatient(ctx, d1, patientID); err != nil {
		t.Fatal(err)
	}
	err := access.AddOwnedPatient(ctx, d2, patientID)
	if !errors.Is(err, apperr.ErrOwnedByOther) {
		t.Fatalf("expected ErrOwnedByOther, got %v", err)
	}
	if ok, _ := access.Owns(ctx, d2, patientID); ok {
		t.Error("second doctor must not own the patient")
	}
	ids, _ := access.OwnedPatients(ctx, d2)
	if len(ids) != 0 {
		t.Errorf("expected empty roster for d2, got %v", ids)
	}
}

func TestOwns_UnknownPatient(t *testing.T) {
	access, _, _, _ := newAccess()
	if ok, err := access.Owns(context.Background(), uuid.New(), uuid.New()); ok || err != nil {
		t.Errorf("expected false, nil; got %v, %v", ok, err)
	}
}

func TestEnsureRoles(t *testing.T) {
	access := identity.NewAccessRules(identitytest.NewUsers(), identitytest.NewRoles(), identitytest.NewDoctors())
	ctx := context.Background()

	roles, err := access.EnsureRoles(ctx, auth.RoleDoctor, auth.RolePatient)
	if err != nil || len(roles) != 2 {
		t.Fatalf("EnsureRoles() = %v, %v", roles, err)
	}
	again, _ := access.EnsureRoles(ctx, auth.RoleDoctor)
	if again[0].ID != roles[0].ID {
		t.Error("expected existing role to be returned")
	}
}

func TestAddOwnedPatient_ConcurrentDoctors(t *testing.T) {
	access, _, _, doctors := newAccess()
	ctx := context.Background()
	patientID := uuid.New()
	candidates := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}

	errs := make([]error, len(candidates))
	var wg sync.WaitGroup
	for i, d := range candidates {
		wg.Add(1)
		go func(i int, d uuid.UUID) {
			defer wg.Done()
			errs[i] = access.AddOwnedPatient(ctx, d, patientID)
		}(i, d)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, apperr.ErrOwnedByOther):
			t.Errorf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one owner, got %d", succeeded)
	}
	if doctors.Writes != 1 {
		t.Errorf("expected a single roster row, got %d writes", doctors.Writes)
	}
}

// The roster store refuses a second owner even when the OwnerOf check was
// passed before the first row landed.
func TestDoctors_AddPatientRefusesSecondOwner(t *testing.T) {
	doctors := identitytest.NewDoctors()
	ctx := context.Background()
	d1, d2, patientID := uuid.New(), uuid.New(), uuid.New()

	if err := doctors.AddPatient(ctx, d1, patientID); err != nil {
		t.Fatal(err)
	}
	if err := doctors.AddPatient(ctx, d2, patientID); !errors.Is(err, apperr.ErrOwnedByOther) {
		t.Errorf("expected ErrOwnedByOther, got %v", err)
	}
	if err := doctors.AddPatient(ctx, d1, patientID); err != nil {
		t.Errorf("re-adding the same owner should be a no-op, got %v", err)
	}
}
