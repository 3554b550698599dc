package records_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicrecords/api/internal/domain/identity"
	"github.com/clinicrecords/api/internal/domain/records"
	"github.com/clinicrecords/api/internal/domain/records/recordstest"
	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/auth"
)

func newFixture(t *testing.T, opts records.Options) *recordstest.Fixture {
	t.Helper()
	f := recordstest.NewFixture(opts)
	t.Cleanup(f.Close)
	return f
}

func mustDoctor(t *testing.T, f *recordstest.Fixture, username string) *identity.Session {
	t.Helper()
	sess, err := f.Doctor(context.Background(), username)
	if err != nil {
		t.Fatalf("register doctor %s: %v", username, err)
	}
	return sess
}

func mustPatient(t *testing.T, f *recordstest.Fixture, sess *identity.Session, name string) *records.Patient {
	t.Helper()
	out, err := f.Service.CreatePatient(context.Background(), sess, records.PatientInput{Name: name, Phone: "555-0100"})
	if err != nil {
		t.Fatalf("create patient %s: %v", name, err)
	}
	return out.Patient
}

func mustVisit(t *testing.T, f *recordstest.Fixture, sess *identity.Session, patientID uuid.UUID, date, reason string) *records.Visit {
	t.Helper()
	v, err := f.Service.CreateVisit(context.Background(), sess, patientID, records.VisitInput{VisitDate: date, ReasonForVisit: reason})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	return v
}

func TestCreatePatient_ProvisionsCompanionUser(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	doc := mustDoctor(t, f, "house")

	out, err := f.Service.CreatePatient(ctx, doc, records.PatientInput{
		Name:           "Alice",
		Phone:          "555-1111",
		MedicalHistory: "flu, asthma,  diabetes ",
	})
	if err != nil {
		t.Fatalf("CreatePatient() error: %v", err)
	}
	p := out.Patient
	if p.ID == uuid.Nil || p.UserID == nil {
		t.Fatalf("expected stored patient linked to a user, got %+v", p)
	}
	if out.Username != "Alice" || out.InitialPassword == "" || out.InitialPassword == "Alice" {
		t.Errorf("unexpected credential %q / %q", out.Username, out.InitialPassword)
	}

	reloaded, err := f.Service.GetPatient(ctx, doc, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(reloaded.MedicalHistory, []string{"flu", "asthma", "diabetes"}) {
		t.Errorf("medical history round-trip: %q", reloaded.MedicalHistory)
	}

	sess, _, err := f.Identity.Service.LogIn(ctx, out.Username, out.InitialPassword)
	if err != nil {
		t.Fatalf("companion login: %v", err)
	}
	if sess.Role != auth.RolePatient || !sess.User.MustResetPassword {
		t.Errorf("expected Patient role with forced reset, got %s / %v", sess.Role, sess.User.MustResetPassword)
	}
	if sess.User.ID != *p.UserID {
		t.Errorf("companion user %s is not linked to patient user %s", sess.User.ID, *p.UserID)
	}
}

func TestCreatePatient_RosterMembership(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	doc := mustDoctor(t, f, "house")

	alice := mustPatient(t, f, doc, "Alice")
	bob := mustPatient(t, f, doc, "Bob")

	ids, err := f.Identity.Service.Access().OwnedPatients(ctx, doc.Doctor.ID)
	if err != nil {
		t.Fatal(err)
	}
	listed, total, err := f.Service.ListPatients(ctx, doc, records.PatientFilter{}, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(listed) != 2 || len(ids) != 2 {
		t.Fatalf("expected 2 patients in roster and list, got roster=%d list=%d total=%d", len(ids), len(listed), total)
	}
	inRoster := map[uuid.UUID]bool{}
	for _, id := range ids {
		inRoster[id] = true
	}
	for _, p := range listed {
		if !inRoster[p.ID] {
			t.Errorf("listed patient %s not in owned set", p.Name)
		}
	}
	if !inRoster[alice.ID] || !inRoster[bob.ID] {
		t.Error("created patients missing from owned set")
	}
}

func TestPatientsScopedToOwningDoctor(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	d1 := mustDoctor(t, f, "house")
	d2 := mustDoctor(t, f, "wilson")

	out, err := f.Service.CreatePatient(ctx, d1, records.PatientInput{Name: "Alice", Phone: "555-1111"})
	if err != nil {
		t.Fatal(err)
	}
	alice := out.Patient

	listed, total, err := f.Service.ListPatients(ctx, d2, records.PatientFilter{}, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(listed) != 0 {
		t.Errorf("D2 roster must be empty, got %d", total)
	}

	if _, err := f.Service.GetPatient(ctx, d2, alice.ID); !errors.Is(err, apperr.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner for D2 read, got %v", err)
	}
	if _, err := f.Service.UpdatePatient(ctx, d2, alice.ID, records.PatientInput{Name: "Eve", Phone: "1"}); !errors.Is(err, apperr.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner for D2 update, got %v", err)
	}
	if _, err := f.Service.CreateVisit(ctx, d2, alice.ID, records.VisitInput{VisitDate: "2026-03-14", ReasonForVisit: "x"}); !errors.Is(err, apperr.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner for D2 visit, got %v", err)
	}
	if err := f.Identity.Service.Access().AddOwnedPatient(ctx, d2.Doctor.ID, alice.ID); !errors.Is(err, apperr.ErrOwnedByOther) {
		t.Errorf("expected ErrOwnedByOther, got %v", err)
	}
}

func TestCreatePatient_EmptyNameWritesNothing(t *testing.T) {
	f := newFixture(t, records.Options{})
	doc := mustDoctor(t, f, "house")
	before := f.Writes()

	_, err := f.Service.CreatePatient(context.Background(), doc, records.PatientInput{Name: "  ", Phone: "555-1111"})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if after := f.Writes(); after != before {
		t.Errorf("expected zero writes, got %d", after-before)
	}
}

func TestCreatePatient_MissingPatientRoleRollsBack(t *testing.T) {
	f := recordstest.NewFixtureWithRoles(records.Options{}, auth.RoleDoctor)
	defer f.Close()
	doc := mustDoctor(t, f, "house")
	users := f.Identity.Users.Len()

	_, err := f.Service.CreatePatient(context.Background(), doc, records.PatientInput{Name: "Alice", Phone: "555-1111"})
	if !errors.Is(err, apperr.ErrRoleMissing) {
		t.Fatalf("expected ErrRoleMissing, got %v", err)
	}
	if f.Identity.Users.Len() != users {
		t.Error("companion user must be rolled back")
	}
	if f.Patients.Len() != 0 {
		t.Error("patient must not be stored")
	}
	if f.Identity.Tx.Rollbacks == 0 {
		t.Error("expected a rollback")
	}
}

func TestCreatePatient_RequiresDoctor(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	u, cred, err := f.Identity.Service.CreateCompanionUser(ctx, "Mallory")
	if err != nil {
		t.Fatal(err)
	}
	sess, _, err := f.Identity.Service.LogIn(ctx, u.Username, cred)
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.Service.CreatePatient(ctx, sess, records.PatientInput{Name: "Alice", Phone: "1"})
	if !errors.Is(err, apperr.ErrNotDoctor) {
		t.Errorf("expected ErrNotDoctor, got %v", err)
	}
	if _, _, err := f.Service.ListPatients(ctx, nil, records.PatientFilter{}, 20, 0); !errors.Is(err, apperr.ErrNotDoctor) {
		t.Errorf("expected ErrNotDoctor for nil session, got %v", err)
	}
}

func TestListPatients_NameFilter(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	doc := mustDoctor(t, f, "house")
	names := []string{"Alice", "alina", "Bob", "Rosalind", "Malik"}
	for _, n := range names {
		mustPatient(t, f, doc, n)
	}

	filter := records.PatientFilter{Name: "ALI"}
	got, total, err := f.Service.ListPatients(ctx, doc, filter, 100, 0)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{"Alice": true, "alina": true, "Rosalind": true, "Malik": true}
	if total != len(want) || len(got) != len(want) {
		t.Fatalf("expected %d matches, got %d", len(want), total)
	}
	for _, p := range got {
		if !want[p.Name] {
			t.Errorf("unexpected match %q", p.Name)
		}
	}
}

func TestListPatients_DayFilterAndOrder(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	doc := mustDoctor(t, f, "house")

	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	early := mustPatient(t, f, doc, "Early")
	late := mustPatient(t, f, doc, "Late")
	next := mustPatient(t, f, doc, "NextDay")
	f.Patients.SetCreatedAt(early.ID, day)
	f.Patients.SetCreatedAt(late.ID, day.Add(24*time.Hour-time.Millisecond))
	f.Patients.SetCreatedAt(next.ID, day.Add(24*time.Hour))

	got, total, err := f.Service.ListPatients(ctx, doc, records.PatientFilter{Day: day}, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("expected 2 patients on %s, got %d", day.Format("2006-01-02"), total)
	}
	if got[0].ID != late.ID || got[1].ID != early.ID {
		t.Errorf("expected newest first, got %s then %s", got[0].Name, got[1].Name)
	}
}

func TestUpdatePatient(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	doc := mustDoctor(t, f, "house")

	out, err := f.Service.CreatePatient(ctx, doc, records.PatientInput{
		Name:             "Alice",
		Phone:            "555-1111",
		EmergencyContact: records.EmergencyContactInput{Name: "Bob", Phone: "555-2222", Relation: "brother"},
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := f.Service.UpdatePatient(ctx, doc, out.Patient.ID, records.PatientInput{
		Name:             "Alice Smith",
		Phone:            "555-1111",
		Age:              "abc",
		Allergies:        "penicillin, latex",
		BloodType:        "AB+",
		EmergencyContact: records.EmergencyContactInput{Phone: "555-3333"},
	})
	if err != nil {
		t.Fatalf("UpdatePatient() error: %v", err)
	}
	if updated.Name != "Alice Smith" || updated.Age != nil || updated.BloodType != records.BloodABPos {
		t.Errorf("unexpected patient %+v", updated)
	}
	want := records.EmergencyContact{Name: "Bob", Phone: "555-3333", Relation: "brother"}
	if updated.EmergencyContact != want {
		t.Errorf("emergency contact = %+v, want %+v", updated.EmergencyContact, want)
	}

	before := f.Writes()
	_, err = f.Service.UpdatePatient(ctx, doc, out.Patient.ID, records.PatientInput{Name: "Alice", Phone: "1", BloodType: "Z"})
	if !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if f.Writes() != before {
		t.Error("invalid update must not write")
	}
}

func TestUpdateVisit_ClearsNextVisitDate(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	doc := mustDoctor(t, f, "house")
	p := mustPatient(t, f, doc, "Alice")

	v, err := f.Service.CreateVisit(ctx, doc, p.ID, records.VisitInput{
		VisitDate:        "2026-03-14",
		ReasonForVisit:   "Cough",
		FollowUpRequired: true,
		NextVisitDate:    "2026-03-21",
		Vitals:           records.VitalsInput{Systolic: "120", HeartRate: "n/a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.NextVisitDate == nil || v.PatientName != "Alice" {
		t.Fatalf("unexpected visit %+v", v)
	}
	if v.Vitals.Systolic != 120 || v.Vitals.HeartRate != 0 {
		t.Errorf("unexpected vitals %+v", v.Vitals)
	}

	_, err = f.Service.UpdateVisit(ctx, doc, v.ID, records.VisitInput{
		VisitDate:        "2026-03-14",
		ReasonForVisit:   "Cough",
		FollowUpRequired: true,
		NextVisitDate:    "",
	})
	if err != nil {
		t.Fatalf("UpdateVisit() error: %v", err)
	}

	reloaded, err := f.Service.GetVisit(ctx, doc, v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.NextVisitDate != nil {
		t.Errorf("expected next visit date cleared, got %v", reloaded.NextVisitDate)
	}
	if !reloaded.FollowUpRequired {
		t.Error("follow-up flag must survive without a next visit date")
	}
}

func TestCreateVisit_ValidationBeforeStore(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	doc := mustDoctor(t, f, "house")
	p := mustPatient(t, f, doc, "Alice")
	before := f.Writes()

	for _, in := range []records.VisitInput{
		{ReasonForVisit: "Cough"},
		{VisitDate: "2026-03-14"},
		{VisitDate: "yesterday", ReasonForVisit: "Cough"},
	} {
		if _, err := f.Service.CreateVisit(ctx, doc, p.ID, in); !apperr.IsValidation(err) {
			t.Errorf("%+v: expected validation error, got %v", in, err)
		}
	}
	if f.Writes() != before {
		t.Error("invalid visits must not write")
	}
}

func TestListVisits_ScopedAndFiltered(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	d1 := mustDoctor(t, f, "house")
	d2 := mustDoctor(t, f, "wilson")

	alice := mustPatient(t, f, d1, "Alice")
	bob := mustPatient(t, f, d1, "Bob")
	carol := mustPatient(t, f, d2, "Carol")

	mustVisit(t, f, d1, alice.ID, "2026-03-14", "Flu symptoms")
	mustVisit(t, f, d1, bob.ID, "2026-03-15", "Follow-up: flu")
	mustVisit(t, f, d1, alice.ID, "2026-03-16", "Sprained ankle")
	mustVisit(t, f, d2, carol.ID, "2026-03-14", "Flu shot")

	all, total, err := f.Service.ListVisits(ctx, d1, records.VisitFilter{}, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("expected 3 visits for D1, got %d", total)
	}
	if all[0].ReasonForVisit != "Sprained ankle" || all[2].ReasonForVisit != "Flu symptoms" {
		t.Errorf("expected most recent visit first, got %q .. %q", all[0].ReasonForVisit, all[2].ReasonForVisit)
	}
	for _, v := range all {
		if v.PatientName == "" || v.PatientName == "Carol" {
			t.Errorf("unexpected patient name %q", v.PatientName)
		}
	}

	flu, total, err := f.Service.ListVisits(ctx, d1, records.VisitFilter{Reason: "FLU"}, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(flu) != 2 {
		t.Errorf("expected 2 flu visits, got %d", total)
	}

	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	onDay, total, err := f.Service.ListVisits(ctx, d1, records.VisitFilter{Day: day}, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || onDay[0].PatientName != "Alice" {
		t.Errorf("expected Alice's visit on the 14th, got %d", total)
	}

	history, total, err := f.Service.ListPatientVisits(ctx, d1, alice.ID, records.VisitFilter{}, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(history) != 1 {
		t.Errorf("expected page of 1 out of 2, got %d of %d", len(history), total)
	}
	if _, _, err := f.Service.ListPatientVisits(ctx, d2, alice.ID, records.VisitFilter{}, 20, 0); !errors.Is(err, apperr.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

func TestListVisits_EmptyRoster(t *testing.T) {
	f := newFixture(t, records.Options{})
	doc := mustDoctor(t, f, "house")

	visits, total, err := f.Service.ListVisits(context.Background(), doc, records.VisitFilter{}, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(visits) != 0 {
		t.Errorf("expected no visits, got %d", total)
	}
}

func TestGetVisit_OtherDoctor(t *testing.T) {
	f := newFixture(t, records.Options{})
	ctx := context.Background()
	d1 := mustDoctor(t, f, "house")
	d2 := mustDoctor(t, f, "wilson")
	p := mustPatient(t, f, d1, "Alice")
	v := mustVisit(t, f, d1, p.ID, "2026-03-14", "Cough")

	if _, err := f.Service.GetVisit(ctx, d2, v.ID); !errors.Is(err, apperr.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if _, err := f.Service.GetVisit(ctx, d1, uuid.New()); !errors.Is(err, apperr.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner for unknown visit, got %v", err)
	}
}

func TestDeletePatient_BlockPolicy(t *testing.T) {
	f := newFixture(t, records.Options{DeletePolicy: records.DeleteBlock})
	ctx := context.Background()
	doc := mustDoctor(t, f, "house")
	p := mustPatient(t, f, doc, "Alice")
	mustVisit(t, f, doc, p.ID, "2026-03-14", "Cough")

	err := f.Service.DeletePatient(ctx, doc, p.ID)
	if !errors.Is(err, apperr.ErrHasVisits) {
		t.Fatalf("expected ErrHasVisits, got %v", err)
	}
	if f.Patients.Len() != 1 || f.Visits.Len() != 1 {
		t.Error("blocked delete must leave patient and visits intact")
	}

	empty := mustPatient(t, f, doc, "Bob")
	users := f.Identity.Users.Len()
	if err := f.Service.DeletePatient(ctx, doc, empty.ID); err != nil {
		t.Fatalf("DeletePatient() without visits: %v", err)
	}
	if f.Identity.Users.Len() != users-1 {
		t.Error("expected companion user removed")
	}
	if _, err := f.Service.GetPatient(ctx, doc, empty.ID); !errors.Is(err, apperr.ErrNotOwner) {
		t.Errorf("expected deleted patient to be gone from roster, got %v", err)
	}
}

func TestDeletePatient_CascadePolicy(t *testing.T) {
	f := newFixture(t, records.Options{DeletePolicy: records.DeleteCascade})
	ctx := context.Background()
	doc := mustDoctor(t, f, "house")
	p := mustPatient(t, f, doc, "Alice")
	other := mustPatient(t, f, doc, "Bob")
	mustVisit(t, f, doc, p.ID, "2026-03-14", "Cough")
	mustVisit(t, f, doc, p.ID, "2026-03-15", "Cough again")
	mustVisit(t, f, doc, other.ID, "2026-03-15", "Checkup")

	if err := f.Service.DeletePatient(ctx, doc, p.ID); err != nil {
		t.Fatalf("DeletePatient() error: %v", err)
	}
	if f.Patients.Len() != 1 || f.Visits.Len() != 1 {
		t.Errorf("expected only Bob and his visit left, got %d patients, %d visits", f.Patients.Len(), f.Visits.Len())
	}
	ids, _ := f.Identity.Service.Access().OwnedPatients(ctx, doc.Doctor.ID)
	if len(ids) != 1 || ids[0] != other.ID {
		t.Errorf("expected roster [%s], got %v", other.ID, ids)
	}
}
