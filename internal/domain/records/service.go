package records

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicrecords/api/internal/domain/identity"
	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/db"
)

// DeletePolicy decides what happens to a patient's visits when the patient
// is deleted.
type DeletePolicy string

const (
	// DeleteBlock refuses to delete a patient that still has visits.
	DeleteBlock DeletePolicy = "block"
	// DeleteCascade deletes the visits in the same transaction.
	DeleteCascade DeletePolicy = "cascade"
)

type Options struct {
	DeletePolicy DeletePolicy
	// Location is the clinic time zone used for calendar-day filters and
	// date-only form values. Nil means UTC.
	Location *time.Location
}

// Service implements patient and visit operations on behalf of a doctor
// session. Every read and write is scoped to the doctor's roster.
type Service struct {
	patients PatientRepository
	visits   VisitRepository
	identity *identity.Service
	access   *identity.AccessRules
	tx       db.TxRunner
	opts     Options
}

func NewService(patients PatientRepository, visits VisitRepository, ident *identity.Service, tx db.TxRunner, opts Options) *Service {
	if opts.DeletePolicy == "" {
		opts.DeletePolicy = DeleteBlock
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		patients: patients,
		visits:   visits,
		identity: ident,
		access:   ident.Access(),
		tx:       tx,
		opts:     opts,
	}
}

// Location returns the clinic time zone.
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

func doctorOf(sess *identity.Session, op string) (*identity.Doctor, error) {
	if !sess.IsDoctor() {
		return nil, apperr.Wrap(apperr.ErrNotDoctor.Kind, op, apperr.ErrNotDoctor.Message, nil)
	}
	return sess.Doctor, nil
}

// authorize fails with ErrNotOwner unless patientID is in the doctor's
// roster, so other doctors' patients look the same as missing ones.
func (s *Service) authorize(ctx context.Context, doctor *identity.Doctor, patientID uuid.UUID, op string) error {
	ok, err := s.access.Owns(ctx, doctor.ID, patientID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Wrap(apperr.ErrNotOwner.Kind, op, apperr.ErrNotOwner.Message, nil)
	}
	return nil
}

// CreatePatient validates in, then provisions the companion user, stores
// the patient and adds it to the doctor's roster in one transaction.
func (s *Service) CreatePatient(ctx context.Context, sess *identity.Session, in PatientInput) (*PatientWithCredential, error) {
	const op = "records.CreatePatient"
	doctor, err := doctorOf(sess, op)
	if err != nil {
		return nil, err
	}
	p := &Patient{}
	if err := in.applyTo(p, op, s.opts.Location); err != nil {
		return nil, err
	}

	var out *PatientWithCredential
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		u, credential, err := s.identity.CreateCompanionUser(ctx, p.Name)
		if err != nil {
			return err
		}
		p.UserID = &u.ID
		if err := s.patients.Create(ctx, p); err != nil {
			return apperr.Persist(op, err)
		}
		if err := s.access.AddOwnedPatient(ctx, doctor.ID, p.ID); err != nil {
			return err
		}
		out = &PatientWithCredential{Patient: p, Username: u.Username, InitialPassword: credential}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetPatient(ctx context.Context, sess *identity.Session, id uuid.UUID) (*Patient, error) {
	const op = "records.GetPatient"
	doctor, err := doctorOf(sess, op)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, doctor, id, op); err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Persist(op, err)
	}
	return p, nil
}

// UpdatePatient replaces the editable fields with the coerced form values.
// The emergency contact is merged rather than replaced.
func (s *Service) UpdatePatient(ctx context.Context, sess *identity.Session, id uuid.UUID, in PatientInput) (*Patient, error) {
	const op = "records.UpdatePatient"
	doctor, err := doctorOf(sess, op)
	if err != nil {
		return nil, err
	}
	if err := in.applyTo(&Patient{}, op, s.opts.Location); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, doctor, id, op); err != nil {
		return nil, err
	}

	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Persist(op, err)
	}
	if err := in.applyTo(p, op, s.opts.Location); err != nil {
		return nil, err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, apperr.Persist(op, err)
	}
	return p, nil
}

// ListPatients returns one page of the doctor's roster, newest first.
func (s *Service) ListPatients(ctx context.Context, sess *identity.Session, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	const op = "records.ListPatients"
	doctor, err := doctorOf(sess, op)
	if err != nil {
		return nil, 0, err
	}
	if f.Location == nil {
		f.Location = s.opts.Location
	}
	patients, total, err := s.patients.ListForDoctor(ctx, doctor.ID, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Persist(op, err)
	}
	return patients, total, nil
}

// DeletePatient removes the patient and its companion user. Existing visits
// are handled according to the configured DeletePolicy.
func (s *Service) DeletePatient(ctx context.Context, sess *identity.Session, id uuid.UUID) error {
	const op = "records.DeletePatient"
	doctor, err := doctorOf(sess, op)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, doctor, id, op); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.GetByID(ctx, id)
		if err != nil {
			return apperr.Persist(op, err)
		}

		switch s.opts.DeletePolicy {
		case DeleteCascade:
			if _, err := s.visits.DeleteForPatient(ctx, id); err != nil {
				return apperr.Persist(op, err)
			}
		default:
			n, err := s.visits.CountForPatient(ctx, id)
			if err != nil {
				return apperr.Persist(op, err)
			}
			if n > 0 {
				return apperr.Wrap(apperr.ErrHasVisits.Kind, op, apperr.ErrHasVisits.Message, nil)
			}
		}

		if err := s.patients.Delete(ctx, id); err != nil {
			return apperr.Persist(op, err)
		}
		if p.UserID != nil {
			if err := s.identity.DeleteCompanionUser(ctx, *p.UserID); err != nil && !apperr.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
}

// CreateVisit records a visit for one of the doctor's patients.
func (s *Service) CreateVisit(ctx context.Context, sess *identity.Session, patientID uuid.UUID, in VisitInput) (*Visit, error) {
	const op = "records.CreateVisit"
	doctor, err := doctorOf(sess, op)
	if err != nil {
		return nil, err
	}
	v := &Visit{PatientID: patientID}
	if err := in.applyTo(v, op, s.opts.Location); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, doctor, patientID, op); err != nil {
		return nil, err
	}

	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, apperr.Persist(op, err)
	}
	if err := s.visits.Create(ctx, v); err != nil {
		return nil, apperr.Persist(op, err)
	}
	v.PatientName = p.Name
	return v, nil
}

// visitFor loads a visit and checks that its patient belongs to the doctor.
func (s *Service) visitFor(ctx context.Context, doctor *identity.Doctor, id uuid.UUID, op string) (*Visit, error) {
	v, err := s.visits.GetByID(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, apperr.Wrap(apperr.ErrNotOwner.Kind, op, apperr.ErrNotOwner.Message, nil)
	}
	if err != nil {
		return nil, apperr.Persist(op, err)
	}
	if err := s.authorize(ctx, doctor, v.PatientID, op); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) GetVisit(ctx context.Context, sess *identity.Session, id uuid.UUID) (*Visit, error) {
	const op = "records.GetVisit"
	doctor, err := doctorOf(sess, op)
	if err != nil {
		return nil, err
	}
	return s.visitFor(ctx, doctor, id, op)
}

// UpdateVisit applies the form to a stored visit. An empty next_visit_date
// clears the stored value.
func (s *Service) UpdateVisit(ctx context.Context, sess *identity.Session, id uuid.UUID, in VisitInput) (*Visit, error) {
	const op = "records.UpdateVisit"
	doctor, err := doctorOf(sess, op)
	if err != nil {
		return nil, err
	}
	if err := in.applyTo(&Visit{}, op, s.opts.Location); err != nil {
		return nil, err
	}

	v, err := s.visitFor(ctx, doctor, id, op)
	if err != nil {
		return nil, err
	}
	if err := in.applyTo(v, op, s.opts.Location); err != nil {
		return nil, err
	}
	if err := s.visits.Update(ctx, v); err != nil {
		return nil, apperr.Persist(op, err)
	}
	return v, nil
}

// ListVisits returns visits across the whole roster. The roster is loaded
// first and passed to the store as an explicit id list.
func (s *Service) ListVisits(ctx context.Context, sess *identity.Session, f VisitFilter, limit, offset int) ([]*Visit, int, error) {
	const op = "records.ListVisits"
	doctor, err := doctorOf(sess, op)
	if err != nil {
		return nil, 0, err
	}
	ids, err := s.access.OwnedPatients(ctx, doctor.ID)
	if err != nil {
		return nil, 0, err
	}
	return s.listVisits(ctx, ids, f, limit, offset, op)
}

// ListPatientVisits returns the visit history of one patient.
func (s *Service) ListPatientVisits(ctx context.Context, sess *identity.Session, patientID uuid.UUID, f VisitFilter, limit, offset int) ([]*Visit, int, error) {
	const op = "records.ListPatientVisits"
	doctor, err := doctorOf(sess, op)
	if err != nil {
		return nil, 0, err
	}
	if err := s.authorize(ctx, doctor, patientID, op); err != nil {
		return nil, 0, err
	}
	return s.listVisits(ctx, []uuid.UUID{patientID}, f, limit, offset, op)
}

func (s *Service) listVisits(ctx context.Context, ids []uuid.UUID, f VisitFilter, limit, offset int, op string) ([]*Visit, int, error) {
	if f.Location == nil {
		f.Location = s.opts.Location
	}
	visits, total, err := s.visits.List(ctx, ids, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Persist(op, err)
	}
	return visits, total, nil
}
