package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/db"
	"github.com/clinicrecords/api/internal/platform/query"
)

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `p.id, p.user_id, p.name, p.age, p.phone, p.email, p.location, p.gender, p.date_of_birth,
	p.medical_history, p.allergies, p.blood_type,
	p.emergency_contact_name, p.emergency_contact_phone, p.emergency_contact_relation,
	p.national_id, p.insurance_number, p.created_at, p.updated_at`

// doctor_patient scope for roster queries; %d is the doctor id parameter.
const rosterSubquery = `SELECT patient_id FROM doctor_patient WHERE doctor_id = $%d`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	ec := p.EmergencyContact
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, user_id, name, age, phone, email, location, gender, date_of_birth,
			medical_history, allergies, blood_type,
			emergency_contact_name, emergency_contact_phone, emergency_contact_relation,
			national_id, insurance_number)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.Name, p.Age, p.Phone, p.Email, p.Location, p.Gender, p.DateOfBirth,
		nonNil(p.MedicalHistory), nonNil(p.Allergies), string(p.BloodType),
		ec.Name, ec.Phone, ec.Relation,
		p.NationalID, p.InsuranceNumber,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient p WHERE p.id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	ec := p.EmergencyContact
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET name = $2, age = $3, phone = $4, email = $5, location = $6, gender = $7,
			date_of_birth = $8, medical_history = $9, allergies = $10, blood_type = $11,
			emergency_contact_name = $12, emergency_contact_phone = $13, emergency_contact_relation = $14,
			national_id = $15, insurance_number = $16, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Age, p.Phone, p.Email, p.Location, p.Gender,
		p.DateOfBirth, nonNil(p.MedicalHistory), nonNil(p.Allergies), string(p.BloodType),
		ec.Name, ec.Phone, ec.Relation,
		p.NationalID, p.InsuranceNumber,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.New(apperr.NotFound, "records.UpdatePatient", "patient not found")
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

// Delete removes the patient; doctor_patient rows go with it. Visits must
// already be gone.
func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return apperr.Wrap(apperr.ErrHasVisits.Kind, "records.DeletePatient", apperr.ErrHasVisits.Message, err)
	}
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "records.DeletePatient", "patient not found")
	}
	return nil
}

func (r *patientRepoPG) ListForDoctor(ctx context.Context, doctorID uuid.UUID, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	qb := query.New("patient p", patientCols)
	qb.InSubquery("p.id", rosterSubquery, doctorID)
	f.apply(qb)
	qb.OrderBy("p.created_at DESC, p.id DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var bloodType string
	ec := &p.EmergencyContact
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Age, &p.Phone, &p.Email, &p.Location, &p.Gender, &p.DateOfBirth,
		&p.MedicalHistory, &p.Allergies, &bloodType,
		&ec.Name, &ec.Phone, &ec.Relation,
		&p.NationalID, &p.InsuranceNumber, &p.CreatedAt, &p.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.New(apperr.NotFound, "", "patient not found")
	}
	if err != nil {
		return nil, err
	}
	p.BloodType = BloodType(bloodType)
	return &p, nil
}

// -- Visit Repository --

type visitRepoPG struct {
	pool *pgxpool.Pool
}

func NewVisitRepo(pool *pgxpool.Pool) VisitRepository {
	return &visitRepoPG{pool: pool}
}

func (r *visitRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const visitCols = `v.id, v.patient_id, p.name, v.visit_date, v.reason_for_visit, v.diagnosis, v.prescription, v.notes,
	v.systolic, v.diastolic, v.heart_rate, v.temperature, v.respiratory_rate, v.oxygen_saturation,
	v.follow_up_required, v.next_visit_date, v.attachments, v.created_at, v.updated_at`

const visitPatientJoin = `JOIN patient p ON p.id = v.patient_id`

func (r *visitRepoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	vt := v.Vitals
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visit (id, patient_id, visit_date, reason_for_visit, diagnosis, prescription, notes,
			systolic, diastolic, heart_rate, temperature, respiratory_rate, oxygen_saturation,
			follow_up_required, next_visit_date, attachments)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		v.ID, v.PatientID, v.VisitDate, v.ReasonForVisit, v.Diagnosis, nonNil(v.Prescription), v.Notes,
		vt.Systolic, vt.Diastolic, vt.HeartRate, vt.Temperature, vt.RespiratoryRate, vt.OxygenSaturation,
		v.FollowUpRequired, v.NextVisitDate, nonNil(v.Attachments),
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.New(apperr.NotFound, "records.CreateVisit", "patient not found")
	}
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (r *visitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visit v `+visitPatientJoin+` WHERE v.id = $1`, id))
}

// Update writes every editable column. A nil NextVisitDate stores NULL.
func (r *visitRepoPG) Update(ctx context.Context, v *Visit) error {
	vt := v.Vitals
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE visit SET visit_date = $2, reason_for_visit = $3, diagnosis = $4, prescription = $5, notes = $6,
			systolic = $7, diastolic = $8, heart_rate = $9, temperature = $10,
			respiratory_rate = $11, oxygen_saturation = $12,
			follow_up_required = $13, next_visit_date = $14, attachments = $15, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		v.ID, v.VisitDate, v.ReasonForVisit, v.Diagnosis, nonNil(v.Prescription), v.Notes,
		vt.Systolic, vt.Diastolic, vt.HeartRate, vt.Temperature, vt.RespiratoryRate, vt.OxygenSaturation,
		v.FollowUpRequired, v.NextVisitDate, nonNil(v.Attachments),
	).Scan(&v.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.New(apperr.NotFound, "records.UpdateVisit", "visit not found")
	}
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	return nil
}

func (r *visitRepoPG) CountForPatient(ctx context.Context, patientID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visit WHERE patient_id = $1`, patientID).Scan(&n)
	return n, err
}

func (r *visitRepoPG) DeleteForPatient(ctx context.Context, patientID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM visit WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete visits: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// List runs the filtered visit query. A reason pattern PostgreSQL rejects as
// a regular expression is retried as a literal substring.
func (r *visitRepoPG) List(ctx context.Context, patientIDs []uuid.UUID, f VisitFilter, limit, offset int) ([]*Visit, int, error) {
	visits, total, err := r.list(ctx, patientIDs, f, limit, offset)
	if db.IsInvalidRegex(err) && !f.literalReason {
		return r.list(ctx, patientIDs, f.literal(), limit, offset)
	}
	return visits, total, err
}

func (r *visitRepoPG) list(ctx context.Context, patientIDs []uuid.UUID, f VisitFilter, limit, offset int) ([]*Visit, int, error) {
	ids := make([]string, len(patientIDs))
	for i, id := range patientIDs {
		ids[i] = id.String()
	}

	qb := query.New("visit v", visitCols).Join(visitPatientJoin)
	qb.AnyOf("v.patient_id", ids)
	f.apply(qb)
	qb.OrderBy("v.visit_date DESC, v.id DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var visits []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, err
		}
		visits = append(visits, v)
	}
	return visits, total, rows.Err()
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	vt := &v.Vitals
	err := row.Scan(&v.ID, &v.PatientID, &v.PatientName, &v.VisitDate, &v.ReasonForVisit, &v.Diagnosis,
		&v.Prescription, &v.Notes,
		&vt.Systolic, &vt.Diastolic, &vt.HeartRate, &vt.Temperature, &vt.RespiratoryRate, &vt.OxygenSaturation,
		&v.FollowUpRequired, &v.NextVisitDate, &v.Attachments, &v.CreatedAt, &v.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.New(apperr.NotFound, "", "visit not found")
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
