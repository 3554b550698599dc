// Package recordstest provides in-memory patient and visit repositories
// wired to the identitytest stores.
package recordstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicrecords/api/internal/domain/identity"
	"github.com/clinicrecords/api/internal/domain/identity/identitytest"
	"github.com/clinicrecords/api/internal/domain/records"
	"github.com/clinicrecords/api/internal/platform/apperr"
)

// -- Patients --

type Patients struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]records.Patient
	doctors *identitytest.Doctors
	Writes  int
}

// NewPatients scopes roster queries through the ownership rows in doctors.
func NewPatients(doctors *identitytest.Doctors) *Patients {
	return &Patients{byID: make(map[uuid.UUID]records.Patient), doctors: doctors}
}

func copyPatient(p records.Patient) *records.Patient {
	p.MedicalHistory = append([]string{}, p.MedicalHistory...)
	p.Allergies = append([]string{}, p.Allergies...)
	return &p
}

func (m *Patients) Create(_ context.Context, p *records.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.byID[p.ID] = *copyPatient(*p)
	m.Writes++
	return nil
}

func (m *Patients) GetByID(_ context.Context, id uuid.UUID) (*records.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "", "patient not found")
	}
	return copyPatient(p), nil
}

func (m *Patients) Update(_ context.Context, p *records.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.ID]; !ok {
		return apperr.New(apperr.NotFound, "", "patient not found")
	}
	p.UpdatedAt = time.Now()
	m.byID[p.ID] = *copyPatient(*p)
	m.Writes++
	return nil
}

// Delete also drops the ownership rows, like ON DELETE CASCADE on
// doctor_patient.
func (m *Patients) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apperr.New(apperr.NotFound, "", "patient not found")
	}
	delete(m.byID, id)
	m.doctors.RemovePatient(id)
	m.Writes++
	return nil
}

func (m *Patients) ListForDoctor(ctx context.Context, doctorID uuid.UUID, f records.PatientFilter, limit, offset int) ([]*records.Patient, int, error) {
	ids, err := m.doctors.PatientIDs(ctx, doctorID)
	if err != nil {
		return nil, 0, err
	}

	m.mu.Lock()
	var matched []*records.Patient
	for _, id := range ids {
		p, ok := m.byID[id]
		if ok && f.Match(&p) {
			matched = append(matched, copyPatient(p))
		}
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() > matched[j].ID.String()
	})
	return paginate(matched, limit, offset), len(matched), nil
}

// SetCreatedAt backdates a stored patient.
func (m *Patients) SetCreatedAt(id uuid.UUID, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		p.CreatedAt = t
		m.byID[id] = p
	}
}

func (m *Patients) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *Patients) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]records.Patient, len(m.byID))
	for k, v := range m.byID {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.byID = saved
	}
}

// -- Visits --

type Visits struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]records.Visit
	patients *Patients
	Writes   int
}

// NewVisits resolves patient names through patients.
func NewVisits(patients *Patients) *Visits {
	return &Visits{byID: make(map[uuid.UUID]records.Visit), patients: patients}
}

func copyVisit(v records.Visit) *records.Visit {
	v.Prescription = append([]string{}, v.Prescription...)
	v.Attachments = append([]string{}, v.Attachments...)
	if v.NextVisitDate != nil {
		next := *v.NextVisitDate
		v.NextVisitDate = &next
	}
	return &v
}

func (m *Visits) Create(ctx context.Context, v *records.Visit) error {
	if _, err := m.patients.GetByID(ctx, v.PatientID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New()
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	stored := *copyVisit(*v)
	stored.PatientName = ""
	m.byID[v.ID] = stored
	m.Writes++
	return nil
}

func (m *Visits) withPatientName(ctx context.Context, v records.Visit) *records.Visit {
	out := copyVisit(v)
	if p, err := m.patients.GetByID(ctx, v.PatientID); err == nil {
		out.PatientName = p.Name
	}
	return out
}

func (m *Visits) GetByID(ctx context.Context, id uuid.UUID) (*records.Visit, error) {
	m.mu.Lock()
	v, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "", "visit not found")
	}
	return m.withPatientName(ctx, v), nil
}

func (m *Visits) Update(_ context.Context, v *records.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[v.ID]; !ok {
		return apperr.New(apperr.NotFound, "", "visit not found")
	}
	v.UpdatedAt = time.Now()
	stored := *copyVisit(*v)
	stored.PatientName = ""
	m.byID[v.ID] = stored
	m.Writes++
	return nil
}

func (m *Visits) CountForPatient(_ context.Context, patientID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.byID {
		if v.PatientID == patientID {
			n++
		}
	}
	return n, nil
}

func (m *Visits) DeleteForPatient(_ context.Context, patientID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, v := range m.byID {
		if v.PatientID == patientID {
			delete(m.byID, id)
			n++
		}
	}
	if n > 0 {
		m.Writes++
	}
	return n, nil
}

func (m *Visits) List(ctx context.Context, patientIDs []uuid.UUID, f records.VisitFilter, limit, offset int) ([]*records.Visit, int, error) {
	scope := make(map[uuid.UUID]bool, len(patientIDs))
	for _, id := range patientIDs {
		scope[id] = true
	}

	m.mu.Lock()
	var stored []records.Visit
	for _, v := range m.byID {
		if scope[v.PatientID] && f.Match(&v) {
			stored = append(stored, v)
		}
	}
	m.mu.Unlock()

	matched := make([]*records.Visit, 0, len(stored))
	for _, v := range stored {
		matched = append(matched, m.withPatientName(ctx, v))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].VisitDate.Equal(matched[j].VisitDate) {
			return matched[i].VisitDate.After(matched[j].VisitDate)
		}
		return matched[i].ID.String() > matched[j].ID.String()
	})
	return paginate(matched, limit, offset), len(matched), nil
}

func (m *Visits) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *Visits) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]records.Visit, len(m.byID))
	for k, v := range m.byID {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.byID = saved
	}
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// -- Fixture --

// Fixture wires in-memory identity and records stores into a
// records.Service sharing one transaction runner.
type Fixture struct {
	Identity *identitytest.Fixture
	Patients *Patients
	Visits   *Visits
	Service  *records.Service
}

// NewFixture builds a records service with the standard roles.
func NewFixture(opts records.Options) *Fixture {
	return newFixture(identitytest.NewFixture(), opts)
}

// NewFixtureWithRoles builds a records service whose role store holds only
// names.
func NewFixtureWithRoles(opts records.Options, names ...string) *Fixture {
	return newFixture(identitytest.NewFixtureWithRoles(names...), opts)
}

func newFixture(id *identitytest.Fixture, opts records.Options) *Fixture {
	f := &Fixture{Identity: id}
	f.Patients = NewPatients(id.Doctors)
	f.Visits = NewVisits(f.Patients)
	id.Tx.Track(f.Patients, f.Visits)
	f.Service = records.NewService(f.Patients, f.Visits, id.Service, id.Tx, opts)
	return f
}

func (f *Fixture) Close() {
	f.Identity.Close()
}

// Doctor registers a doctor and returns its session.
func (f *Fixture) Doctor(ctx context.Context, username string) (*identity.Session, error) {
	return f.Identity.RegisterDoctor(ctx, username)
}

// Writes is the number of mutations applied to every store.
func (f *Fixture) Writes() int {
	return f.Identity.Users.Writes + f.Identity.Roles.Writes + f.Identity.Doctors.Writes +
		f.Patients.Writes + f.Visits.Writes
}
