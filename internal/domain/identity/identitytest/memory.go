// Package identitytest provides in-memory identity repositories and a
// transaction runner that rolls them back, for use in service tests.
package identitytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicrecords/api/internal/domain/identity"
	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/auth"
)

// Snapshotter captures its state and returns a func that restores it.
type Snapshotter interface {
	Snapshot() (restore func())
}

type txKey struct{}

// TxRunner implements db.TxRunner over Snapshotters: a failed transaction
// restores every tracked store.
type TxRunner struct {
	mu        sync.Mutex
	tracked   []Snapshotter
	Commits   int
	Rollbacks int
}

func NewTxRunner(stores ...Snapshotter) *TxRunner {
	return &TxRunner{tracked: stores}
}

func (t *TxRunner) Track(stores ...Snapshotter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked = append(t.tracked, stores...)
}

func (t *TxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	t.mu.Lock()
	restores := make([]func(), 0, len(t.tracked))
	for _, s := range t.tracked {
		restores = append(restores, s.Snapshot())
	}
	t.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		for _, restore := range restores {
			restore()
		}
		t.mu.Lock()
		t.Rollbacks++
		t.mu.Unlock()
		return err
	}
	t.mu.Lock()
	t.Commits++
	t.mu.Unlock()
	return nil
}

// -- Users --

type Users struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]identity.User
	Writes int
}

func NewUsers() *Users {
	return &Users{byID: make(map[uuid.UUID]identity.User)}
}

func (m *Users) Create(_ context.Context, u *identity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Username == u.Username {
			return apperr.Wrap(apperr.ErrUsernameTaken.Kind, "identitytest.CreateUser", apperr.ErrUsernameTaken.Message, nil)
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.byID[u.ID] = *u
	m.Writes++
	return nil
}

func (m *Users) GetByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "", "user not found")
	}
	return &u, nil
}

func (m *Users) GetByUsername(_ context.Context, username string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "", "user not found")
}

func (m *Users) UpdatePassword(_ context.Context, id uuid.UUID, hash string, mustReset bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return apperr.New(apperr.NotFound, "", "user not found")
	}
	u.PasswordHash = hash
	u.MustResetPassword = mustReset
	u.UpdatedAt = time.Now()
	m.byID[id] = u
	m.Writes++
	return nil
}

func (m *Users) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return apperr.New(apperr.NotFound, "", "user not found")
	}
	delete(m.byID, id)
	m.Writes++
	return nil
}

// Len returns the number of stored users.
func (m *Users) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *Users) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]identity.User, len(m.byID))
	for k, v := range m.byID {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.byID = saved
	}
}

// -- Roles --

type Roles struct {
	mu      sync.Mutex
	byName  map[string]identity.Role
	members map[uuid.UUID]map[uuid.UUID]bool // role id -> user ids
	Writes  int
}

// NewRoles returns a role store pre-populated with names.
func NewRoles(names ...string) *Roles {
	r := &Roles{
		byName:  make(map[string]identity.Role),
		members: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
	for _, n := range names {
		r.byName[n] = identity.Role{ID: uuid.New(), Name: n, CreatedAt: time.Now()}
	}
	return r
}

// StandardRoles returns a store holding the Doctor and Patient roles.
func StandardRoles() *Roles {
	return NewRoles(auth.RoleDoctor, auth.RolePatient)
}

func (m *Roles) Ensure(_ context.Context, name string) (*identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byName[name]
	if !ok {
		r = identity.Role{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
		m.byName[name] = r
		m.Writes++
	}
	return &r, nil
}

func (m *Roles) GetByName(_ context.Context, name string) (*identity.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byName[name]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "", "role not found")
	}
	return &r, nil
}

func (m *Roles) AddMember(_ context.Context, roleID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[roleID] == nil {
		m.members[roleID] = make(map[uuid.UUID]bool)
	}
	m.members[roleID][userID] = true
	m.Writes++
	return nil
}

func (m *Roles) NamesForUser(_ context.Context, userID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, r := range m.byName {
		if m.members[r.ID][userID] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Roles) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	savedRoles := make(map[string]identity.Role, len(m.byName))
	for k, v := range m.byName {
		savedRoles[k] = v
	}
	savedMembers := make(map[uuid.UUID]map[uuid.UUID]bool, len(m.members))
	for roleID, users := range m.members {
		cp := make(map[uuid.UUID]bool, len(users))
		for u := range users {
			cp[u] = true
		}
		savedMembers[roleID] = cp
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.byName = savedRoles
		m.members = savedMembers
	}
}

// -- Doctors --

type ownership struct {
	doctorID  uuid.UUID
	patientID uuid.UUID
}

type Doctors struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]identity.Doctor
	owned  []ownership
	Writes int
}

func NewDoctors() *Doctors {
	return &Doctors{byID: make(map[uuid.UUID]identity.Doctor)}
}

func (m *Doctors) Create(_ context.Context, d *identity.Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.byID[d.ID] = *d
	m.Writes++
	return nil
}

func (m *Doctors) GetByID(_ context.Context, id uuid.UUID) (*identity.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "", "doctor not found")
	}
	return &d, nil
}

func (m *Doctors) GetByUserID(_ context.Context, userID uuid.UUID) (*identity.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.UserID == userID {
			d := d
			return &d, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "", "doctor not found")
}

func (m *Doctors) PatientIDs(_ context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, o := range m.owned {
		if o.doctorID == doctorID {
			ids = append(ids, o.patientID)
		}
	}
	return ids, nil
}

func (m *Doctors) OwnerOf(_ context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.owned {
		if o.patientID == patientID {
			return o.doctorID, nil
		}
	}
	return uuid.Nil, nil
}

func (m *Doctors) AddPatient(_ context.Context, doctorID, patientID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.owned {
		if o.patientID != patientID {
			continue
		}
		if o.doctorID == doctorID {
			return nil
		}
		return apperr.Wrap(apperr.ErrOwnedByOther.Kind, "identitytest.AddPatient", apperr.ErrOwnedByOther.Message, nil)
	}
	m.owned = append(m.owned, ownership{doctorID: doctorID, patientID: patientID})
	m.Writes++
	return nil
}

// RemovePatient drops every ownership row for patientID, mirroring the
// ON DELETE CASCADE of doctor_patient.
func (m *Doctors) RemovePatient(patientID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.owned[:0]
	for _, o := range m.owned {
		if o.patientID != patientID {
			kept = append(kept, o)
		}
	}
	m.owned = kept
}

func (m *Doctors) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	savedDoctors := make(map[uuid.UUID]identity.Doctor, len(m.byID))
	for k, v := range m.byID {
		savedDoctors[k] = v
	}
	savedOwned := append([]ownership(nil), m.owned...)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.byID = savedDoctors
		m.owned = savedOwned
	}
}

// -- Fixture --

// Fixture wires in-memory stores into an identity.Service.
type Fixture struct {
	Users   *Users
	Roles   *Roles
	Doctors *Doctors
	Tx      *TxRunner
	Revoked *auth.MemoryRevocationStore
	Tokens  *auth.TokenIssuer
	Service *identity.Service
}

var testKey = []byte("identitytest-signing-key-0123456789")

// NewFixture builds a service with the standard roles. Call Close when done.
func NewFixture() *Fixture {
	return NewFixtureWithRoles(auth.RoleDoctor, auth.RolePatient)
}

// NewFixtureWithRoles builds a service whose role store holds only names.
func NewFixtureWithRoles(names ...string) *Fixture {
	f := &Fixture{
		Users:   NewUsers(),
		Roles:   NewRoles(names...),
		Doctors: NewDoctors(),
		Revoked: auth.NewMemoryRevocationStore(),
		Tokens:  auth.NewTokenIssuer(testKey, time.Hour),
	}
	f.Tx = NewTxRunner(f.Users, f.Roles, f.Doctors)
	access := identity.NewAccessRules(f.Users, f.Roles, f.Doctors)
	f.Service = identity.NewService(f.Users, access, f.Tokens, f.Revoked, f.Tx)
	return f
}

func (f *Fixture) Close() {
	f.Revoked.Close()
}

// RegisterDoctor registers a doctor and returns its session.
func (f *Fixture) RegisterDoctor(ctx context.Context, username string) (*identity.Session, error) {
	if _, err := f.Service.RegisterDoctor(ctx, identity.DoctorRegistration{
		Username: username,
		Password: username + "-password",
		Name:     "Dr. " + username,
	}); err != nil {
		return nil, err
	}
	sess, _, err := f.Service.LogIn(ctx, username, username+"-password")
	return sess, err
}
