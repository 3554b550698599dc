package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/auth"
)

// User maps to the app_user table.
type User struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Username          string    `db:"username" json:"username"`
	PasswordHash      string    `db:"password_hash" json:"-"`
	RoleLabel         string    `db:"role_label" json:"role_label"`
	MustResetPassword bool      `db:"must_reset_password" json:"must_reset_password"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Role maps to the role table. Membership lives in role_member.
type Role struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Doctor maps to the doctor table.
type Doctor struct {
	ID            uuid.UUID `db:"id" json:"id"`
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	Name          string    `db:"name" json:"name"`
	Specialty     string    `db:"specialty" json:"specialty,omitempty"`
	Phone         string    `db:"phone" json:"phone,omitempty"`
	ClinicAddress string    `db:"clinic_address" json:"clinic_address,omitempty"`
	Gender        string    `db:"gender" json:"gender,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Session is the authenticated caller. Doctor is set only when Role is
// "Doctor".
type Session struct {
	User      *User     `json:"user"`
	Role      string    `json:"role"`
	Doctor    *Doctor   `json:"doctor,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) PrincipalID() uuid.UUID { return s.User.ID }
func (s *Session) PrincipalRole() string  { return s.Role }

// PasswordResetRequired is true for companion accounts that still hold
// their generated credential.
func (s *Session) PasswordResetRequired() bool {
	return s.User != nil && s.User.MustResetPassword
}

// IsDoctor reports whether the session may use doctor-scoped queries.
func (s *Session) IsDoctor() bool {
	return s != nil && s.Role == auth.RoleDoctor && s.Doctor != nil
}

// DoctorRegistration is the sign-up payload that creates a User, its Doctor
// record and the Doctor role membership.
type DoctorRegistration struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Name          string `json:"name"`
	Specialty     string `json:"specialty"`
	Phone         string `json:"phone"`
	ClinicAddress string `json:"clinic_address"`
	Gender        string `json:"gender"`
}

func (r *DoctorRegistration) Validate() error {
	const op = "identity.RegisterDoctor"
	r.Username = strings.TrimSpace(r.Username)
	r.Name = strings.TrimSpace(r.Name)
	switch {
	case r.Username == "":
		return apperr.Validationf(op, "username is required")
	case r.Password == "":
		return apperr.Validationf(op, "password is required")
	case r.Name == "":
		return apperr.Validationf(op, "name is required")
	}
	return nil
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type PasswordChange struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	Token   string   `json:"token"`
	Session *Session `json:"session"`
}
