package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/auth"
	"github.com/clinicrecords/api/internal/platform/db"
)

// LoginObserver is told the outcome of every login attempt.
type LoginObserver interface {
	RecordLogin(outcome string)
}

type Service struct {
	users    UserRepository
	access   *AccessRules
	tokens   *auth.TokenIssuer
	revoked  auth.RevocationStore
	tx       db.TxRunner
	observer LoginObserver
}

func NewService(users UserRepository, access *AccessRules, tokens *auth.TokenIssuer, revoked auth.RevocationStore, tx db.TxRunner) *Service {
	return &Service{users: users, access: access, tokens: tokens, revoked: revoked, tx: tx}
}

func (s *Service) ObserveLogins(o LoginObserver) {
	s.observer = o
}

func (s *Service) Access() *AccessRules {
	return s.access
}

func (s *Service) recordLogin(err error) {
	if s.observer == nil {
		return
	}
	switch {
	case err == nil:
		s.observer.RecordLogin("success")
	case errors.Is(err, apperr.ErrInvalidCredentials):
		s.observer.RecordLogin("invalid_credentials")
	case errors.Is(err, apperr.ErrRoleNotFound):
		s.observer.RecordLogin("no_role")
	default:
		s.observer.RecordLogin(string(apperr.KindOf(err)))
	}
}

// LogIn checks the credentials, resolves the session and issues a token.
// Unknown users and wrong passwords produce the same ErrInvalidCredentials.
func (s *Service) LogIn(ctx context.Context, username, password string) (*Session, string, error) {
	sess, token, err := s.logIn(ctx, username, password)
	s.recordLogin(err)
	return sess, token, err
}

func (s *Service) logIn(ctx context.Context, username, password string) (*Session, string, error) {
	const op = "identity.LogIn"
	if username == "" || password == "" {
		return nil, "", apperr.Validationf(op, "username and password are required")
	}

	u, err := s.users.GetByUsername(ctx, username)
	if apperr.IsNotFound(err) {
		return nil, "", invalidCredentials(op)
	}
	if err != nil {
		return nil, "", apperr.Persist(op, err)
	}

	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, "", apperr.Persist(op, err)
	}
	if !ok {
		return nil, "", invalidCredentials(op)
	}

	sess, err := s.access.ResolveSession(ctx, u.ID)
	if err != nil {
		return nil, "", err
	}

	token, claims, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Persistence, op, "could not issue session", err)
	}
	sess.ExpiresAt = claims.Expiry()
	return sess, token, nil
}

func invalidCredentials(op string) error {
	return apperr.Wrap(apperr.ErrInvalidCredentials.Kind, op, apperr.ErrInvalidCredentials.Message, nil)
}

func invalidSession(op string, err error) error {
	return apperr.Wrap(apperr.Auth, op, "invalid session", err)
}

// LogOut revokes token until it expires.
func (s *Service) LogOut(ctx context.Context, token string) error {
	const op = "identity.LogOut"
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return invalidSession(op, err)
	}
	if err := s.revoked.Revoke(ctx, claims.ID, claims.Expiry()); err != nil {
		return apperr.Persist(op, err)
	}
	return nil
}

// CurrentUser resolves the session behind token. Revoked, expired and
// forged tokens all fail with an Auth error wrapping auth.ErrInvalidToken.
func (s *Service) CurrentUser(ctx context.Context, token string) (*Session, error) {
	const op = "identity.CurrentUser"
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, invalidSession(op, err)
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, apperr.Persist(op, err)
	}
	if revoked {
		return nil, invalidSession(op, auth.ErrInvalidToken)
	}

	sess, err := s.access.ResolveSession(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = claims.Expiry()
	return sess, nil
}

// Authenticate adapts CurrentUser to auth.Authenticator.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Principal, error) {
	sess, err := s.CurrentUser(ctx, token)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// RegisterDoctor creates the user, its doctor record and the Doctor role
// membership in one transaction.
func (s *Service) RegisterDoctor(ctx context.Context, reg DoctorRegistration) (*Doctor, error) {
	const op = "identity.RegisterDoctor"
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	hash, err := hashPassword(op, reg.Password)
	if err != nil {
		return nil, err
	}

	var doctor *Doctor
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		u := &User{Username: reg.Username, PasswordHash: hash, RoleLabel: auth.RoleDoctor}
		if err := s.users.Create(ctx, u); err != nil {
			return apperr.Persist(op, err)
		}
		d := &Doctor{
			UserID:        u.ID,
			Name:          reg.Name,
			Specialty:     reg.Specialty,
			Phone:         reg.Phone,
			ClinicAddress: reg.ClinicAddress,
			Gender:        reg.Gender,
		}
		if err := s.access.doctors.Create(ctx, d); err != nil {
			return apperr.Persist(op, err)
		}
		if err := s.access.GrantRole(ctx, u.ID, auth.RoleDoctor); err != nil {
			return err
		}
		doctor = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doctor, nil
}

// ChangePassword replaces the caller's password and clears the forced
// reset flag set on companion accounts.
func (s *Service) ChangePassword(ctx context.Context, sess *Session, change PasswordChange) error {
	const op = "identity.ChangePassword"
	if sess == nil || sess.User == nil {
		return invalidSession(op, nil)
	}
	if change.OldPassword == "" || change.NewPassword == "" {
		return apperr.Validationf(op, "old_password and new_password are required")
	}

	u, err := s.users.GetByID(ctx, sess.User.ID)
	if err != nil {
		return apperr.Persist(op, err)
	}
	ok, err := auth.CheckPassword(u.PasswordHash, change.OldPassword)
	if err != nil {
		return apperr.Persist(op, err)
	}
	if !ok {
		return invalidCredentials(op)
	}

	hash, err := hashPassword(op, change.NewPassword)
	if err != nil {
		return err
	}
	return apperr.Persist(op, s.users.UpdatePassword(ctx, u.ID, hash, false))
}

// CreateCompanionUser provisions the login account of a new patient with a
// generated credential that must be changed at first login, and grants it
// the Patient role. It joins the caller's transaction when there is one.
func (s *Service) CreateCompanionUser(ctx context.Context, username string) (*User, string, error) {
	const op = "identity.CreateCompanionUser"
	credential, err := auth.GenerateCredential()
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Persistence, op, "could not generate credential", err)
	}
	hash, err := hashPassword(op, credential)
	if err != nil {
		return nil, "", err
	}

	u := &User{
		PasswordHash:      hash,
		RoleLabel:         auth.RolePatient,
		MustResetPassword: true,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		name, err := s.availableUsername(ctx, username)
		if err != nil {
			return apperr.Persist(op, err)
		}
		u.Username = name
		if err := s.users.Create(ctx, u); err != nil {
			return apperr.Persist(op, err)
		}
		return s.access.GrantPatientRole(ctx, u.ID)
	})
	if err != nil {
		return nil, "", err
	}
	return u, credential, nil
}

// maxUsernameSuffix bounds the search for a free companion username.
const maxUsernameSuffix = 100

// availableUsername returns base, or base followed by "-2", "-3", ... when
// base is taken. Patients commonly share names.
func (s *Service) availableUsername(ctx context.Context, base string) (string, error) {
	for i := 1; i <= maxUsernameSuffix; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		_, err := s.users.GetByUsername(ctx, candidate)
		if apperr.IsNotFound(err) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", apperr.Wrap(apperr.ErrUsernameTaken.Kind, "identity.availableUsername", apperr.ErrUsernameTaken.Message,
		fmt.Errorf("no free username for %q", base))
}

// DeleteCompanionUser removes the login account of a deleted patient. It
// joins the caller's transaction when there is one.
func (s *Service) DeleteCompanionUser(ctx context.Context, userID uuid.UUID) error {
	return apperr.Persist("identity.DeleteCompanionUser", s.users.Delete(ctx, userID))
}

// SeedRoles creates the Doctor and Patient roles.
func (s *Service) SeedRoles(ctx context.Context) ([]*Role, error) {
	return s.access.EnsureRoles(ctx, auth.RoleDoctor, auth.RolePatient)
}

func hashPassword(op, password string) (string, error) {
	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrPasswordTooLong) {
		return "", apperr.Validationf(op, "%s", err.Error())
	}
	if err != nil {
		return "", apperr.Wrap(apperr.Persistence, op, "could not hash password", err)
	}
	return hash, nil
}
