package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/db"
)

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, username, password_hash, role_label, must_reset_password, created_at, updated_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO app_user (id, username, password_hash, role_label, must_reset_password)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		u.ID, u.Username, u.PasswordHash, u.RoleLabel, u.MustResetPassword,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Wrap(apperr.ErrUsernameTaken.Kind, "identity.CreateUser", apperr.ErrUsernameTaken.Message, err)
	}
	if err != nil {
		return fmt.Errorf("insert app_user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM app_user WHERE id = $1`, id))
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM app_user WHERE username = $1`, username))
}

func (r *userRepoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string, mustReset bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE app_user SET password_hash = $2, must_reset_password = $3, updated_at = NOW()
		WHERE id = $1`, id, hash, mustReset)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "identity.UpdatePassword", "user not found")
	}
	return nil
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM app_user WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete app_user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "identity.DeleteUser", "user not found")
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.RoleLabel, &u.MustResetPassword,
		&u.CreatedAt, &u.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.New(apperr.NotFound, "", "user not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// -- Role Repository --

type roleRepoPG struct {
	pool *pgxpool.Pool
}

func NewRoleRepo(pool *pgxpool.Pool) RoleRepository {
	return &roleRepoPG{pool: pool}
}

func (r *roleRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *roleRepoPG) Ensure(ctx context.Context, name string) (*Role, error) {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO role (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`, uuid.New(), name)
	if err != nil {
		return nil, fmt.Errorf("insert role %s: %w", name, err)
	}
	return r.GetByName(ctx, name)
}

func (r *roleRepoPG) GetByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, created_at FROM role WHERE name = $1`, name).
		Scan(&role.ID, &role.Name, &role.CreatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.New(apperr.NotFound, "", "role not found")
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepoPG) AddMember(ctx context.Context, roleID, userID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO role_member (role_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, roleID, userID)
	if err != nil {
		return fmt.Errorf("insert role_member: %w", err)
	}
	return nil
}

func (r *roleRepoPG) NamesForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT r.name FROM role r
		JOIN role_member m ON m.role_id = r.id
		WHERE m.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// -- Doctor Repository --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const doctorCols = `id, user_id, name, specialty, phone, clinic_address, gender, created_at, updated_at`

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor (id, user_id, name, specialty, phone, clinic_address, gender)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.Name, d.Specialty, d.Phone, d.ClinicAddress, d.Gender,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE user_id = $1`, userID))
}

func (r *doctorRepoPG) PatientIDs(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id FROM doctor_patient WHERE doctor_id = $1 ORDER BY created_at`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *doctorRepoPG) OwnerOf(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	var owner uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT doctor_id FROM doctor_patient WHERE patient_id = $1
		ORDER BY created_at LIMIT 1`, patientID).Scan(&owner)
	if db.IsNoRows(err) {
		return uuid.Nil, nil
	}
	return owner, err
}

// AddPatient inserts the roster row. The unique index on patient_id rejects
// a second owner even when two adds race past OwnerOf.
func (r *doctorRepoPG) AddPatient(ctx context.Context, doctorID, patientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_patient (doctor_id, patient_id) VALUES ($1, $2)
		ON CONFLICT (doctor_id, patient_id) DO NOTHING`, doctorID, patientID)
	if db.IsUniqueViolation(err) {
		return apperr.Wrap(apperr.ErrOwnedByOther.Kind, "identity.AddPatient", apperr.ErrOwnedByOther.Message, err)
	}
	if err != nil {
		return fmt.Errorf("insert doctor_patient: %w", err)
	}
	return nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Specialty, &d.Phone, &d.ClinicAddress, &d.Gender,
		&d.CreatedAt, &d.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.New(apperr.NotFound, "", "doctor not found")
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
