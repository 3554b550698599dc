package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string, mustReset bool) error
	// Delete removes the user and, through the schema, its role memberships.
	Delete(ctx context.Context, id uuid.UUID) error
}

type RoleRepository interface {
	// Ensure creates the role if it does not exist and returns it.
	Ensure(ctx context.Context, name string) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	AddMember(ctx context.Context, roleID, userID uuid.UUID) error
	// NamesForUser returns the names of every role containing userID.
	NamesForUser(ctx context.Context, userID uuid.UUID) ([]string, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)

	// Owned patients
	PatientIDs(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error)
	// OwnerOf returns the doctor owning patientID, or uuid.Nil.
	OwnerOf(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error)
	AddPatient(ctx context.Context, doctorID, patientID uuid.UUID) error
}
