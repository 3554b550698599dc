package records

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListForDoctor returns one page of the doctor's roster, newest first,
	// and the total number of matches.
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, f PatientFilter, limit, offset int) ([]*Patient, int, error)
}

type VisitRepository interface {
	Create(ctx context.Context, v *Visit) error
	// GetByID loads the visit with its patient's name.
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	Update(ctx context.Context, v *Visit) error
	CountForPatient(ctx context.Context, patientID uuid.UUID) (int, error)
	DeleteForPatient(ctx context.Context, patientID uuid.UUID) (int, error)
	// List returns one page of visits belonging to any of patientIDs, most
	// recent visit_date first. An empty patientIDs matches nothing.
	List(ctx context.Context, patientIDs []uuid.UUID, f VisitFilter, limit, offset int) ([]*Visit, int, error)
}
