package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BloodType is one of the eight ABO/Rh groups, or empty when unknown.
type BloodType string

const (
	BloodAPos  BloodType = "A+"
	BloodANeg  BloodType = "A−"
	BloodBPos  BloodType = "B+"
	BloodBNeg  BloodType = "B−"
	BloodABPos BloodType = "AB+"
	BloodABNeg BloodType = "AB−"
	BloodOPos  BloodType = "O+"
	BloodONeg  BloodType = "O−"
)

// BloodTypes lists the accepted values in display order.
var BloodTypes = []BloodType{
	BloodAPos, BloodANeg, BloodBPos, BloodBNeg,
	BloodABPos, BloodABNeg, BloodOPos, BloodONeg,
}

// EmergencyContact is stored flattened on the patient row.
type EmergencyContact struct {
	Name     string `db:"emergency_contact_name" json:"name"`
	Phone    string `db:"emergency_contact_phone" json:"phone"`
	Relation string `db:"emergency_contact_relation" json:"relation"`
}

// Patient maps to the patient table. UserID is the companion login account.
type Patient struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	UserID           *uuid.UUID       `db:"user_id" json:"user_id,omitempty"`
	Name             string           `db:"name" json:"name"`
	Age              *int             `db:"age" json:"age,omitempty"`
	Phone            string           `db:"phone" json:"phone"`
	Email            string           `db:"email" json:"email,omitempty"`
	Location         string           `db:"location" json:"location,omitempty"`
	Gender           string           `db:"gender" json:"gender,omitempty"`
	DateOfBirth      *time.Time       `db:"date_of_birth" json:"date_of_birth,omitempty"`
	MedicalHistory   []string         `db:"medical_history" json:"medical_history"`
	Allergies        []string         `db:"allergies" json:"allergies"`
	BloodType        BloodType        `db:"blood_type" json:"blood_type,omitempty"`
	EmergencyContact EmergencyContact `json:"emergency_contact"`
	NationalID       string           `db:"national_id" json:"national_id,omitempty"`
	InsuranceNumber  string           `db:"insurance_number" json:"insurance_number,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Vitals are stored as columns of the visit row. Unparsable input is 0.
type Vitals struct {
	Systolic         float64 `db:"systolic" json:"systolic"`
	Diastolic        float64 `db:"diastolic" json:"diastolic"`
	HeartRate        float64 `db:"heart_rate" json:"heart_rate"`
	Temperature      float64 `db:"temperature" json:"temperature"`
	RespiratoryRate  float64 `db:"respiratory_rate" json:"respiratory_rate"`
	OxygenSaturation float64 `db:"oxygen_saturation" json:"oxygen_saturation"`
}

// Visit maps to the visit table. PatientName is loaded from the joined
// patient row and is never written.
type Visit struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName      string     `db:"patient_name" json:"patient_name"`
	VisitDate        time.Time  `db:"visit_date" json:"visit_date"`
	ReasonForVisit   string     `db:"reason_for_visit" json:"reason_for_visit"`
	Diagnosis        string     `db:"diagnosis" json:"diagnosis,omitempty"`
	Prescription     []string   `db:"prescription" json:"prescription"`
	Notes            string     `db:"notes" json:"notes,omitempty"`
	Vitals           Vitals     `json:"vitals"`
	FollowUpRequired bool       `db:"follow_up_required" json:"follow_up_required"`
	NextVisitDate    *time.Time `db:"next_visit_date" json:"next_visit_date,omitempty"`
	Attachments      []string   `db:"attachments" json:"attachments"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// FormValue is a form field as typed by the user. It decodes from a JSON
// string, number or boolean so clients may send `"age": 42` or `"age": "42"`.
type FormValue string

func (f *FormValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FormValue(s)
		return nil
	case len(data) > 0 && (data[0] == '-' || (data[0] >= '0' && data[0] <= '9')),
		bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*f = FormValue(data)
		return nil
	default:
		return fmt.Errorf("form value must be a string or number, got %s", data)
	}
}

func (f FormValue) String() string { return string(f) }

// EmergencyContactInput carries the editable sub-fields; empty ones leave
// the stored value unchanged on update.
type EmergencyContactInput struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation"`
}

// PatientInput is the add/edit patient form. List fields are
// comma-separated.
type PatientInput struct {
	Name             string                `json:"name"`
	Age              FormValue             `json:"age"`
	Phone            FormValue             `json:"phone"`
	Email            string                `json:"email"`
	Location         string                `json:"location"`
	Gender           string                `json:"gender"`
	DateOfBirth      string                `json:"date_of_birth"`
	MedicalHistory   string                `json:"medical_history"`
	Allergies        string                `json:"allergies"`
	BloodType        string                `json:"blood_type"`
	EmergencyContact EmergencyContactInput `json:"emergency_contact"`
	NationalID       FormValue             `json:"national_id"`
	InsuranceNumber  FormValue             `json:"insurance_number"`
}

type VitalsInput struct {
	Systolic         FormValue `json:"systolic"`
	Diastolic        FormValue `json:"diastolic"`
	HeartRate        FormValue `json:"heart_rate"`
	Temperature      FormValue `json:"temperature"`
	RespiratoryRate  FormValue `json:"respiratory_rate"`
	OxygenSaturation FormValue `json:"oxygen_saturation"`
}

// VisitInput is the add/edit visit form.
type VisitInput struct {
	VisitDate        string      `json:"visit_date"`
	ReasonForVisit   string      `json:"reason_for_visit"`
	Diagnosis        string      `json:"diagnosis"`
	Prescription     string      `json:"prescription"`
	Notes            string      `json:"notes"`
	Vitals           VitalsInput `json:"vitals"`
	FollowUpRequired bool        `json:"follow_up_required"`
	NextVisitDate    string      `json:"next_visit_date"`
	Attachments      string      `json:"attachments"`
}

// PatientWithCredential is returned once, when a patient is created. The
// initial password is not stored in plain text anywhere.
type PatientWithCredential struct {
	Patient         *Patient `json:"patient"`
	Username        string   `json:"username"`
	InitialPassword string   `json:"initial_password"`
}
