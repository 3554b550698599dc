package records

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/clinicrecords/api/internal/platform/apperr"
	"github.com/clinicrecords/api/internal/platform/query"
)

// SplitList splits a comma-separated form value, trimming each entry and
// dropping empty ones. The result is never nil.
func SplitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseAge reads the leading integer of s, so "42" and "42 years" are both
// 42. Empty, non-numeric and negative input yields nil (age absent).
func ParseAge(s string) *int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return nil
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n < 0 || n > math.MaxInt32 {
		return nil
	}
	return &n
}

// ParseVital converts a vital sign reading. Anything that is not a finite
// number becomes 0.
func ParseVital(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ParseDate accepts YYYY-MM-DD (a calendar day in loc) or RFC 3339. Empty
// input returns nil.
func ParseDate(op, field, s string, loc *time.Location) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := query.ParseDay(s, loc); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, apperr.Validationf(op, "%s must be YYYY-MM-DD or RFC 3339, got %q", field, s)
	}
	return &t, nil
}

// ParseBloodType accepts the eight groups, with ASCII "-" as an alias of
// the minus sign. Empty input means unknown.
func ParseBloodType(op, s string) (BloodType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	s = strings.Replace(s, "-", "−", 1)
	for _, bt := range BloodTypes {
		if string(bt) == s {
			return bt, nil
		}
	}
	return "", apperr.Validationf(op, "blood_type %q is not one of A+, A−, B+, B−, AB+, AB−, O+, O−", s)
}

// MergeEmergencyContact overwrites only the sub-fields that are set in in.
func MergeEmergencyContact(cur EmergencyContact, in EmergencyContactInput) EmergencyContact {
	if v := strings.TrimSpace(in.Name); v != "" {
		cur.Name = v
	}
	if v := strings.TrimSpace(in.Phone); v != "" {
		cur.Phone = v
	}
	if v := strings.TrimSpace(in.Relation); v != "" {
		cur.Relation = v
	}
	return cur
}

func (in PatientInput) validate(op string) error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return apperr.Validationf(op, "name is required")
	case strings.TrimSpace(in.Phone.String()) == "":
		return apperr.Validationf(op, "phone is required")
	}
	return nil
}

// applyTo validates in and writes the coerced fields into p. p is left
// untouched when validation fails.
func (in PatientInput) applyTo(p *Patient, op string, loc *time.Location) error {
	if err := in.validate(op); err != nil {
		return err
	}
	dob, err := ParseDate(op, "date_of_birth", in.DateOfBirth, loc)
	if err != nil {
		return err
	}
	bt, err := ParseBloodType(op, in.BloodType)
	if err != nil {
		return err
	}

	p.Name = strings.TrimSpace(in.Name)
	p.Age = ParseAge(in.Age.String())
	p.Phone = strings.TrimSpace(in.Phone.String())
	p.Email = strings.TrimSpace(in.Email)
	p.Location = strings.TrimSpace(in.Location)
	p.Gender = strings.TrimSpace(in.Gender)
	p.DateOfBirth = dob
	p.MedicalHistory = SplitList(in.MedicalHistory)
	p.Allergies = SplitList(in.Allergies)
	p.BloodType = bt
	p.EmergencyContact = MergeEmergencyContact(p.EmergencyContact, in.EmergencyContact)
	p.NationalID = strings.TrimSpace(in.NationalID.String())
	p.InsuranceNumber = strings.TrimSpace(in.InsuranceNumber.String())
	return nil
}

// applyTo validates in and writes the coerced fields into v. An empty
// next_visit_date clears the stored one.
func (in VisitInput) applyTo(v *Visit, op string, loc *time.Location) error {
	if strings.TrimSpace(in.ReasonForVisit) == "" {
		return apperr.Validationf(op, "reason_for_visit is required")
	}
	visitDate, err := ParseDate(op, "visit_date", in.VisitDate, loc)
	if err != nil {
		return err
	}
	if visitDate == nil {
		return apperr.Validationf(op, "visit_date is required")
	}
	next, err := ParseDate(op, "next_visit_date", in.NextVisitDate, loc)
	if err != nil {
		return err
	}

	v.VisitDate = *visitDate
	v.ReasonForVisit = strings.TrimSpace(in.ReasonForVisit)
	v.Diagnosis = strings.TrimSpace(in.Diagnosis)
	v.Prescription = SplitList(in.Prescription)
	v.Notes = in.Notes
	v.Vitals = Vitals{
		Systolic:         ParseVital(in.Vitals.Systolic.String()),
		Diastolic:        ParseVital(in.Vitals.Diastolic.String()),
		HeartRate:        ParseVital(in.Vitals.HeartRate.String()),
		Temperature:      ParseVital(in.Vitals.Temperature.String()),
		RespiratoryRate:  ParseVital(in.Vitals.RespiratoryRate.String()),
		OxygenSaturation: ParseVital(in.Vitals.OxygenSaturation.String()),
	}
	v.FollowUpRequired = in.FollowUpRequired
	v.NextVisitDate = next
	v.Attachments = SplitList(in.Attachments)
	return nil
}
