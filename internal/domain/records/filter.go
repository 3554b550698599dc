package records

import (
	"time"

	"github.com/clinicrecords/api/internal/platform/query"
)

// PatientFilter narrows a doctor's roster. Zero fields impose no
// restriction.
type PatientFilter struct {
	// Name is matched as a case-insensitive substring.
	Name string
	// Day restricts created_at to that calendar day in Location.
	Day      time.Time
	Location *time.Location
}

func (f PatientFilter) apply(q *query.Builder) {
	if f.Name != "" {
		q.Contains("p.name", f.Name)
	}
	if !f.Day.IsZero() {
		start, end := query.DayRange(f.Day, f.Location)
		q.Between("p.created_at", start, end)
	}
}

// Match is the in-memory equivalent of the SQL filter.
func (f PatientFilter) Match(p *Patient) bool {
	if f.Name != "" && !query.ContainsFold(p.Name, f.Name) {
		return false
	}
	if !f.Day.IsZero() {
		start, end := query.DayRange(f.Day, f.Location)
		if !query.InRange(p.CreatedAt, start, end) {
			return false
		}
	}
	return true
}

// VisitFilter narrows visits of the patients in scope.
type VisitFilter struct {
	// Reason is a case-insensitive regular expression on reason_for_visit;
	// an invalid expression is matched literally.
	Reason string
	// Day restricts visit_date to that calendar day in Location.
	Day      time.Time
	Location *time.Location

	// literalReason matches Reason as a plain substring. Set after the
	// database rejected Reason as a regular expression.
	literalReason bool
}

// literal returns f with Reason matched as a plain substring.
func (f VisitFilter) literal() VisitFilter {
	f.literalReason = true
	return f
}

func (f VisitFilter) apply(q *query.Builder) {
	switch {
	case f.Reason == "":
	case f.literalReason:
		q.Contains("v.reason_for_visit", f.Reason)
	default:
		q.MatchesRegex("v.reason_for_visit", f.Reason)
	}
	if !f.Day.IsZero() {
		start, end := query.DayRange(f.Day, f.Location)
		q.Between("v.visit_date", start, end)
	}
}

func (f VisitFilter) Match(v *Visit) bool {
	if f.Reason != "" {
		matches := query.TextMatcher(f.Reason)
		if f.literalReason {
			matches = func(s string) bool { return query.ContainsFold(s, f.Reason) }
		}
		if !matches(v.ReasonForVisit) {
			return false
		}
	}
	if !f.Day.IsZero() {
		start, end := query.DayRange(f.Day, f.Location)
		if !query.InRange(v.VisitDate, start, end) {
			return false
		}
	}
	return true
}
