// Package query builds parameterised PostgreSQL record queries: relation
// scoping, text and date-range filters, a fixed sort, and LIMIT/OFFSET
// paging with a matching count query.
package query

import (
	"fmt"
	"strings"
)

// Builder accumulates AND-composed WHERE fragments with positional ($n)
// arguments against one table, optionally joined to others.
type Builder struct {
	table   string
	cols    string
	joins   []string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// New creates a Builder selecting cols from table.
func New(table, cols string) *Builder {
	return &Builder{
		table: table,
		cols:  cols,
		idx:   1,
	}
}

// Join appends a JOIN clause, for example
// "JOIN patient p ON p.id = v.patient_id".
func (q *Builder) Join(clause string) *Builder {
	q.joins = append(q.joins, clause)
	return q
}

// Idx returns the next available parameter index.
func (q *Builder) Idx() int { return q.idx }

// Add appends a raw WHERE fragment (without leading "AND"). Placeholders in
// clause must start at Idx().
func (q *Builder) Add(clause string, args ...interface{}) *Builder {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
	return q
}

// Equals adds "column = $n".
func (q *Builder) Equals(column string, value interface{}) *Builder {
	return q.Add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

// Contains adds a case-insensitive substring match. LIKE wildcards in text
// are escaped, so the text is matched literally.
func (q *Builder) Contains(column, text string) *Builder {
	return q.Add(fmt.Sprintf("%s ILIKE $%d", column, q.idx), "%"+EscapeLike(text)+"%")
}

// MatchesRegex adds a case-insensitive PostgreSQL regex match. The pattern
// is validated by the server: a pattern it rejects fails the query with
// invalid_regular_expression (see db.IsInvalidRegex) and the caller retries
// with Contains.
func (q *Builder) MatchesRegex(column, pattern string) *Builder {
	return q.Add(fmt.Sprintf("%s ~* $%d", column, q.idx), pattern)
}

// Between adds an inclusive range "column >= $n AND column <= $n+1".
func (q *Builder) Between(column string, start, end interface{}) *Builder {
	return q.Add(fmt.Sprintf("%s >= $%d AND %s <= $%d", column, q.idx, column, q.idx+1), start, end)
}

// InSubquery adds "column IN (subquery)". The subquery takes exactly one
// parameter, written as %d in place of its index, e.g.
// "SELECT patient_id FROM doctor_patient WHERE doctor_id = $%d".
func (q *Builder) InSubquery(column, subquery string, arg interface{}) *Builder {
	return q.Add(fmt.Sprintf("%s IN (%s)", column, fmt.Sprintf(subquery, q.idx)), arg)
}

// AnyOf adds "column = ANY($n::uuid[])" for a materialised id list. An
// empty list matches nothing.
func (q *Builder) AnyOf(column string, ids []string) *Builder {
	if len(ids) == 0 {
		return q.Add("FALSE")
	}
	return q.Add(fmt.Sprintf("%s = ANY($%d::uuid[])", column, q.idx), ids)
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *Builder) OrderBy(orderBy string) *Builder {
	q.orderBy = orderBy
	return q
}

func (q *Builder) from() string {
	if len(q.joins) == 0 {
		return q.table
	}
	return q.table + " " + strings.Join(q.joins, " ")
}

// CountSQL returns the count query SQL.
func (q *Builder) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.from(), q.where)
}

// CountArgs returns the arguments for the count query.
func (q *Builder) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the select with ORDER BY and LIMIT/OFFSET placeholders.
func (q *Builder) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.from(), q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
	return sql
}

// DataArgs returns the filter arguments followed by limit and offset.
func (q *Builder) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}
