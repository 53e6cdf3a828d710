// Package relational implements the C8 backend: the same QueryBuilder
// interface as the catalogue backend (internal/catalogue), rendered
// against a conventional one-table-per-entity SQL schema instead of the
// catalogue's own query language.
package relational

import (
	"fmt"
	"strings"
)

// selectBuilder is a tiny, ORM-less SQL builder: readable fluent API,
// deterministic clause ordering, parameter placeholders ($1, $2, ...) with
// accumulated args, no reflection.
type selectBuilder struct {
	columns    []string
	table      string
	joins      []string
	wheres     []string
	orderBy    []string
	limit      *int
	offset     *int
	distinct   bool
	args       []any
}

func newSelect(columns ...string) *selectBuilder {
	return &selectBuilder{columns: dedupe(columns)}
}

func (b *selectBuilder) From(table string) *selectBuilder {
	b.table = table
	return b
}

func (b *selectBuilder) Join(joinExpr string) *selectBuilder {
	b.joins = append(b.joins, joinExpr)
	return b
}

// Where adds a WHERE predicate written with $ placeholders; values are
// appended to args in call order.
func (b *selectBuilder) Where(predicate string, values ...any) *selectBuilder {
	b.wheres = append(b.wheres, predicate)
	b.args = append(b.args, values...)
	return b
}

// WhereIn adds a WHERE col IN ($n, $n+1, ...) predicate. An empty values
// list renders an always-false predicate rather than invalid SQL.
func (b *selectBuilder) WhereIn(column string, values ...any) *selectBuilder {
	if len(values) == 0 {
		b.wheres = append(b.wheres, "1=0")
		return b
	}
	start := len(b.args) + 1
	ph := make([]string, len(values))
	for i := range values {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	b.wheres = append(b.wheres, fmt.Sprintf("%s IN (%s)", column, strings.Join(ph, ", ")))
	b.args = append(b.args, values...)
	return b
}

func (b *selectBuilder) OrderBy(expr string) *selectBuilder {
	b.orderBy = append(b.orderBy, expr)
	return b
}

func (b *selectBuilder) Limit(n int) *selectBuilder {
	b.limit = &n
	return b
}

func (b *selectBuilder) Offset(n int) *selectBuilder {
	b.offset = &n
	return b
}

func (b *selectBuilder) Distinct() *selectBuilder {
	b.distinct = true
	return b
}

func (b *selectBuilder) Args() []any { return b.args }

// Build assembles the final SQL string with its placeholders.
func (b *selectBuilder) Build() (string, []any) {
	if b.table == "" {
		panic("relational: From(table) must be specified before Build()")
	}

	var sb strings.Builder
	sb.Grow(1024)

	sb.WriteString("SELECT ")
	if b.distinct {
		sb.WriteString("DISTINCT ")
	}
	if len(b.columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.columns, ", "))
	}

	sb.WriteString(" FROM ")
	sb.WriteString(b.table)

	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}

	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.wheres, " AND "))
	}

	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}

	if b.limit != nil {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", *b.limit))
	}
	if b.offset != nil {
		sb.WriteString(fmt.Sprintf(" OFFSET %d", *b.offset))
	}

	return sb.String(), append([]any(nil), b.args...)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
