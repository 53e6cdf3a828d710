// Package filter implements the gateway's backend-agnostic filter model:
// a typed representation of the where/include/limit/skip/order/distinct
// request shape, decoded and validated once at the HTTP boundary and then
// rendered by whichever query builder the configured backend provides.
package filter

// Op is one of the comparison operators a where-clause leaf may use.
type Op string

const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpLike   Op = "like"
	OpNLike  Op = "nlike"
	OpILike  Op = "ilike"
	OpNILike Op = "nilike"
	OpIn     Op = "in"
	OpNin    Op = "nin"
	OpBetween Op = "between"
	OpRegexp Op = "regexp"
	OpText   Op = "text"
)

// validOps is the fixed operator vocabulary; the parser rejects anything
// outside it.
var validOps = map[Op]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpLike: true, OpNLike: true, OpILike: true, OpNILike: true,
	OpIn: true, OpNin: true, OpBetween: true, OpRegexp: true, OpText: true,
}

// Expr is a node of the where-clause tree: either a compound And/Or over
// child expressions, or a Cmp leaf. The parser is the only boundary that
// constructs these variants; every later consumer is total over the set.
type Expr interface {
	ExprType() string
}

// And is a conjunction of child expressions. Never empty after parsing.
type And struct {
	Children []Expr
}

// Or is a disjunction of child expressions. Never empty after parsing.
type Or struct {
	Children []Expr
}

// Cmp compares Field (a dotted path, possibly crossing relations) against
// Value using Op. Value's concrete type depends on Op: []any for
// in/nin/between, string for like-family/regexp/text, otherwise any scalar.
type Cmp struct {
	Field string
	Op    Op
	Value any
}

func (*And) ExprType() string { return "and" }
func (*Or) ExprType() string  { return "or" }
func (*Cmp) ExprType() string { return "cmp" }

// Direction is the sort direction of an OrderTerm.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// OrderTerm is one (field, direction) pair of an order-by list.
type OrderTerm struct {
	Field     string
	Direction Direction
}

// Include is one relation expansion of an include list, optionally narrowed
// by its own scoped filter.
type Include struct {
	Relation string
	Scope    *Filter // only Where and Include are meaningful on a scope
}

// Filter is the composite value decoded from a request's filter parameter.
type Filter struct {
	Where    Expr
	Include  []Include
	Limit    *int
	Skip     *int
	Order    []OrderTerm
	Distinct []string
}

// IsZero reports whether f carries no constraints at all.
func (f *Filter) IsZero() bool {
	if f == nil {
		return true
	}
	return f.Where == nil && len(f.Include) == 0 && f.Limit == nil &&
		f.Skip == nil && len(f.Order) == 0 && len(f.Distinct) == 0
}
