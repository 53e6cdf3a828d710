package projection

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/icatproject/icat-gateway/internal/filter"
	"github.com/icatproject/icat-gateway/internal/gwerrors"
)

// RewriteFilter translates a Search-schema Filter rooted at searchEntity
// into a catalogue-schema Filter, following the mapping's field and
// relation rules. Literal values pass through unchanged except for
// date-shaped strings, which are normalised to the catalogue's ISO-8601
// form.
func RewriteFilter(mapping *Mapping, searchEntity string, f *filter.Filter) (*filter.Filter, error) {
	if f == nil {
		return nil, nil
	}
	out := &filter.Filter{Limit: f.Limit, Skip: f.Skip}

	if f.Where != nil {
		where, err := rewriteExpr(mapping, searchEntity, f.Where)
		if err != nil {
			return nil, err
		}
		out.Where = where
	}

	for _, inc := range f.Include {
		rewritten, err := rewriteInclude(mapping, searchEntity, inc)
		if err != nil {
			return nil, err
		}
		out.Include = append(out.Include, rewritten)
	}

	for _, term := range f.Order {
		path, err := rewriteFieldPath(mapping, searchEntity, term.Field, false)
		if err != nil {
			return nil, err
		}
		out.Order = append(out.Order, filter.OrderTerm{Field: path, Direction: term.Direction})
	}

	for _, field := range f.Distinct {
		path, err := rewriteFieldPath(mapping, searchEntity, field, false)
		if err != nil {
			return nil, err
		}
		out.Distinct = append(out.Distinct, path)
	}

	return out, nil
}

// rewriteExpr rewrites one where-clause node. And/Or nodes are folded as
// they're rewritten: under And a child that rewrites to "trivially true" (a
// constant-mapped field whose comparison always holds) is dropped and a
// "trivially false" child makes the whole node false; under Or a "trivially
// false" child is dropped and a "trivially true" child makes the whole node
// true, since neither a catalogue join column nor a bind parameter exists to
// carry a bare boolean literal through to the rendered query.
func rewriteExpr(mapping *Mapping, searchEntity string, expr filter.Expr) (filter.Expr, error) {
	switch e := expr.(type) {
	case nil:
		return nil, nil
	case *filter.And:
		return foldAnd(mapping, searchEntity, e.Children)
	case *filter.Or:
		return foldOr(mapping, searchEntity, e.Children)
	case *filter.Cmp:
		return rewriteCmp(mapping, searchEntity, e)
	default:
		return nil, gwerrors.NewInternal(fmt.Sprintf("unhandled expression type %T", expr))
	}
}

func foldAnd(mapping *Mapping, searchEntity string, children []filter.Expr) (filter.Expr, error) {
	out := make([]filter.Expr, 0, len(children))
	for _, child := range children {
		rewritten, err := rewriteExpr(mapping, searchEntity, child)
		if err != nil {
			return nil, err
		}
		if rewritten == nil {
			continue // trivially true: identity for AND, drop it
		}
		if isAlwaysFalse(rewritten) {
			return rewritten, nil // one false branch makes the whole conjunction false
		}
		out = append(out, rewritten)
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		return &filter.And{Children: out}, nil
	}
}

func foldOr(mapping *Mapping, searchEntity string, children []filter.Expr) (filter.Expr, error) {
	out := make([]filter.Expr, 0, len(children))
	for _, child := range children {
		rewritten, err := rewriteExpr(mapping, searchEntity, child)
		if err != nil {
			return nil, err
		}
		if rewritten == nil {
			return nil, nil // one true branch makes the whole disjunction true
		}
		if isAlwaysFalse(rewritten) {
			continue // false: identity for OR, drop it
		}
		out = append(out, rewritten)
	}
	switch len(out) {
	case 0:
		return alwaysFalse(), nil
	case 1:
		return out[0], nil
	default:
		return &filter.Or{Children: out}, nil
	}
}

// rewriteCmp rewrites a single comparison leaf. A field mapped to a
// catalogue path rewrites to the equivalent catalogue-schema comparison; a
// field mapped to a constant (e.g. "isPublic": true) never reaches the
// catalogue at all, so the comparison is resolved at rewrite time instead,
// folding to either "trivially true" (dropped by the caller) or
// "trivially false" (alwaysFalse()).
func rewriteCmp(mapping *Mapping, searchEntity string, e *filter.Cmp) (filter.Expr, error) {
	entity, relPath, rule, textRoot, err := resolveFieldRule(mapping, searchEntity, e.Field, e.Op == filter.OpText)
	if err != nil {
		return nil, err
	}
	if textRoot {
		return &filter.Cmp{Field: strings.Join(relPath, "."), Op: e.Op, Value: normaliseValue(e.Op, e.Value)}, nil
	}

	if rule.Kind == fieldConst {
		matches, err := compareConst(e.Op, rule.Const, e.Value)
		if err != nil {
			return nil, err
		}
		if matches {
			return nil, nil
		}
		return alwaysFalse(), nil
	}

	if rule.Kind != fieldPath {
		return nil, gwerrors.NewBadFilter("", fmt.Sprintf("search field %q on %s is not filterable", lastSegment(e.Field), entity))
	}
	return &filter.Cmp{
		Field: strings.Join(append(append([]string{}, relPath...), rule.Path...), "."),
		Op:    e.Op,
		Value: normaliseValue(e.Op, e.Value),
	}, nil
}

// compareConst resolves a comparison against a constant-mapped field at
// rewrite time, since the constant never appears in any catalogue row for
// the catalogue query builder to compare against. Only eq/neq are
// meaningful against a fixed value; any other operator is rejected.
func compareConst(op filter.Op, constVal, queryVal any) (bool, error) {
	switch op {
	case filter.OpEq:
		return constEqual(constVal, queryVal), nil
	case filter.OpNeq:
		return !constEqual(constVal, queryVal), nil
	default:
		return false, gwerrors.NewBadFilter("", fmt.Sprintf("operator %q cannot be applied to a constant-mapped field", op))
	}
}

func constEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// alwaysFalse is a comparison that can never match any row: every
// catalogue entity declares a positive-valued "id" attribute, so comparing
// it against a negative literal is a portable way to fold a
// constant-mapped field's contradiction into a WHERE clause without a new
// Expr kind for a bare boolean literal.
func alwaysFalse() filter.Expr {
	return &filter.Cmp{Field: "id", Op: filter.OpEq, Value: float64(-1)}
}

func isAlwaysFalse(e filter.Expr) bool {
	c, ok := e.(*filter.Cmp)
	if !ok || c.Field != "id" || c.Op != filter.OpEq {
		return false
	}
	v, ok := c.Value.(float64)
	return ok && v == -1
}

// resolveFieldRule walks path's relation segments (all but the last) and
// returns the entity the final segment is declared on, the accumulated
// catalogue relation path up to that entity, and the final segment's field
// rule. When isText is true and the final segment is empty, it instead
// reports textRoot=true: the Search `text` operator applies directly to
// the entity reached by the relation segments, with no trailing field.
func resolveFieldRule(mapping *Mapping, searchEntity, path string, isText bool) (entity string, relPath []string, rule FieldRule, textRoot bool, err error) {
	segments := strings.Split(path, ".")
	entity = searchEntity

	for i, seg := range segments {
		isLast := i == len(segments)-1
		em, eerr := mapping.Entity(entity)
		if eerr != nil {
			return "", nil, FieldRule{}, false, eerr
		}
		if isLast {
			if seg == "" {
				if !isText {
					return "", nil, FieldRule{}, false, gwerrors.NewBadFilter("", "empty field segment is only valid for the text operator")
				}
				return entity, relPath, FieldRule{}, true, nil
			}
			fieldRule, ok := em.Fields[seg]
			if !ok {
				return "", nil, FieldRule{}, false, gwerrors.NewBadFilter("", fmt.Sprintf("unknown search field %q on %s", seg, entity))
			}
			return entity, relPath, fieldRule, false, nil
		}
		rel, ok := em.Relations[seg]
		if !ok {
			return "", nil, FieldRule{}, false, gwerrors.NewBadFilter("", fmt.Sprintf("unknown search relation %q on %s", seg, entity))
		}
		relPath = append(relPath, rel.CataloguePath...)
		entity = rel.TargetEntity
		if entity == "" {
			return "", nil, FieldRule{}, false, gwerrors.NewBadFilter("", fmt.Sprintf("relation %q has no further mapped fields", seg))
		}
	}
	return entity, relPath, FieldRule{}, false, nil
}

func lastSegment(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// rewriteFieldPath resolves a dotted Search-schema field path into the
// equivalent dotted catalogue path, for the contexts (order, distinct)
// where only a real catalogue column makes sense — a constant-mapped or
// "ALL" field can't be sorted or distinct-projected on.
func rewriteFieldPath(mapping *Mapping, searchEntity, path string, isText bool) (string, error) {
	entity, relPath, rule, textRoot, err := resolveFieldRule(mapping, searchEntity, path, isText)
	if err != nil {
		return "", err
	}
	if textRoot {
		return strings.Join(relPath, "."), nil
	}
	if rule.Kind != fieldPath {
		return "", gwerrors.NewBadFilter("", fmt.Sprintf("search field %q on %s is not filterable", lastSegment(path), entity))
	}
	return strings.Join(append(append([]string{}, relPath...), rule.Path...), "."), nil
}

func rewriteInclude(mapping *Mapping, searchEntity string, inc filter.Include) (filter.Include, error) {
	em, err := mapping.Entity(searchEntity)
	if err != nil {
		return filter.Include{}, err
	}
	rel, ok := em.Relations[inc.Relation]
	if !ok {
		return filter.Include{}, gwerrors.NewBadFilter("", fmt.Sprintf("unknown search relation %q on %s", inc.Relation, searchEntity))
	}
	if len(rel.CataloguePath) == 0 {
		return filter.Include{}, gwerrors.NewBadFilter("", fmt.Sprintf("relation %q has no catalogue path", inc.Relation))
	}

	var leafScope *filter.Filter
	if inc.Scope != nil && rel.TargetEntity != "" {
		leafScope, err = RewriteFilter(mapping, rel.TargetEntity, inc.Scope)
		if err != nil {
			return filter.Include{}, err
		}
	}

	return nestInclude(rel.CataloguePath, leafScope), nil
}

// nestInclude turns a multi-segment catalogue relation chain into the
// nested Include/Scope structure the catalogue query builder expects,
// attaching leafScope (if any) to the innermost relation.
func nestInclude(chain []string, leafScope *filter.Filter) filter.Include {
	last := len(chain) - 1
	inc := filter.Include{Relation: chain[last], Scope: leafScope}
	for i := last - 1; i >= 0; i-- {
		inc = filter.Include{Relation: chain[i], Scope: &filter.Filter{Include: []filter.Include{inc}}}
	}
	return inc
}

var plainDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// normaliseValue passes literals through unchanged except for bare
// `YYYY-MM-DD` date strings, which are expanded to the catalogue's
// ISO-8601 midnight form whatever the operator (op is not consulted).
func normaliseValue(op filter.Op, v any) any {
	s, ok := v.(string)
	if !ok || !plainDate.MatchString(s) {
		return v
	}
	return s + "T00:00:00Z"
}
