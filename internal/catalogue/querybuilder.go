package catalogue

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/icatproject/icat-gateway/internal/filter"
	"github.com/icatproject/icat-gateway/internal/gwerrors"
)

// QueryBuilder renders a backend-agnostic Filter into a query the
// configured backend can execute. The catalogue Builder and the relational
// backend's Builder both implement it, so C1/C2 never know which backend
// is in play.
type QueryBuilder interface {
	Build(root string, f *filter.Filter) (query string, includes []string, err error)
}

// Builder renders Filters into the catalogue's JPQL-like query language.
type Builder struct {
	registry *Registry
}

// NewBuilder constructs a Builder against the given entity descriptor
// registry.
func NewBuilder(registry *Registry) *Builder {
	return &Builder{registry: registry}
}

type buildContext struct {
	registry        *Registry
	root            EntityDescriptor
	aliasByPath     map[string]string
	entityByPath    map[string]string
	joins           []string
	nextAlias       int
	includeAliases  []string
	includeAliasSet map[string]bool
	scopeWheres     []string
}

func newBuildContext(registry *Registry, root EntityDescriptor) *buildContext {
	return &buildContext{
		registry:        registry,
		root:            root,
		aliasByPath:     map[string]string{},
		entityByPath:    map[string]string{},
		includeAliasSet: map[string]bool{},
		nextAlias:       1,
	}
}

func (c *buildContext) newAlias() string {
	a := fmt.Sprintf("o%d", c.nextAlias)
	c.nextAlias++
	return a
}

// resolveJoinPath walks a dotted relation path from the root, creating (or
// reusing) one join per distinct path prefix, and returns the alias at the
// end of the path along with the entity reached.
func (c *buildContext) resolveJoinPath(segments []string) (alias, entityName string, err error) {
	alias, entityName = "o", c.root.Name
	var cumulative []string
	for _, seg := range segments {
		cumulative = append(cumulative, seg)
		key := strings.Join(cumulative, ".")
		if a, ok := c.aliasByPath[key]; ok {
			alias = a
			entityName = c.entityByPath[key]
			continue
		}
		target, _, ok := c.registry.RelationTarget(entityName, seg)
		if !ok {
			return "", "", gwerrors.NewBadFilter("", fmt.Sprintf("unknown relation segment %q on %s", seg, entityName))
		}
		newAlias := c.newAlias()
		c.joins = append(c.joins, fmt.Sprintf("JOIN %s.%s %s", alias, seg, newAlias))
		c.aliasByPath[key] = newAlias
		c.entityByPath[key] = target.Name
		alias, entityName = newAlias, target.Name
	}
	return alias, entityName, nil
}

// resolveFieldPath resolves a dotted field path (relations then a trailing
// scalar attribute) against the entity descriptor, returning the alias and
// attribute name to render as "alias.attribute".
func (c *buildContext) resolveFieldPath(path string) (alias, attr string, err error) {
	segments := strings.Split(path, ".")
	attr = segments[len(segments)-1]
	relSegments := segments[:len(segments)-1]

	alias, entityName, err := c.resolveJoinPath(relSegments)
	if err != nil {
		return "", "", err
	}
	desc, ok := c.registry.Lookup(entityName)
	if !ok || !desc.HasAttribute(attr) {
		return "", "", gwerrors.NewBadFilter("", fmt.Sprintf("unknown field %q on %s", attr, entityName))
	}
	return alias, attr, nil
}

// resolveEntityPath resolves a (possibly empty) dotted relation path to the
// entity it reaches, used by the `text` operator which searches across an
// entity's declared text-searchable fields rather than one scalar.
func (c *buildContext) resolveEntityPath(path string) (alias string, desc EntityDescriptor, err error) {
	var segments []string
	if path != "" {
		segments = strings.Split(path, ".")
	}
	alias, entityName, err := c.resolveJoinPath(segments)
	if err != nil {
		return "", EntityDescriptor{}, err
	}
	desc, ok := c.registry.Lookup(entityName)
	if !ok {
		return "", EntityDescriptor{}, gwerrors.NewBadFilter("", fmt.Sprintf("unknown entity %q", entityName))
	}
	return alias, desc, nil
}

func (c *buildContext) recordInclude(alias string) {
	if c.includeAliasSet[alias] {
		return
	}
	c.includeAliasSet[alias] = true
	c.includeAliases = append(c.includeAliases, alias)
}

// Build renders f into a catalogue query string rooted at root. It returns
// the query and the list of include relation names, for callers that need
// to know which relations were eagerly expanded (e.g. the projection
// engine's reshape step).
func (b *Builder) Build(root string, f *filter.Filter) (string, []string, error) {
	rootDesc, ok := b.registry.Lookup(root)
	if !ok {
		return "", nil, gwerrors.NewBadFilter("", fmt.Sprintf("unknown entity %q", root))
	}
	ctx := newBuildContext(b.registry, rootDesc)
	if f == nil {
		f = &filter.Filter{}
	}

	var includeNames []string
	for _, inc := range f.Include {
		names, err := processInclude(ctx, nil, inc)
		if err != nil {
			return "", nil, err
		}
		includeNames = append(includeNames, names...)
	}

	whereParts := []string{}
	if f.Where != nil {
		rendered, err := renderExprPrefixed(ctx, nil, f.Where)
		if err != nil {
			return "", nil, err
		}
		if rendered != "" {
			whereParts = append(whereParts, rendered)
		}
	}
	whereParts = append(whereParts, ctx.scopeWheres...)

	projection := "o"
	if len(f.Distinct) > 0 {
		cols := make([]string, 0, len(f.Distinct))
		for _, field := range f.Distinct {
			alias, attr, err := ctx.resolveFieldPath(field)
			if err != nil {
				return "", nil, err
			}
			cols = append(cols, alias+"."+attr)
		}
		projection = "DISTINCT " + strings.Join(cols, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s o", projection, rootDesc.Name)
	for _, join := range ctx.joins {
		sb.WriteString(" ")
		sb.WriteString(join)
	}
	if len(whereParts) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(whereParts, " AND "))
	}
	if len(f.Order) > 0 {
		terms := make([]string, 0, len(f.Order))
		for _, term := range f.Order {
			alias, attr, err := ctx.resolveFieldPath(term.Field)
			if err != nil {
				return "", nil, err
			}
			dir := "ASC"
			if term.Direction == filter.Desc {
				dir = "DESC"
			}
			terms = append(terms, fmt.Sprintf("%s.%s %s", alias, attr, dir))
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(terms, ", "))
	}
	if f.Limit != nil || f.Skip != nil {
		skip := 0
		if f.Skip != nil {
			skip = *f.Skip
		}
		limitText := "MAX_INT"
		if f.Limit != nil {
			limitText = strconv.Itoa(*f.Limit)
		}
		fmt.Fprintf(&sb, " LIMIT %d, %s", skip, limitText)
	}
	if len(ctx.includeAliases) > 0 {
		sb.WriteString(" INCLUDE ")
		sb.WriteString(strings.Join(ctx.includeAliases, ", "))
	}

	return sb.String(), includeNames, nil
}

// processInclude resolves one include relation (optionally nested under a
// parent relation path), registers its join and INCLUDE alias, and folds
// its scoped where clause (if any) into the build context.
func processInclude(ctx *buildContext, basePath []string, inc filter.Include) ([]string, error) {
	fullPath := append(append([]string{}, basePath...), inc.Relation)
	alias, _, err := ctx.resolveJoinPath(fullPath)
	if err != nil {
		return nil, err
	}
	ctx.recordInclude(alias)
	names := []string{inc.Relation}

	if inc.Scope != nil {
		if inc.Scope.Where != nil {
			rendered, err := renderExprPrefixed(ctx, fullPath, inc.Scope.Where)
			if err != nil {
				return nil, err
			}
			if rendered != "" {
				ctx.scopeWheres = append(ctx.scopeWheres, rendered)
			}
		}
		for _, nested := range inc.Scope.Include {
			nestedNames, err := processInclude(ctx, fullPath, nested)
			if err != nil {
				return nil, err
			}
			names = append(names, nestedNames...)
		}
	}
	return names, nil
}

func qualify(prefix []string, field string) string {
	if len(prefix) == 0 {
		return field
	}
	if field == "" {
		return strings.Join(prefix, ".")
	}
	return strings.Join(prefix, ".") + "." + field
}

// renderExprPrefixed renders expr as a where-clause fragment, treating
// every field reference as relative to prefix (used for scoped includes,
// where field paths are local to the included relation).
func renderExprPrefixed(ctx *buildContext, prefix []string, expr filter.Expr) (string, error) {
	switch e := expr.(type) {
	case nil:
		return "", nil
	case *filter.And:
		parts := make([]string, 0, len(e.Children))
		for _, child := range e.Children {
			part, err := renderChildPrefixed(ctx, prefix, child)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return strings.Join(parts, " AND "), nil
	case *filter.Or:
		parts := make([]string, 0, len(e.Children))
		for _, child := range e.Children {
			part, err := renderChildPrefixed(ctx, prefix, child)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return strings.Join(parts, " OR "), nil
	case *filter.Cmp:
		return renderCmpPrefixed(ctx, prefix, e)
	default:
		return "", gwerrors.NewInternal(fmt.Sprintf("unhandled expression type %T", expr))
	}
}

func renderChildPrefixed(ctx *buildContext, prefix []string, expr filter.Expr) (string, error) {
	rendered, err := renderExprPrefixed(ctx, prefix, expr)
	if err != nil {
		return "", err
	}
	switch expr.(type) {
	case *filter.And, *filter.Or:
		return "(" + rendered + ")", nil
	default:
		return rendered, nil
	}
}

func renderCmpPrefixed(ctx *buildContext, prefix []string, cmp *filter.Cmp) (string, error) {
	if cmp.Op == filter.OpText {
		alias, desc, err := ctx.resolveEntityPath(qualify(prefix, cmp.Field))
		if err != nil {
			return "", err
		}
		if len(desc.TextSearchable) == 0 {
			return "", gwerrors.NewBadFilter("", fmt.Sprintf("%s has no text-searchable fields", desc.Name))
		}
		value, ok := cmp.Value.(string)
		if !ok {
			return "", gwerrors.NewBadFilter("", "text operator requires a string literal")
		}
		lit := quoteString("%" + value + "%")
		fields := make([]string, 0, len(desc.TextSearchable))
		for _, f := range desc.TextSearchable {
			fields = append(fields, fmt.Sprintf("%s.%s LIKE %s", alias, f, lit))
		}
		sort.Strings(fields)
		return "(" + strings.Join(fields, " OR ") + ")", nil
	}

	alias, attr, err := ctx.resolveFieldPath(qualify(prefix, cmp.Field))
	if err != nil {
		return "", err
	}
	col := alias + "." + attr

	switch cmp.Op {
	case filter.OpEq:
		lit, err := renderLiteral(cmp.Value)
		return col + " = " + lit, err
	case filter.OpNeq:
		lit, err := renderLiteral(cmp.Value)
		return col + " != " + lit, err
	case filter.OpGt:
		lit, err := renderLiteral(cmp.Value)
		return col + " > " + lit, err
	case filter.OpGte:
		lit, err := renderLiteral(cmp.Value)
		return col + " >= " + lit, err
	case filter.OpLt:
		lit, err := renderLiteral(cmp.Value)
		return col + " < " + lit, err
	case filter.OpLte:
		lit, err := renderLiteral(cmp.Value)
		return col + " <= " + lit, err
	case filter.OpIn, filter.OpNin:
		arr, ok := cmp.Value.([]any)
		if !ok {
			return "", gwerrors.NewBadFilter("", "requires an array literal")
		}
		lits := make([]string, 0, len(arr))
		for _, v := range arr {
			lit, err := renderLiteral(v)
			if err != nil {
				return "", err
			}
			lits = append(lits, lit)
		}
		kw := "IN"
		if cmp.Op == filter.OpNin {
			kw = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, kw, strings.Join(lits, ", ")), nil
	case filter.OpBetween:
		arr, ok := cmp.Value.([]any)
		if !ok || len(arr) != 2 {
			return "", gwerrors.NewBadFilter("", "requires exactly two elements")
		}
		lo, err := renderLiteral(arr[0])
		if err != nil {
			return "", err
		}
		hi, err := renderLiteral(arr[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, lo, hi), nil
	case filter.OpLike, filter.OpNLike:
		lit, err := renderLiteral(cmp.Value)
		if err != nil {
			return "", err
		}
		kw := "LIKE"
		if cmp.Op == filter.OpNLike {
			kw = "NOT LIKE"
		}
		return fmt.Sprintf("%s %s %s", col, kw, lit), nil
	case filter.OpILike, filter.OpNILike:
		s, ok := cmp.Value.(string)
		if !ok {
			return "", gwerrors.NewBadFilter("", "requires a string literal")
		}
		lit := quoteString(strings.ToLower(s))
		kw := "LIKE"
		if cmp.Op == filter.OpNILike {
			kw = "NOT LIKE"
		}
		return fmt.Sprintf("LOWER(%s) %s %s", col, kw, lit), nil
	case filter.OpRegexp:
		lit, err := renderLiteral(cmp.Value)
		if err != nil {
			return "", err
		}
		return col + " REGEXP " + lit, nil
	default:
		return "", gwerrors.NewBadFilter("", fmt.Sprintf("unsupported operator %q", cmp.Op))
	}
}

func renderLiteral(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return quoteString(val), nil
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), nil
		}
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case nil:
		return "NULL", nil
	default:
		return "", gwerrors.NewInternal(fmt.Sprintf("unsupported literal type %T", v))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
