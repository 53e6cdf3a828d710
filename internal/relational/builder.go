package relational

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/icatproject/icat-gateway/internal/catalogue"
	"github.com/icatproject/icat-gateway/internal/filter"
	"github.com/icatproject/icat-gateway/internal/gwerrors"
)

// Builder implements the same QueryBuilder interface as
// catalogue.Builder (internal/catalogue/querybuilder.go), rendering SQL
// against a conventional one-table-per-entity schema: table names are the
// entity's lower-cased name, column names match its scalar attributes, and
// every to-one relation is a foreign key column named "<relation>_id" on
// the owning table. It shares the same compiled-in entity descriptor
// registry as the catalogue backend — the two backends describe the same
// domain, only the rendering target differs.
type Builder struct {
	registry *catalogue.Registry
}

// NewBuilder constructs a relational Builder against the shared entity
// descriptor registry.
func NewBuilder(registry *catalogue.Registry) *Builder {
	return &Builder{registry: registry}
}

type sqlContext struct {
	registry     *catalogue.Registry
	root         catalogue.EntityDescriptor
	aliasByPath  map[string]string
	entityByPath map[string]string
	joins        []string
	nextAlias    int
}

func newSQLContext(registry *catalogue.Registry, root catalogue.EntityDescriptor) *sqlContext {
	return &sqlContext{
		registry:     registry,
		root:         root,
		aliasByPath:  map[string]string{},
		entityByPath: map[string]string{},
		nextAlias:    1,
	}
}

func (c *sqlContext) newAlias() string {
	a := fmt.Sprintf("t%d", c.nextAlias)
	c.nextAlias++
	return a
}

func tableName(entityName string) string {
	return strings.ToLower(entityName)
}

// resolveJoinPath mirrors catalogue.buildContext.resolveJoinPath: one LEFT
// JOIN per distinct relation-path prefix, reusing joins across repeated
// references to the same path.
func (c *sqlContext) resolveJoinPath(segments []string) (alias, entityName string, err error) {
	alias, entityName = "t0", c.root.Name
	var cumulative []string
	for _, seg := range segments {
		cumulative = append(cumulative, seg)
		key := strings.Join(cumulative, ".")
		if a, ok := c.aliasByPath[key]; ok {
			alias = a
			entityName = c.entityByPath[key]
			continue
		}
		target, rel, ok := c.registry.RelationTarget(entityName, seg)
		if !ok {
			return "", "", gwerrors.NewBadFilter("", fmt.Sprintf("unknown relation segment %q on %s", seg, entityName))
		}
		newAlias := c.newAlias()
		var joinClause string
		if rel.ToMany {
			fk := tableName(entityName) + "_id"
			joinClause = fmt.Sprintf("LEFT JOIN %s %s ON %s.%s = %s.id", tableName(target.Name), newAlias, newAlias, fk, alias)
		} else {
			fkCol := seg + "_id"
			joinClause = fmt.Sprintf("LEFT JOIN %s %s ON %s.%s = %s.id", tableName(target.Name), newAlias, alias, fkCol, newAlias)
		}
		c.joins = append(c.joins, joinClause)
		c.aliasByPath[key] = newAlias
		c.entityByPath[key] = target.Name
		alias, entityName = newAlias, target.Name
	}
	return alias, entityName, nil
}

func (c *sqlContext) resolveFieldPath(path string) (alias, column string, err error) {
	segments := strings.Split(path, ".")
	attr := segments[len(segments)-1]
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

func (c *sqlContext) resolveEntityPath(path string) (alias string, desc catalogue.EntityDescriptor, err error) {
	var segments []string
	if path != "" {
		segments = strings.Split(path, ".")
	}
	alias, entityName, err := c.resolveJoinPath(segments)
	if err != nil {
		return "", catalogue.EntityDescriptor{}, err
	}
	desc, ok := c.registry.Lookup(entityName)
	if !ok {
		return "", catalogue.EntityDescriptor{}, gwerrors.NewBadFilter("", fmt.Sprintf("unknown entity %q", entityName))
	}
	return alias, desc, nil
}

// Build renders f into a literal-embedded SQL SELECT string, matching
// QueryBuilder's signature exactly so it can stand in for the catalogue
// backend behind the shared interface. Includes are rendered as LEFT JOINs
// plus the relation name list; there is no SQL equivalent of the
// catalogue's INCLUDE suffix, so eager-loaded relation names are only
// returned for callers that want to know which joins widened the row.
func (b *Builder) Build(root string, f *filter.Filter) (string, []string, error) {
	rootDesc, ok := b.registry.Lookup(root)
	if !ok {
		return "", nil, gwerrors.NewBadFilter("", fmt.Sprintf("unknown entity %q", root))
	}
	ctx := newSQLContext(b.registry, rootDesc)
	if f == nil {
		f = &filter.Filter{}
	}

	var includeNames []string
	for _, inc := range f.Include {
		names, err := processSQLInclude(ctx, nil, inc)
		if err != nil {
			return "", nil, err
		}
		includeNames = append(includeNames, names...)
	}

	sb := newSelect()
	if len(f.Distinct) > 0 {
		cols := make([]string, 0, len(f.Distinct))
		for _, field := range f.Distinct {
			alias, col, err := ctx.resolveFieldPath(field)
			if err != nil {
				return "", nil, err
			}
			cols = append(cols, alias+"."+col)
		}
		sb.columns = cols
		sb.Distinct()
	}
	sb.From(tableName(rootDesc.Name) + " t0")
	for _, j := range ctx.joins {
		sb.Join(j)
	}

	if f.Where != nil {
		rendered, err := renderSQLExpr(ctx, nil, f.Where)
		if err != nil {
			return "", nil, err
		}
		if rendered != "" {
			sb.Where(rendered)
		}
	}

	for _, term := range f.Order {
		alias, col, err := ctx.resolveFieldPath(term.Field)
		if err != nil {
			return "", nil, err
		}
		dir := "ASC"
		if term.Direction == filter.Desc {
			dir = "DESC"
		}
		sb.OrderBy(fmt.Sprintf("%s.%s %s", alias, col, dir))
	}

	if f.Limit != nil {
		sb.Limit(*f.Limit)
	}
	if f.Skip != nil {
		sb.Offset(*f.Skip)
	}

	query, _ := sb.Build()
	return query, includeNames, nil
}

func processSQLInclude(ctx *sqlContext, basePath []string, inc filter.Include) ([]string, error) {
	fullPath := append(append([]string{}, basePath...), inc.Relation)
	if _, _, err := ctx.resolveJoinPath(fullPath); err != nil {
		return nil, err
	}
	names := []string{inc.Relation}
	if inc.Scope != nil {
		for _, nested := range inc.Scope.Include {
			nestedNames, err := processSQLInclude(ctx, fullPath, nested)
			if err != nil {
				return nil, err
			}
			names = append(names, nestedNames...)
		}
	}
	return names, nil
}

func qualifySQL(prefix []string, field string) string {
	if len(prefix) == 0 {
		return field
	}
	if field == "" {
		return strings.Join(prefix, ".")
	}
	return strings.Join(prefix, ".") + "." + field
}

func renderSQLExpr(ctx *sqlContext, prefix []string, expr filter.Expr) (string, error) {
	switch e := expr.(type) {
	case nil:
		return "", nil
	case *filter.And:
		parts, err := renderSQLChildren(ctx, prefix, e.Children)
		if err != nil {
			return "", err
		}
		return strings.Join(parts, " AND "), nil
	case *filter.Or:
		parts, err := renderSQLChildren(ctx, prefix, e.Children)
		if err != nil {
			return "", err
		}
		return strings.Join(parts, " OR "), nil
	case *filter.Cmp:
		return renderSQLCmp(ctx, prefix, e)
	default:
		return "", gwerrors.NewInternal(fmt.Sprintf("unhandled expression type %T", expr))
	}
}

func renderSQLChildren(ctx *sqlContext, prefix []string, children []filter.Expr) ([]string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		rendered, err := renderSQLExpr(ctx, prefix, child)
		if err != nil {
			return nil, err
		}
		switch child.(type) {
		case *filter.And, *filter.Or:
			rendered = "(" + rendered + ")"
		}
		parts = append(parts, rendered)
	}
	return parts, nil
}

func renderSQLCmp(ctx *sqlContext, prefix []string, cmp *filter.Cmp) (string, error) {
	if cmp.Op == filter.OpText {
		alias, desc, err := ctx.resolveEntityPath(qualifySQL(prefix, cmp.Field))
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
		lit := quoteSQLString("%" + value + "%")
		fields := make([]string, 0, len(desc.TextSearchable))
		for _, f := range desc.TextSearchable {
			fields = append(fields, fmt.Sprintf("%s.%s ILIKE %s", alias, f, lit))
		}
		sort.Strings(fields)
		return "(" + strings.Join(fields, " OR ") + ")", nil
	}

	alias, col, err := ctx.resolveFieldPath(qualifySQL(prefix, cmp.Field))
	if err != nil {
		return "", err
	}
	qcol := alias + "." + col

	switch cmp.Op {
	case filter.OpEq:
		lit, err := renderSQLLiteral(cmp.Value)
		return qcol + " = " + lit, err
	case filter.OpNeq:
		lit, err := renderSQLLiteral(cmp.Value)
		return qcol + " != " + lit, err
	case filter.OpGt:
		lit, err := renderSQLLiteral(cmp.Value)
		return qcol + " > " + lit, err
	case filter.OpGte:
		lit, err := renderSQLLiteral(cmp.Value)
		return qcol + " >= " + lit, err
	case filter.OpLt:
		lit, err := renderSQLLiteral(cmp.Value)
		return qcol + " < " + lit, err
	case filter.OpLte:
		lit, err := renderSQLLiteral(cmp.Value)
		return qcol + " <= " + lit, err
	case filter.OpIn, filter.OpNin:
		arr, ok := cmp.Value.([]any)
		if !ok {
			return "", gwerrors.NewBadFilter("", "requires an array literal")
		}
		lits := make([]string, 0, len(arr))
		for _, v := range arr {
			lit, err := renderSQLLiteral(v)
			if err != nil {
				return "", err
			}
			lits = append(lits, lit)
		}
		kw := "IN"
		if cmp.Op == filter.OpNin {
			kw = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", qcol, kw, strings.Join(lits, ", ")), nil
	case filter.OpBetween:
		arr, ok := cmp.Value.([]any)
		if !ok || len(arr) != 2 {
			return "", gwerrors.NewBadFilter("", "requires exactly two elements")
		}
		lo, err := renderSQLLiteral(arr[0])
		if err != nil {
			return "", err
		}
		hi, err := renderSQLLiteral(arr[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", qcol, lo, hi), nil
	case filter.OpLike, filter.OpNLike:
		lit, err := renderSQLLiteral(cmp.Value)
		if err != nil {
			return "", err
		}
		kw := "LIKE"
		if cmp.Op == filter.OpNLike {
			kw = "NOT LIKE"
		}
		return fmt.Sprintf("%s %s %s", qcol, kw, lit), nil
	case filter.OpILike, filter.OpNILike:
		lit, err := renderSQLLiteral(cmp.Value)
		if err != nil {
			return "", err
		}
		kw := "ILIKE"
		if cmp.Op == filter.OpNILike {
			kw = "NOT ILIKE"
		}
		return fmt.Sprintf("%s %s %s", qcol, kw, lit), nil
	case filter.OpRegexp:
		lit, err := renderSQLLiteral(cmp.Value)
		if err != nil {
			return "", err
		}
		return qcol + " ~ " + lit, nil
	default:
		return "", gwerrors.NewBadFilter("", fmt.Sprintf("unsupported operator %q", cmp.Op))
	}
}

func renderSQLLiteral(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return quoteSQLString(val), nil
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

func quoteSQLString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
