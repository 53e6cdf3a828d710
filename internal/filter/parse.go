package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/icatproject/icat-gateway/internal/common"
	"github.com/icatproject/icat-gateway/internal/gwerrors"
)

var topLevelKeys = map[string]bool{
	"where": true, "include": true, "limit": true,
	"skip": true, "order": true, "distinct": true,
}

var scopeKeys = map[string]bool{"where": true, "include": true}

// Parse decodes raw JSON bytes into a Filter. Recognised top-level keys are
// exactly where/include/limit/skip/order/distinct; anything else is a
// BadFilter naming the offending key.
func Parse(raw []byte) (*Filter, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return &Filter{}, nil
	}
	return parseTop(raw, "", topLevelKeys)
}

// ParseString decodes a filter carried as a JSON-encoded string, the shape
// an HTTP `filter` query parameter arrives in. An empty string is an empty
// Filter.
func ParseString(s string) (*Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return &Filter{}, nil
	}
	return Parse([]byte(s))
}

func parseTop(raw []byte, path string, allowed map[string]bool) (*Filter, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, gwerrors.NewBadFilter(joinPath(path), "must be a JSON object: "+err.Error())
	}
	for key := range top {
		if !allowed[key] {
			return nil, gwerrors.NewBadFilter(joinPath(path, key), "unrecognised filter key")
		}
	}

	f := &Filter{}

	if raw, ok := top["where"]; ok {
		expr, err := parseNode(raw, joinPath(path, "where"))
		if err != nil {
			return nil, err
		}
		f.Where = expr
	}
	if raw, ok := top["include"]; ok {
		includes, err := parseIncludeList(raw, joinPath(path, "include"))
		if err != nil {
			return nil, err
		}
		f.Include = includes
	}
	if raw, ok := top["limit"]; ok {
		n, err := parseNonNegativeInt(raw, joinPath(path, "limit"))
		if err != nil {
			return nil, err
		}
		f.Limit = n
	}
	if raw, ok := top["skip"]; ok {
		n, err := parseNonNegativeInt(raw, joinPath(path, "skip"))
		if err != nil {
			return nil, err
		}
		f.Skip = n
	}
	if raw, ok := top["order"]; ok {
		order, err := parseOrderList(raw, joinPath(path, "order"))
		if err != nil {
			return nil, err
		}
		f.Order = order
	}
	if raw, ok := top["distinct"]; ok {
		distinct, err := parseDistinct(raw, joinPath(path, "distinct"))
		if err != nil {
			return nil, err
		}
		f.Distinct = distinct
	}

	return f, nil
}

func joinPath(segments ...string) string {
	var nonEmpty []string
	for _, s := range segments {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, ".")
}

// parseNode decodes one where-clause node. A JSON array is the legacy
// implicit-and shape; a JSON object with exactly one "and"/"or" key whose
// value is an array is a compound node; any other object is a conjunction
// of per-field clauses.
func parseNode(raw json.RawMessage, path string) (Expr, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, gwerrors.NewBadFilter(path, "must be an array: "+err.Error())
		}
		if len(elems) == 0 {
			return nil, gwerrors.NewBadFilter(path, "must not be empty")
		}
		children := make([]Expr, 0, len(elems))
		for i, elem := range elems {
			child, err := parseNode(elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			if child != nil {
				children = append(children, child)
			}
		}
		return andOf(children), nil
	}

	if trimmed[0] != '{' {
		return nil, gwerrors.NewBadFilter(path, "must be an object or array")
	}

	var node map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &node); err != nil {
		return nil, gwerrors.NewBadFilter(path, "must be a JSON object: "+err.Error())
	}
	if len(node) == 0 {
		return nil, nil
	}

	if len(node) == 1 {
		for key, value := range node {
			if v := bytes.TrimSpace(value); (key == "and" || key == "or") && len(v) > 0 && v[0] == '[' {
				return parseCompound(key, value, joinPath(path, key))
			}
		}
	}

	fields := make([]string, 0, len(node))
	for key := range node {
		fields = append(fields, key)
	}
	sortStrings(fields)

	children := make([]Expr, 0, len(fields))
	for _, field := range fields {
		clause, err := parseFieldClause(field, node[field], joinPath(path, field))
		if err != nil {
			return nil, err
		}
		children = append(children, clause)
	}
	return andOf(children), nil
}

func andOf(children []Expr) Expr {
	if len(children) == 0 {
		return nil
	}
	if len(children) == 1 {
		return children[0]
	}
	return &And{Children: children}
}

func parseCompound(op string, raw json.RawMessage, path string) (Expr, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, gwerrors.NewBadFilter(path, fmt.Sprintf("%q requires an array value", op))
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, gwerrors.NewBadFilter(path, "must be an array: "+err.Error())
	}
	if len(elems) == 0 {
		return nil, gwerrors.NewBadFilter(path, fmt.Sprintf("%q must not be empty", op))
	}
	children := make([]Expr, 0, len(elems))
	for i, elem := range elems {
		child, err := parseNode(elem, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, child)
		}
	}
	if len(children) == 0 {
		return nil, gwerrors.NewBadFilter(path, fmt.Sprintf("%q must not be empty", op))
	}
	if op == "and" {
		return &And{Children: children}, nil
	}
	return &Or{Children: children}, nil
}

func parseFieldClause(field string, raw json.RawMessage, path string) (Expr, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var candidate map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &candidate); err == nil && len(candidate) > 0 {
			if len(candidate) != 1 {
				return nil, gwerrors.NewBadFilter(path, "operator object must have exactly one key")
			}
			for opKey, opVal := range candidate {
				op := Op(opKey)
				if !validOps[op] {
					return nil, gwerrors.NewBadFilter(joinPath(path, opKey), "unknown operator")
				}
				value, err := decodeOperatorValue(op, opVal, joinPath(path, opKey))
				if err != nil {
					return nil, err
				}
				return &Cmp{Field: field, Op: op, Value: value}, nil
			}
		}
	}

	var value any
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, gwerrors.NewBadFilter(path, "invalid literal value: "+err.Error())
	}
	return &Cmp{Field: field, Op: OpEq, Value: value}, nil
}

func decodeOperatorValue(op Op, raw json.RawMessage, path string) (any, error) {
	switch op {
	case OpIn, OpNin:
		var arr []any
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, gwerrors.NewBadFilter(path, "requires an array literal")
		}
		return arr, nil
	case OpBetween:
		var arr []any
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, gwerrors.NewBadFilter(path, "requires an array literal")
		}
		if len(arr) != 2 {
			return nil, gwerrors.NewBadFilter(path, fmt.Sprintf("requires exactly two elements, got %d", len(arr)))
		}
		return arr, nil
	case OpText, OpRegexp, OpLike, OpNLike, OpILike, OpNILike:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, gwerrors.NewBadFilter(path, "requires a string literal")
		}
		return s, nil
	default:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, gwerrors.NewBadFilter(path, "invalid literal value")
		}
		return v, nil
	}
}

func parseIncludeList(raw json.RawMessage, path string) ([]Include, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, gwerrors.NewBadFilter(path, "must be an array")
	}
	includes := make([]Include, 0, len(elems))
	for i, elem := range elems {
		inc, err := parseIncludeElem(elem, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		includes = append(includes, inc)
	}
	return includes, nil
}

func parseIncludeElem(raw json.RawMessage, path string) (Include, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var relation string
		if err := json.Unmarshal(trimmed, &relation); err != nil {
			return Include{}, gwerrors.NewBadFilter(path, "invalid relation name")
		}
		return Include{Relation: relation}, nil
	}

	var obj struct {
		Relation string          `json:"relation"`
		Scope    json.RawMessage `json:"scope"`
	}
	if err := common.UnmarshalAndDisallowUnknownFields(trimmed, &obj); err != nil {
		return Include{}, gwerrors.NewBadFilter(path, "must be a relation name or {relation, scope} object")
	}
	if obj.Relation == "" {
		return Include{}, gwerrors.NewBadFilter(joinPath(path, "relation"), "required")
	}
	inc := Include{Relation: obj.Relation}
	if len(obj.Scope) > 0 {
		scope, err := parseTop(obj.Scope, joinPath(path, "scope"), scopeKeys)
		if err != nil {
			return Include{}, err
		}
		inc.Scope = scope
	}
	return inc, nil
}

func parseNonNegativeInt(raw json.RawMessage, path string) (*int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, gwerrors.NewBadFilter(path, "must be an integer")
	}
	if n < 0 {
		return nil, gwerrors.NewBadFilter(path, "must be non-negative")
	}
	return &n, nil
}

func parseOrderList(raw json.RawMessage, path string) ([]OrderTerm, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, gwerrors.NewBadFilter(path, "must be an array")
	}
	terms := make([]OrderTerm, 0, len(elems))
	for i, elem := range elems {
		term, err := parseOrderElem(elem, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func parseOrderElem(raw json.RawMessage, path string) (OrderTerm, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return OrderTerm{}, gwerrors.NewBadFilter(path, "invalid order term")
		}
		parts := strings.Fields(s)
		if len(parts) == 0 || len(parts) > 2 {
			return OrderTerm{}, gwerrors.NewBadFilter(path, "expected \"field\" or \"field ASC|DESC\"")
		}
		term := OrderTerm{Field: parts[0], Direction: Asc}
		if len(parts) == 2 {
			dir, err := parseDirection(parts[1], path)
			if err != nil {
				return OrderTerm{}, err
			}
			term.Direction = dir
		}
		return term, nil
	}

	var obj struct {
		Field     string `json:"field"`
		Direction string `json:"direction"`
	}
	if err := common.UnmarshalAndDisallowUnknownFields(trimmed, &obj); err != nil {
		return OrderTerm{}, gwerrors.NewBadFilter(path, "must be a string or {field, direction} object")
	}
	if obj.Field == "" {
		return OrderTerm{}, gwerrors.NewBadFilter(joinPath(path, "field"), "required")
	}
	term := OrderTerm{Field: obj.Field, Direction: Asc}
	if obj.Direction != "" {
		dir, err := parseDirection(obj.Direction, joinPath(path, "direction"))
		if err != nil {
			return OrderTerm{}, err
		}
		term.Direction = dir
	}
	return term, nil
}

func parseDirection(s, path string) (Direction, error) {
	switch strings.ToLower(s) {
	case "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return "", gwerrors.NewBadFilter(path, "must be asc or desc")
	}
}

func parseDistinct(raw json.RawMessage, path string) ([]string, error) {
	var fields []string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, gwerrors.NewBadFilter(path, "must be an array of field names")
	}
	return fields, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
