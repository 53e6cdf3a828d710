// Package projection implements the Search API's field-mapping layer: it
// rewrites Search-schema filters onto catalogue-schema filters and reshapes
// catalogue result rows back into the Search JSON schema.
package projection

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/icatproject/icat-gateway/internal/common"
	"github.com/icatproject/icat-gateway/internal/gwerrors"
)

// fieldKind discriminates the three shapes a mapped Search field can take.
type fieldKind int

const (
	fieldPath fieldKind = iota
	fieldAll
	fieldConst
)

// FieldRule is one Search field's mapping rule: a dotted catalogue scalar
// path, the literal "ALL" (embed the whole relation subtree), or a
// constant value.
type FieldRule struct {
	Kind  fieldKind
	Path  []string
	Const any
}

// UnmarshalJSON sniffs the raw JSON value: the string "ALL" is an All rule,
// any other string is a dotted catalogue path, and anything else is a
// constant — the same two-pass sniff-then-decode technique C2 uses for its
// operator dispatch.
func (r *FieldRule) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "ALL" {
			*r = FieldRule{Kind: fieldAll}
			return nil
		}
		*r = FieldRule{Kind: fieldPath, Path: splitDotted(s)}
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid field rule: %w", err)
	}
	*r = FieldRule{Kind: fieldConst, Const: v}
	return nil
}

// RelationRule is one Search relation's mapping: the chain of catalogue
// relation segments that reaches it (a single Search hop may traverse
// several catalogue relations), whether it is to-many, and the Search
// entity name of the relation's target (empty when the target has no
// further Search-schema mapping of its own, and the embedded subtree is
// passed through as-is).
type RelationRule struct {
	CataloguePath []string `json:"cataloguePath"`
	ToMany        bool     `json:"toMany"`
	TargetEntity  string   `json:"targetEntity"`
}

// UnmarshalJSON accepts either the object form above, or the shorthand
// string form "catalogue.relation.path" when the relation has no further
// Search-schema target (a raw embedded subtree).
func (r *RelationRule) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = RelationRule{CataloguePath: splitDotted(s)}
		return nil
	}
	type alias RelationRule
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("invalid relation rule: %w", err)
	}
	*r = RelationRule(a)
	return nil
}

// EntityMapping pins one Search-schema entity to its field and relation
// rules.
type EntityMapping struct {
	CatalogueEntity string                   `json:"catalogueEntity"`
	Fields          map[string]FieldRule     `json:"fields"`
	Relations       map[string]RelationRule  `json:"relations"`
	Required        map[string]bool          `json:"required"`
}

// Mapping is the decoded contents of search_api_mapping.json: one
// EntityMapping per Search-schema entity, loaded once at startup into an
// immutable value.
type Mapping struct {
	Entities map[string]EntityMapping `json:"entities"`
}

// LoadMapping reads and strictly decodes the projection mapping file at
// path.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	var m Mapping
	if err := common.UnmarshalAndDisallowUnknownFields(data, &m); err != nil {
		return nil, fmt.Errorf("decode mapping file: %w", err)
	}
	return &m, nil
}

// Entity looks up a Search-schema entity's mapping.
func (m *Mapping) Entity(name string) (EntityMapping, error) {
	em, ok := m.Entities[name]
	if !ok {
		return EntityMapping{}, gwerrors.NewBadFilter("", fmt.Sprintf("unknown search entity %q", name))
	}
	return em, nil
}

func splitDotted(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
