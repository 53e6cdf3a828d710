package filter

import (
	"testing"
)

func TestParseImplicitEq(t *testing.T) {
	f, err := ParseString(`{"where":{"title":"dog"}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmp, ok := f.Where.(*Cmp)
	if !ok {
		t.Fatalf("expected *Cmp, got %T", f.Where)
	}
	if cmp.Field != "title" || cmp.Op != OpEq || cmp.Value != "dog" {
		t.Fatalf("unexpected cmp: %+v", cmp)
	}
}

func TestParseExplicitOperator(t *testing.T) {
	f, err := ParseString(`{"where":{"title":{"like":"dog%"}}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmp, ok := f.Where.(*Cmp)
	if !ok {
		t.Fatalf("expected *Cmp, got %T", f.Where)
	}
	if cmp.Field != "title" || cmp.Op != OpLike || cmp.Value != "dog%" {
		t.Fatalf("unexpected cmp: %+v", cmp)
	}
}

func TestParseMultiFieldConjunction(t *testing.T) {
	f, err := ParseString(`{"where":{"title":"dog","size":{"gt":5}}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	and, ok := f.Where.(*And)
	if !ok {
		t.Fatalf("expected *And, got %T", f.Where)
	}
	if len(and.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(and.Children))
	}
}

func TestParseAndOr(t *testing.T) {
	f, err := ParseString(`{"where":{"and":[{"title":"dog"},{"or":[{"size":{"gt":5}},{"size":{"lt":1}}]}]}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	and, ok := f.Where.(*And)
	if !ok {
		t.Fatalf("expected *And, got %T", f.Where)
	}
	if len(and.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(and.Children))
	}
	if _, ok := and.Children[1].(*Or); !ok {
		t.Fatalf("expected second child to be *Or, got %T", and.Children[1])
	}
}

func TestParseLegacyArrayWhere(t *testing.T) {
	f, err := ParseString(`{"where":[{"title":"dog"},{"size":{"gt":5}}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	and, ok := f.Where.(*And)
	if !ok {
		t.Fatalf("expected *And, got %T", f.Where)
	}
	if len(and.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(and.Children))
	}
}

func TestParseBetweenRequiresTwoElements(t *testing.T) {
	_, err := ParseString(`{"where":{"size":{"between":[5]}}}`)
	if err == nil {
		t.Fatal("expected error for malformed between")
	}
	const wantSubstring = "where.size.between"
	if got := err.Error(); !containsSubstring(got, wantSubstring) {
		t.Fatalf("expected error to mention %q, got %q", wantSubstring, got)
	}
}

func TestParseUnknownTopLevelKey(t *testing.T) {
	_, err := ParseString(`{"bogus":true}`)
	if err == nil {
		t.Fatal("expected error for unrecognised top-level key")
	}
}

func TestParseUnknownOperator(t *testing.T) {
	_, err := ParseString(`{"where":{"title":{"startswith":"d"}}}`)
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestParseEmptyAndArray(t *testing.T) {
	_, err := ParseString(`{"where":{"and":[]}}`)
	if err == nil {
		t.Fatal("expected error for empty and array")
	}
}

func TestParseLimitSkip(t *testing.T) {
	f, err := ParseString(`{"limit":2,"skip":0}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Limit == nil || *f.Limit != 2 {
		t.Fatalf("unexpected limit: %v", f.Limit)
	}
	if f.Skip == nil || *f.Skip != 0 {
		t.Fatalf("unexpected skip: %v", f.Skip)
	}
}

func TestParseNegativeLimitRejected(t *testing.T) {
	_, err := ParseString(`{"limit":-1}`)
	if err == nil {
		t.Fatal("expected error for negative limit")
	}
}

func TestParseOrderStringShorthand(t *testing.T) {
	f, err := ParseString(`{"order":["name DESC","id"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Order) != 2 {
		t.Fatalf("expected 2 order terms, got %d", len(f.Order))
	}
	if f.Order[0].Field != "name" || f.Order[0].Direction != Desc {
		t.Fatalf("unexpected first order term: %+v", f.Order[0])
	}
	if f.Order[1].Field != "id" || f.Order[1].Direction != Asc {
		t.Fatalf("unexpected second order term: %+v", f.Order[1])
	}
}

func TestParseIncludeWithScope(t *testing.T) {
	f, err := ParseString(`{"include":[{"relation":"datasets","scope":{"where":{"isPublic":true}}}]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Include) != 1 {
		t.Fatalf("expected 1 include, got %d", len(f.Include))
	}
	inc := f.Include[0]
	if inc.Relation != "datasets" {
		t.Fatalf("unexpected relation: %s", inc.Relation)
	}
	if inc.Scope == nil || inc.Scope.Where == nil {
		t.Fatal("expected scope.where to be set")
	}
}

func TestParseIncludeBareString(t *testing.T) {
	f, err := ParseString(`{"include":["datasets"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Include) != 1 || f.Include[0].Relation != "datasets" {
		t.Fatalf("unexpected include: %+v", f.Include)
	}
}

func TestParseDistinct(t *testing.T) {
	f, err := ParseString(`{"distinct":["id","name"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Distinct) != 2 || f.Distinct[0] != "id" || f.Distinct[1] != "name" {
		t.Fatalf("unexpected distinct: %+v", f.Distinct)
	}
}

func TestParseEmptyStringIsEmptyFilter(t *testing.T) {
	f, err := ParseString("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.IsZero() {
		t.Fatalf("expected zero filter, got %+v", f)
	}
}

func containsSubstring(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
