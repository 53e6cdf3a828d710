package catalogue

import (
	"strings"
	"testing"

	"github.com/icatproject/icat-gateway/internal/filter"
)

func TestBuildSimpleLikeWithLimit(t *testing.T) {
	b := NewBuilder(NewRegistry())
	f, err := filter.ParseString(`{"where":{"title":{"like":"dog%"}},"limit":2}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, _, err := b.Build("Investigation", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	want := "SELECT o FROM Investigation o WHERE o.title LIKE 'dog%' LIMIT 0, 2"
	if query != want {
		t.Fatalf("unexpected query:\n got: %s\nwant: %s", query, want)
	}
}

func TestBuildSkipOnlyRendersMaxInt(t *testing.T) {
	b := NewBuilder(NewRegistry())
	f, err := filter.ParseString(`{"skip":10}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, _, err := b.Build("Dataset", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if !strings.HasSuffix(query, "LIMIT 10, MAX_INT") {
		t.Fatalf("expected MAX_INT limit suffix, got: %s", query)
	}
}

func TestBuildImplicitJoinOnRelationPath(t *testing.T) {
	b := NewBuilder(NewRegistry())
	f, err := filter.ParseString(`{"where":{"dataset.doi":"abc-123"},"limit":5}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, includes, err := b.Build("Datafile", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if len(includes) != 0 {
		t.Fatalf("expected no includes for an implicit join, got %v", includes)
	}
	if !strings.Contains(query, "JOIN o.dataset o1") {
		t.Fatalf("expected implicit join, got: %s", query)
	}
	if !strings.Contains(query, "o1.doi = 'abc-123'") {
		t.Fatalf("expected where on joined alias, got: %s", query)
	}
	if strings.Contains(query, "INCLUDE") {
		t.Fatalf("did not expect an INCLUDE clause: %s", query)
	}
}

func TestBuildIncludeWithScopedWhere(t *testing.T) {
	b := NewBuilder(NewRegistry())
	f, err := filter.ParseString(`{"include":[{"relation":"datasets","scope":{"where":{"complete":true}}}]}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, includes, err := b.Build("Investigation", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if len(includes) != 1 || includes[0] != "datasets" {
		t.Fatalf("unexpected includes: %v", includes)
	}
	if !strings.Contains(query, "JOIN o.datasets o1") {
		t.Fatalf("expected join for include, got: %s", query)
	}
	if !strings.Contains(query, "o1.complete = TRUE") {
		t.Fatalf("expected scoped where on include alias, got: %s", query)
	}
	if !strings.Contains(query, "INCLUDE o1") {
		t.Fatalf("expected INCLUDE clause, got: %s", query)
	}
}

func TestBuildDuplicateIncludePathsDeduplicated(t *testing.T) {
	b := NewBuilder(NewRegistry())
	f, err := filter.ParseString(`{"where":{"and":[{"datasets.name":"a"},{"datasets.doi":"b"}]},"include":["datasets"]}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, _, err := b.Build("Investigation", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if strings.Count(query, "JOIN o.datasets") != 1 {
		t.Fatalf("expected exactly one join for the shared path, got: %s", query)
	}
}

func TestBuildUnknownFieldRejected(t *testing.T) {
	b := NewBuilder(NewRegistry())
	f, err := filter.ParseString(`{"where":{"bogus":"x"}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, _, err := b.Build("Investigation", f); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestBuildTextOperator(t *testing.T) {
	b := NewBuilder(NewRegistry())
	f, err := filter.ParseString(`{"where":{"":{"text":"neutron"}}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, _, err := b.Build("Investigation", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if !strings.Contains(query, "o.title LIKE '%neutron%'") || !strings.Contains(query, "o.name LIKE '%neutron%'") {
		t.Fatalf("expected text search across text-searchable fields, got: %s", query)
	}
}

func TestBuildDistinctProjection(t *testing.T) {
	b := NewBuilder(NewRegistry())
	f, err := filter.ParseString(`{"distinct":["name"]}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, _, err := b.Build("Investigation", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if !strings.HasPrefix(query, "SELECT DISTINCT o.name FROM") {
		t.Fatalf("expected distinct projection, got: %s", query)
	}
}
