package relational

import (
	"strings"
	"testing"

	"github.com/icatproject/icat-gateway/internal/catalogue"
	"github.com/icatproject/icat-gateway/internal/filter"
)

func TestBuildSimpleEqWithLimit(t *testing.T) {
	b := NewBuilder(catalogue.NewRegistry())
	f, err := filter.ParseString(`{"where":{"name":"abc"},"limit":2}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, _, err := b.Build("Investigation", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if !strings.HasPrefix(query, "SELECT * FROM investigation t0") {
		t.Fatalf("unexpected query prefix: %s", query)
	}
	if !strings.Contains(query, "t0.name = 'abc'") {
		t.Fatalf("expected where clause, got: %s", query)
	}
	if !strings.HasSuffix(query, "LIMIT 2") {
		t.Fatalf("expected LIMIT 2 suffix, got: %s", query)
	}
}

func TestBuildToOneRelationJoin(t *testing.T) {
	b := NewBuilder(catalogue.NewRegistry())
	f, err := filter.ParseString(`{"where":{"dataset.name":"x"}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, _, err := b.Build("Datafile", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if !strings.Contains(query, "LEFT JOIN dataset t1 ON t0.dataset_id = t1.id") {
		t.Fatalf("expected to-one FK join, got: %s", query)
	}
	if !strings.Contains(query, "t1.name = 'x'") {
		t.Fatalf("expected where on joined alias, got: %s", query)
	}
}

func TestBuildToManyRelationJoin(t *testing.T) {
	b := NewBuilder(catalogue.NewRegistry())
	f, err := filter.ParseString(`{"where":{"datasets.name":"x"}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, _, err := b.Build("Investigation", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if !strings.Contains(query, "LEFT JOIN dataset t1 ON t1.investigation_id = t0.id") {
		t.Fatalf("expected to-many FK join, got: %s", query)
	}
}

func TestBuildUnknownFieldRejected(t *testing.T) {
	b := NewBuilder(catalogue.NewRegistry())
	f, err := filter.ParseString(`{"where":{"bogus":"x"}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, _, err := b.Build("Investigation", f); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestBuildDistinctProjection(t *testing.T) {
	b := NewBuilder(catalogue.NewRegistry())
	f, err := filter.ParseString(`{"distinct":["name"]}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	query, _, err := b.Build("Investigation", f)
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	if !strings.HasPrefix(query, "SELECT DISTINCT t0.name FROM") {
		t.Fatalf("expected distinct projection, got: %s", query)
	}
}
