package projection

import (
	"testing"

	"github.com/icatproject/icat-gateway/internal/filter"
)

func testMapping() *Mapping {
	return &Mapping{
		Entities: map[string]EntityMapping{
			"dataset": {
				CatalogueEntity: "Dataset",
				Fields: map[string]FieldRule{
					"pid":    {Kind: fieldPath, Path: []string{"doi"}},
					"name":   {Kind: fieldPath, Path: []string{"name"}},
					"type":   {Kind: fieldConst, Const: "raw"},
					"active": {Kind: fieldConst, Const: true},
				},
				Relations: map[string]RelationRule{
					"files":         {CataloguePath: []string{"datafiles"}, ToMany: true, TargetEntity: "file"},
					"instrument":    {CataloguePath: []string{"investigation", "investigationInstruments", "instrument"}, TargetEntity: "instrument"},
					"investigators": {CataloguePath: []string{"investigation", "investigationUsers", "user"}, ToMany: true, TargetEntity: ""},
				},
				Required: map[string]bool{},
			},
			"file": {
				CatalogueEntity: "Datafile",
				Fields: map[string]FieldRule{
					"name":     {Kind: fieldPath, Path: []string{"name"}},
					"size":     {Kind: fieldPath, Path: []string{"fileSize"}},
					"archived": {Kind: fieldConst, Const: false},
				},
			},
			"instrument": {
				CatalogueEntity: "Instrument",
				Fields: map[string]FieldRule{
					"name": {Kind: fieldPath, Path: []string{"fullName"}},
				},
				Required: map[string]bool{"name": true},
			},
		},
	}
}

func TestRewriteFilterSimpleFieldEq(t *testing.T) {
	m := testMapping()
	f, err := filter.ParseString(`{"where":{"pid":"abc-123"}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	out, err := RewriteFilter(m, "dataset", f)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	cmp, ok := out.Where.(*filter.Cmp)
	if !ok {
		t.Fatalf("expected *Cmp, got %T", out.Where)
	}
	if cmp.Field != "doi" {
		t.Fatalf("expected rewritten field doi, got %s", cmp.Field)
	}
}

func TestRewriteFilterMultiHopRelation(t *testing.T) {
	m := testMapping()
	f, err := filter.ParseString(`{"where":{"instrument.name":"d11"}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	out, err := RewriteFilter(m, "dataset", f)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	cmp, ok := out.Where.(*filter.Cmp)
	if !ok {
		t.Fatalf("expected *Cmp, got %T", out.Where)
	}
	want := "investigation.investigationInstruments.instrument.fullName"
	if cmp.Field != want {
		t.Fatalf("unexpected rewritten field: got %q want %q", cmp.Field, want)
	}
}

func TestRewriteFilterUnknownFieldRejected(t *testing.T) {
	m := testMapping()
	f, err := filter.ParseString(`{"where":{"bogus":"x"}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := RewriteFilter(m, "dataset", f); err == nil {
		t.Fatal("expected error for unmapped field")
	}
}

func TestRewriteIncludeNestsMultiHopChain(t *testing.T) {
	m := testMapping()
	f, err := filter.ParseString(`{"include":["instrument"]}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	out, err := RewriteFilter(m, "dataset", f)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	if len(out.Include) != 1 {
		t.Fatalf("expected 1 include, got %d", len(out.Include))
	}
	inc := out.Include[0]
	if inc.Relation != "investigation" {
		t.Fatalf("expected outer relation investigation, got %s", inc.Relation)
	}
	if inc.Scope == nil || len(inc.Scope.Include) != 1 || inc.Scope.Include[0].Relation != "investigationInstruments" {
		t.Fatalf("expected nested investigationInstruments include, got %+v", inc.Scope)
	}
}

func TestRewriteDateNormalisedToISO8601(t *testing.T) {
	f := &filter.Filter{Where: &filter.Cmp{Field: "pid", Op: filter.OpGt, Value: "2024-01-01"}}
	m := testMapping()
	out, err := RewriteFilter(m, "dataset", f)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	cmp := out.Where.(*filter.Cmp)
	if cmp.Value != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected normalised date: %v", cmp.Value)
	}
}

func TestReshapeScalarAndConstFields(t *testing.T) {
	m := testMapping()
	row := map[string]any{"doi": "abc-123", "name": "my dataset"}
	out, keep, err := Reshape(m, "dataset", row)
	if err != nil {
		t.Fatalf("reshape error: %v", err)
	}
	if !keep {
		t.Fatal("expected record to be kept")
	}
	if out["pid"] != "abc-123" || out["name"] != "my dataset" || out["type"] != "raw" {
		t.Fatalf("unexpected reshaped record: %+v", out)
	}
}

func TestReshapeToManyRelationProducesArray(t *testing.T) {
	m := testMapping()
	row := map[string]any{
		"doi":  "abc-123",
		"name": "my dataset",
		"datafiles": []any{
			map[string]any{"name": "a.nxs", "fileSize": float64(10)},
			map[string]any{"name": "b.nxs", "fileSize": float64(20)},
		},
	}
	out, keep, err := Reshape(m, "dataset", row)
	if err != nil {
		t.Fatalf("reshape error: %v", err)
	}
	if !keep {
		t.Fatal("expected record to be kept")
	}
	files, ok := out["files"].([]any)
	if !ok || len(files) != 2 {
		t.Fatalf("expected 2 files, got %+v", out["files"])
	}
}

func TestReshapeNullIntermediateOmitsUnlessRequired(t *testing.T) {
	m := testMapping()
	row := map[string]any{"doi": "abc-123", "name": "my dataset"}
	out, keep, err := Reshape(m, "dataset", row)
	if err != nil {
		t.Fatalf("reshape error: %v", err)
	}
	if !keep {
		t.Fatal("expected record to be kept (instrument is not required on dataset)")
	}
	if _, present := out["instrument"]; present {
		t.Fatalf("expected instrument to be omitted, got %+v", out["instrument"])
	}
}

func TestReshapeRequiredFieldMissingDropsRecord(t *testing.T) {
	m := testMapping()
	row := map[string]any{}
	_, keep, err := Reshape(m, "instrument", row)
	if err != nil {
		t.Fatalf("reshape error: %v", err)
	}
	if keep {
		t.Fatal("expected record to be dropped when a required field is missing")
	}
}

// TestReshapeToOneRelationCrossesToManyIntermediateHop mirrors the production
// datasets.instrument rule: investigationInstruments is itself a to-many
// catalogue relation, so walkPath fans out over it before reaching the
// single related instrument. The to-one relation must collapse that fan-out
// to its first element instead of silently dropping the field.
func TestReshapeToOneRelationCrossesToManyIntermediateHop(t *testing.T) {
	m := testMapping()
	row := map[string]any{
		"doi":  "abc-123",
		"name": "my dataset",
		"investigation": map[string]any{
			"investigationInstruments": []any{
				map[string]any{"instrument": map[string]any{"fullName": "D11"}},
			},
		},
	}
	out, keep, err := Reshape(m, "dataset", row)
	if err != nil {
		t.Fatalf("reshape error: %v", err)
	}
	if !keep {
		t.Fatal("expected record to be kept")
	}
	instrument, ok := out["instrument"].(map[string]any)
	if !ok {
		t.Fatalf("expected instrument to resolve through the to-many intermediate hop, got %+v", out["instrument"])
	}
	if instrument["name"] != "D11" {
		t.Fatalf("unexpected instrument name: %+v", instrument)
	}
}

// TestReshapeToManyRelationFansOutOverToManyIntermediateHop mirrors the
// production documents.members rule (investigationUsers.user): a to-many
// relation whose own cataloguePath crosses another to-many hop must flatten
// every element's resolved value into one array, not just the first.
func TestReshapeToManyRelationFansOutOverToManyIntermediateHop(t *testing.T) {
	m := testMapping()
	row := map[string]any{
		"doi":  "abc-123",
		"name": "my dataset",
		"investigation": map[string]any{
			"investigationUsers": []any{
				map[string]any{"user": map[string]any{"fullName": "Alice"}},
				map[string]any{"user": map[string]any{"fullName": "Bob"}},
			},
		},
	}
	out, keep, err := Reshape(m, "dataset", row)
	if err != nil {
		t.Fatalf("reshape error: %v", err)
	}
	if !keep {
		t.Fatal("expected record to be kept")
	}
	investigators, ok := out["investigators"].([]any)
	if !ok || len(investigators) != 2 {
		t.Fatalf("expected 2 investigators fanned out across the to-many intermediate hop, got %+v", out["investigators"])
	}
}

func TestRewriteFilterConstFieldMatchFoldsAwayWhere(t *testing.T) {
	m := testMapping()
	f, err := filter.ParseString(`{"where":{"type":"raw"}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	out, err := RewriteFilter(m, "dataset", f)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	if out.Where != nil {
		t.Fatalf("expected matching constant comparison to fold away, got %+v", out.Where)
	}
}

func TestRewriteFilterConstFieldMismatchFoldsAlwaysFalse(t *testing.T) {
	m := testMapping()
	f, err := filter.ParseString(`{"where":{"type":"cooked"}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	out, err := RewriteFilter(m, "dataset", f)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	cmp, ok := out.Where.(*filter.Cmp)
	if !ok || cmp.Field != "id" || cmp.Op != filter.OpEq || cmp.Value != float64(-1) {
		t.Fatalf("expected always-false sentinel, got %+v", out.Where)
	}
}

func TestRewriteFilterConstFieldRejectsNonEqOperator(t *testing.T) {
	m := testMapping()
	f, err := filter.ParseString(`{"where":{"type":{"gt":"raw"}}}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if _, err := RewriteFilter(m, "dataset", f); err == nil {
		t.Fatal("expected error for non-eq operator against a constant-mapped field")
	}
}

// TestRewriteIncludeScopeConstFieldFoldsAwayWhere mirrors spec.md's Concrete
// Scenario 4: a scope filter on an include's target entity is applied
// against a constant-mapped field (here files.archived, in the role of
// documents.datasets.isPublic) rather than erroring.
func TestRewriteIncludeScopeConstFieldFoldsAwayWhere(t *testing.T) {
	m := testMapping()
	f, err := filter.ParseString(`{"include":[{"relation":"files","scope":{"where":{"archived":false}}}]}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	out, err := RewriteFilter(m, "dataset", f)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	if len(out.Include) != 1 {
		t.Fatalf("expected 1 include, got %d", len(out.Include))
	}
	inc := out.Include[0]
	if inc.Relation != "datafiles" {
		t.Fatalf("expected relation datafiles, got %s", inc.Relation)
	}
	if inc.Scope == nil || inc.Scope.Where != nil {
		t.Fatalf("expected matching constant scope filter to fold away, got %+v", inc.Scope)
	}
}

func TestRewriteIncludeScopeConstFieldMismatchFoldsAlwaysFalse(t *testing.T) {
	m := testMapping()
	f, err := filter.ParseString(`{"include":[{"relation":"files","scope":{"where":{"archived":true}}}]}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	out, err := RewriteFilter(m, "dataset", f)
	if err != nil {
		t.Fatalf("rewrite error: %v", err)
	}
	inc := out.Include[0]
	cmp, ok := inc.Scope.Where.(*filter.Cmp)
	if !ok || cmp.Field != "id" || cmp.Op != filter.OpEq || cmp.Value != float64(-1) {
		t.Fatalf("expected always-false sentinel in scope, got %+v", inc.Scope.Where)
	}
}
