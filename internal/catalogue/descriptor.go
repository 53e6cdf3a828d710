// Package catalogue renders backend-agnostic filters into the catalogue's
// own JPQL-like query language and holds the compiled-in entity descriptor
// the renderer resolves field paths against.
package catalogue

import "sort"

// Relation describes one named relation of an entity: the entity it leads
// to, and whether traversing it can yield more than one related row.
type Relation struct {
	Target string
	ToMany bool
}

// EntityDescriptor is the static per-entity metadata the query builder
// needs: its relation table and its scalar attribute set. Compiled in at
// build time, never mutated at runtime.
type EntityDescriptor struct {
	Name           string
	Relations      map[string]Relation
	Attributes     map[string]bool
	TextSearchable []string
}

// HasAttribute reports whether attr is a declared scalar of this entity.
func (d EntityDescriptor) HasAttribute(attr string) bool {
	return d.Attributes[attr]
}

// Relation looks up a named relation, reporting whether it exists.
func (d EntityDescriptor) Relation(name string) (Relation, bool) {
	r, ok := d.Relations[name]
	return r, ok
}

// Registry is the compiled-in set of entity descriptors, keyed by entity
// name, plus a relation-target lookup convenience used by both the
// catalogue and relational query builders.
type Registry struct {
	entities map[string]EntityDescriptor
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (EntityDescriptor, bool) {
	d, ok := r.entities[name]
	return d, ok
}

// EntityNames returns the registry's entity names, sorted, for callers (the
// DataGateway router) that need to enumerate every known entity.
func (r *Registry) EntityNames() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RelationTarget resolves the entity a named relation of `from` points to.
func (r *Registry) RelationTarget(from, relation string) (EntityDescriptor, Relation, bool) {
	fromDesc, ok := r.Lookup(from)
	if !ok {
		return EntityDescriptor{}, Relation{}, false
	}
	rel, ok := fromDesc.Relation(relation)
	if !ok {
		return EntityDescriptor{}, Relation{}, false
	}
	target, ok := r.Lookup(rel.Target)
	return target, rel, ok
}

func entity(name string, attrs []string, textSearchable []string, relations map[string]Relation) EntityDescriptor {
	attrSet := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		attrSet[a] = true
	}
	if relations == nil {
		relations = map[string]Relation{}
	}
	return EntityDescriptor{
		Name:           name,
		Relations:      relations,
		Attributes:     attrSet,
		TextSearchable: textSearchable,
	}
}

// NewRegistry builds the gateway's compiled-in catalogue entity descriptor
// set: the subset of the ICAT data model exercised by the filter and
// projection engines (investigations, datasets, datafiles, samples,
// instruments, facilities, users and parameters).
func NewRegistry() *Registry {
	entities := map[string]EntityDescriptor{
		"Investigation": entity("Investigation",
			[]string{"id", "name", "title", "doi", "startDate", "endDate", "visitId"},
			[]string{"title", "name"},
			map[string]Relation{
				"datasets":            {Target: "Dataset", ToMany: true},
				"samples":             {Target: "Sample", ToMany: true},
				"investigationUsers":  {Target: "InvestigationUser", ToMany: true},
				"investigationInstruments": {Target: "InvestigationInstrument", ToMany: true},
				"parameters":          {Target: "Parameter", ToMany: true},
				"facility":            {Target: "Facility", ToMany: false},
			}),
		"Dataset": entity("Dataset",
			[]string{"id", "name", "doi", "complete", "location"},
			[]string{"name"},
			map[string]Relation{
				"investigation": {Target: "Investigation", ToMany: false},
				"datafiles":     {Target: "Datafile", ToMany: true},
				"sample":        {Target: "Sample", ToMany: false},
				"parameters":    {Target: "Parameter", ToMany: true},
			}),
		"Datafile": entity("Datafile",
			[]string{"id", "name", "location", "fileSize", "datafileCreateTime"},
			[]string{"name"},
			map[string]Relation{
				"dataset": {Target: "Dataset", ToMany: false},
			}),
		"Sample": entity("Sample",
			[]string{"id", "name"},
			[]string{"name"},
			map[string]Relation{
				"investigation": {Target: "Investigation", ToMany: false},
			}),
		"Instrument": entity("Instrument",
			[]string{"id", "name", "fullName"},
			[]string{"name", "fullName"},
			map[string]Relation{
				"facility": {Target: "Facility", ToMany: false},
			}),
		"InvestigationInstrument": entity("InvestigationInstrument",
			[]string{"id"},
			nil,
			map[string]Relation{
				"investigation": {Target: "Investigation", ToMany: false},
				"instrument":    {Target: "Instrument", ToMany: false},
			}),
		"InvestigationUser": entity("InvestigationUser",
			[]string{"id", "role"},
			nil,
			map[string]Relation{
				"investigation": {Target: "Investigation", ToMany: false},
				"user":          {Target: "User", ToMany: false},
			}),
		"User": entity("User",
			[]string{"id", "name", "fullName", "email"},
			[]string{"fullName"},
			nil),
		"Parameter": entity("Parameter",
			[]string{"id", "stringValue", "numericValue", "dateTimeValue"},
			nil,
			map[string]Relation{
				"type": {Target: "ParameterType", ToMany: false},
			}),
		"ParameterType": entity("ParameterType",
			[]string{"id", "name", "units"},
			[]string{"name"},
			nil),
		"Facility": entity("Facility",
			[]string{"id", "name", "fullName"},
			[]string{"name", "fullName"},
			nil),
	}
	return &Registry{entities: entities}
}
