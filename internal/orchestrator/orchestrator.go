// Package orchestrator implements C6: the per-request coordination between
// the filter parser, the projection engine, the query builder and the
// session pool. It is deliberately thin — one method per HTTP verb shape,
// delegating rendering and execution to the components it wires together —
// matching the teacher's handler/persistence split.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/icatproject/icat-gateway/internal/catalogue"
	"github.com/icatproject/icat-gateway/internal/filter"
	"github.com/icatproject/icat-gateway/internal/gwerrors"
	"github.com/icatproject/icat-gateway/internal/projection"
	"github.com/icatproject/icat-gateway/internal/session"
)

// Orchestrator is the C6 coordinator. Builder is whichever QueryBuilder the
// configured backend provides (catalogue.Builder or relational.Builder);
// Mapping may be nil when only the DataGateway surface is served.
type Orchestrator struct {
	Pool    *session.Pool
	Client  *session.Client
	Builder catalogue.QueryBuilder
	Mapping *projection.Mapping
}

// New constructs an Orchestrator over an already-started pool, client,
// query builder and (optional) projection mapping.
func New(pool *session.Pool, client *session.Client, builder catalogue.QueryBuilder, mapping *projection.Mapping) *Orchestrator {
	return &Orchestrator{Pool: pool, Client: client, Builder: builder, Mapping: mapping}
}

// withSession borrows a session, runs fn with its ID, and releases it on
// every exit path. A SessionExpired error triggers exactly one retry: the
// stale session is invalidated and a fresh one borrowed, per the
// Issued→Active→(Refreshing→Active)*→Expired state machine's "retry once"
// rule. A panic invalidates the session (its state after an in-flight
// catalogue call is unknown) and re-propagates.
func (o *Orchestrator) withSession(ctx context.Context, fn func(sessionID string) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		sess, err := o.Pool.Borrow(ctx)
		if err != nil {
			return nil, err
		}

		result, err := o.runWithSession(ctx, sess, fn)
		if err != nil && gwerrors.IsSessionExpired(err) && attempt == 0 {
			lastErr = err
			continue
		}
		return result, err
	}
	return nil, lastErr
}

func (o *Orchestrator) runWithSession(ctx context.Context, sess *session.Session, fn func(sessionID string) (any, error)) (result any, err error) {
	released := false
	defer func() {
		if r := recover(); r != nil {
			o.Pool.Invalidate(ctx, sess)
			panic(r)
		}
		if !released {
			if err != nil && gwerrors.IsSessionExpired(err) {
				o.Pool.Invalidate(ctx, sess)
			} else {
				o.Pool.Release(sess)
			}
			released = true
		}
	}()
	return fn(sess.ID)
}

// --- DataGateway API: one catalogue entity per path, raw passthrough ---

// List renders f against entity and returns the matching rows.
func (o *Orchestrator) List(ctx context.Context, entity string, f *filter.Filter) ([]session.RawRow, error) {
	query, _, err := o.Builder.Build(entity, f)
	if err != nil {
		return nil, err
	}
	result, err := o.withSession(ctx, func(sessionID string) (any, error) {
		return o.Client.Query(ctx, sessionID, query)
	})
	if err != nil {
		return nil, err
	}
	return result.([]session.RawRow), nil
}

// Get returns the single instance of entity identified by id.
func (o *Orchestrator) Get(ctx context.Context, entity, id string) (session.RawRow, error) {
	one := 1
	f := &filter.Filter{
		Where: &filter.Cmp{Field: "id", Op: filter.OpEq, Value: id},
		Limit: &one,
	}
	rows, err := o.List(ctx, entity, f)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gwerrors.NewNotFound(entity + " " + id)
	}
	return rows[0], nil
}

// FindOne returns the first row f matches, or NotFound if none.
func (o *Orchestrator) FindOne(ctx context.Context, entity string, f *filter.Filter) (session.RawRow, error) {
	one := 1
	scoped := cloneFilter(f)
	scoped.Limit = &one
	rows, err := o.List(ctx, entity, scoped)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gwerrors.NewNotFound(entity + " matching filter")
	}
	return rows[0], nil
}

// Count returns the number of entity rows the where clause of f matches.
func (o *Orchestrator) Count(ctx context.Context, entity string, f *filter.Filter) (int, error) {
	countFilter := &filter.Filter{}
	if f != nil {
		countFilter.Where = f.Where
	}
	query, _, err := o.Builder.Build(entity, countFilter)
	if err != nil {
		return 0, err
	}
	query = asCountQuery(query)
	result, err := o.withSession(ctx, func(sessionID string) (any, error) {
		return o.Client.Query(ctx, sessionID, query)
	})
	if err != nil {
		return 0, err
	}
	rows := result.([]session.RawRow)
	if len(rows) == 0 {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(rows[0], &n); err != nil {
		return 0, gwerrors.NewInternal("malformed count result: " + err.Error())
	}
	return n, nil
}

// Create writes a new entity instance.
func (o *Orchestrator) Create(ctx context.Context, entity string, body map[string]any) (session.RawRow, error) {
	result, err := o.withSession(ctx, func(sessionID string) (any, error) {
		return o.Client.Write(ctx, sessionID, entity, body)
	})
	if err != nil {
		return nil, err
	}
	return result.(session.RawRow), nil
}

// Update writes changes to an existing entity instance. body must carry the
// entity's id, matching the catalogue's upsert-by-id semantics.
func (o *Orchestrator) Update(ctx context.Context, entity string, body map[string]any) (session.RawRow, error) {
	return o.Create(ctx, entity, body)
}

// Delete removes a single entity instance by id.
func (o *Orchestrator) Delete(ctx context.Context, entity, id string) error {
	_, err := o.withSession(ctx, func(sessionID string) (any, error) {
		return nil, o.Client.Delete(ctx, sessionID, entity, id)
	})
	return err
}

// --- Search API: projected, curated view over a subset of entities ---

// SearchList rewrites f from searchEntity's Search schema onto its catalogue
// entity, executes it, and reshapes each row back into Search JSON.
func (o *Orchestrator) SearchList(ctx context.Context, searchEntity string, f *filter.Filter) ([]map[string]any, error) {
	em, catalogueFilter, err := o.rewriteSearchFilter(searchEntity, f)
	if err != nil {
		return nil, err
	}
	rows, err := o.List(ctx, em.CatalogueEntity, catalogueFilter)
	if err != nil {
		return nil, err
	}
	return o.reshapeRows(searchEntity, rows)
}

// SearchGet returns the single Search-schema instance identified by pid.
func (o *Orchestrator) SearchGet(ctx context.Context, searchEntity, pid string) (map[string]any, error) {
	one := 1
	f := &filter.Filter{
		Where: &filter.Cmp{Field: "pid", Op: filter.OpEq, Value: pid},
		Limit: &one,
	}
	results, err := o.SearchList(ctx, searchEntity, f)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, gwerrors.NewNotFound(searchEntity + " " + pid)
	}
	return results[0], nil
}

// SearchCount returns the number of Search-schema rows the where clause of
// f matches.
func (o *Orchestrator) SearchCount(ctx context.Context, searchEntity string, f *filter.Filter) (int, error) {
	em, catalogueFilter, err := o.rewriteSearchFilter(searchEntity, f)
	if err != nil {
		return 0, err
	}
	return o.Count(ctx, em.CatalogueEntity, catalogueFilter)
}

// SearchDatasetFiles lists the files belonging to the dataset identified by
// pid — the one Search-API route that nests one entity under another
// (spec.md §6's "GET /datasets/{pid}/files").
func (o *Orchestrator) SearchDatasetFiles(ctx context.Context, pid string, f *filter.Filter) ([]map[string]any, error) {
	return o.SearchList(ctx, "files", scopeByDatasetPid(f, pid))
}

// SearchDatasetFilesCount is the count sibling of SearchDatasetFiles.
func (o *Orchestrator) SearchDatasetFilesCount(ctx context.Context, pid string, f *filter.Filter) (int, error) {
	return o.SearchCount(ctx, "files", scopeByDatasetPid(f, pid))
}

func (o *Orchestrator) rewriteSearchFilter(searchEntity string, f *filter.Filter) (projection.EntityMapping, *filter.Filter, error) {
	if o.Mapping == nil {
		return projection.EntityMapping{}, nil, gwerrors.NewInternal("search API requested but no projection mapping is configured")
	}
	em, err := o.Mapping.Entity(searchEntity)
	if err != nil {
		return projection.EntityMapping{}, nil, err
	}
	rewritten, err := projection.RewriteFilter(o.Mapping, searchEntity, f)
	if err != nil {
		return projection.EntityMapping{}, nil, err
	}
	return em, rewritten, nil
}

func (o *Orchestrator) reshapeRows(searchEntity string, rows []session.RawRow) ([]map[string]any, error) {
	results := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		var decoded map[string]any
		if err := json.Unmarshal(row, &decoded); err != nil {
			return nil, gwerrors.NewInternal("malformed catalogue row: " + err.Error())
		}
		reshaped, ok, err := projection.Reshape(o.Mapping, searchEntity, decoded)
		if err != nil {
			return nil, err
		}
		if ok {
			results = append(results, reshaped)
		}
	}
	return results, nil
}

// scopeByDatasetPid conjoins `dataset.pid = pid` onto f's where clause.
func scopeByDatasetPid(f *filter.Filter, pid string) *filter.Filter {
	scoped := cloneFilter(f)
	pidClause := &filter.Cmp{Field: "dataset.pid", Op: filter.OpEq, Value: pid}
	if scoped.Where == nil {
		scoped.Where = pidClause
	} else {
		scoped.Where = &filter.And{Children: []filter.Expr{scoped.Where, pidClause}}
	}
	return scoped
}

func cloneFilter(f *filter.Filter) *filter.Filter {
	if f == nil {
		return &filter.Filter{}
	}
	clone := *f
	return &clone
}

// asCountQuery rewrites a built "SELECT <projection> FROM ..." query into
// its "SELECT COUNT(o) FROM ..." form, dropping whatever projection,
// ordering or pagination the original carried — only the FROM/WHERE/JOIN
// clauses matter for a count.
func asCountQuery(query string) string {
	idx := strings.Index(query, " FROM ")
	if idx < 0 {
		return query
	}
	rest := query[idx:]
	if orderIdx := strings.Index(rest, " ORDER BY "); orderIdx >= 0 {
		rest = rest[:orderIdx]
	}
	if limitIdx := strings.Index(rest, " LIMIT "); limitIdx >= 0 {
		rest = rest[:limitIdx]
	}
	if includeIdx := strings.Index(rest, " INCLUDE "); includeIdx >= 0 {
		rest = rest[:includeIdx]
	}
	return "SELECT COUNT(o)" + rest
}
