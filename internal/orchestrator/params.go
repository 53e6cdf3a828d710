package orchestrator

import (
	"encoding/json"
	"net/url"

	"github.com/icatproject/icat-gateway/internal/filter"
	"github.com/icatproject/icat-gateway/internal/gwerrors"
)

// filterKeys are the top-level keys a filter object may carry, and the only
// individual query parameters ParseFilterParams recognises.
var filterKeys = []string{"where", "include", "limit", "skip", "order", "distinct"}

// ParseFilterParams builds a Filter from a request's query parameters. The
// stringified-JSON `filter` parameter, if present, is the base; individual
// `where`/`include`/`limit`/`skip`/`order`/`distinct` parameters override
// the corresponding key of that base, merged key-by-key rather than
// replacing the whole object, so e.g. a bare `?limit=5` narrows a JSON
// `filter` without discarding its `where` clause.
func ParseFilterParams(values url.Values) (*filter.Filter, error) {
	raw := map[string]json.RawMessage{}
	if s := values.Get("filter"); s != "" {
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil, gwerrors.NewBadFilter("filter", "invalid JSON: "+err.Error())
		}
	}
	for _, key := range filterKeys {
		if s := values.Get(key); s != "" {
			raw[key] = json.RawMessage(s)
		}
	}
	if len(raw) == 0 {
		return &filter.Filter{}, nil
	}
	merged, err := json.Marshal(raw)
	if err != nil {
		return nil, gwerrors.NewInternal(err.Error())
	}
	return filter.Parse(merged)
}

// ParseWhereParam builds a Filter from a bare `where` query parameter, as
// count endpoints require per spec.md §6 ("count endpoints accept `where`
// instead [of `filter`]").
func ParseWhereParam(values url.Values) (*filter.Filter, error) {
	where := values.Get("where")
	if where == "" {
		return &filter.Filter{}, nil
	}
	merged, err := json.Marshal(map[string]json.RawMessage{"where": json.RawMessage(where)})
	if err != nil {
		return nil, gwerrors.NewInternal(err.Error())
	}
	return filter.Parse(merged)
}
