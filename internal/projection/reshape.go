package projection

// Reshape walks a decoded catalogue result row along mapping's field and
// relation rules for searchEntity, producing the equivalent Search-schema
// JSON object. It returns keep=false when a declared-required field or
// relation was unreachable (null intermediate), signalling the caller to
// drop the whole record rather than emit a partial one.
//
// visited guards against re-entering an entity already on the current
// projection path (the mapping's relation graph is a tree by contract, but
// nothing stops a mapping file from declaring a cycle).
func Reshape(mapping *Mapping, searchEntity string, row map[string]any) (map[string]any, bool, error) {
	return reshape(mapping, searchEntity, row, map[string]struct{}{})
}

func reshape(mapping *Mapping, searchEntity string, row map[string]any, visited map[string]struct{}) (map[string]any, bool, error) {
	if _, seen := visited[searchEntity]; seen {
		return nil, false, nil
	}
	em, err := mapping.Entity(searchEntity)
	if err != nil {
		return nil, false, err
	}
	nextVisited := make(map[string]struct{}, len(visited)+1)
	for k := range visited {
		nextVisited[k] = struct{}{}
	}
	nextVisited[searchEntity] = struct{}{}

	out := map[string]any{}

	for name, rule := range em.Fields {
		switch rule.Kind {
		case fieldConst:
			out[name] = rule.Const
		case fieldPath:
			value, ok := walkPath(row, rule.Path)
			if !ok {
				if em.Required[name] {
					return nil, false, nil
				}
				continue
			}
			out[name] = value
		case fieldAll:
			// "ALL" fields are carried by the Relations entry of the same
			// name; handled in the relations loop below.
		}
	}

	for name, rel := range em.Relations {
		value, ok := walkPath(row, rel.CataloguePath)
		if !ok || value == nil {
			if em.Required[name] {
				return nil, false, nil
			}
			continue
		}

		if rel.ToMany {
			arr, ok := value.([]any)
			if !ok {
				continue
			}
			items := make([]any, 0, len(arr))
			for _, elem := range arr {
				childRow, ok := elem.(map[string]any)
				if !ok {
					continue
				}
				if rel.TargetEntity == "" {
					items = append(items, childRow)
					continue
				}
				reshaped, keep, err := reshape(mapping, rel.TargetEntity, childRow, nextVisited)
				if err != nil {
					return nil, false, err
				}
				if keep {
					items = append(items, reshaped)
				}
			}
			out[name] = items
			continue
		}

		if arr, isArr := value.([]any); isArr {
			// A to-one relation whose cataloguePath crosses a to-many hop
			// (e.g. investigation.investigationInstruments.instrument) still
			// fans out to an array in walkPath; collapse to the first
			// related row, matching the mapping author's single-valued
			// declaration.
			if len(arr) == 0 {
				if em.Required[name] {
					return nil, false, nil
				}
				continue
			}
			value = arr[0]
		}

		childRow, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if rel.TargetEntity == "" {
			out[name] = childRow
			continue
		}
		reshaped, keep, err := reshape(mapping, rel.TargetEntity, childRow, nextVisited)
		if err != nil {
			return nil, false, err
		}
		if !keep {
			if em.Required[name] {
				return nil, false, nil
			}
			continue
		}
		out[name] = reshaped
	}

	return out, true, nil
}

// walkPath descends row along a dotted catalogue path of nested object
// fields, returning ok=false as soon as it hits a missing key or a nil
// value. A to-many catalogue relation (e.g. investigationInstruments)
// nests an array rather than an object at that hop; walkPath fans out
// over it, applies the remaining path to every element, and flattens the
// per-element results into a single array, rather than failing as soon
// as a non-terminal segment isn't an object.
func walkPath(row map[string]any, path []string) (any, bool) {
	return walkValue(any(row), path)
}

func walkValue(cur any, path []string) (any, bool) {
	if len(path) == 0 {
		if cur == nil {
			return nil, false
		}
		return cur, true
	}

	switch v := cur.(type) {
	case map[string]any:
		next, ok := v[path[0]]
		if !ok || next == nil {
			return nil, false
		}
		return walkValue(next, path[1:])
	case []any:
		results := make([]any, 0, len(v))
		for _, elem := range v {
			val, ok := walkValue(elem, path)
			if !ok {
				continue
			}
			if nested, isArr := val.([]any); isArr {
				results = append(results, nested...)
			} else {
				results = append(results, val)
			}
		}
		if len(results) == 0 {
			return nil, false
		}
		return results, true
	default:
		return nil, false
	}
}
