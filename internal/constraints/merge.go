package constraints

// Merge folds incoming constraints into base without mutating either map.
// Rules, applied key by key:
//   - incoming lists merge with the base value (coerced to a list when it
//     is not one), deduplicated by deep equality so struct-shaped items
//     collapse correctly;
//   - incoming strings promote a differing base scalar into a two-item
//     list, append to a base list when missing, and otherwise override;
//   - any other incoming value overrides the base value;
//   - keys present on only one side pass through unchanged.
//
// Merge is total: no combination of scalar/list/struct shapes can make it
// fail, because incoming sets come from an untrusted extractor.
func Merge(base, incoming Map) Map {
	if len(base) == 0 {
		return incoming.Clone()
	}
	merged := base.Clone()

	for k, v := range incoming {
		existing, present := merged[k]
		switch {
		case v.kind == KindList:
			merged[k] = mergeLists(coerceList(existing, present), v.list)
		case isString(v):
			if !present {
				merged[k] = v
				break
			}
			switch existing.kind {
			case KindList:
				merged[k] = mergeLists(existing.list, []Value{v})
			case KindScalar:
				if existing.Equal(v) {
					break
				}
				merged[k] = List(existing, v)
			default:
				merged[k] = v
			}
		default:
			merged[k] = v
		}
	}
	return merged
}

func isString(v Value) bool {
	_, ok := v.Str()
	return ok
}

func coerceList(v Value, present bool) []Value {
	if !present {
		return nil
	}
	if v.kind == KindList {
		return v.list
	}
	if v.kind == KindScalar && v.scalar == nil {
		return nil
	}
	return []Value{v}
}

// mergeLists keeps base order, appending incoming items not already present.
func mergeLists(base, incoming []Value) Value {
	seen := make(map[string]bool, len(base)+len(incoming))
	out := make([]Value, 0, len(base)+len(incoming))
	for _, item := range base {
		key := item.canonical()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	for _, item := range incoming {
		key := item.canonical()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return List(out...)
}
