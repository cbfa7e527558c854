package keysmap

import "regexp"

// Filter selects KeysMap entries by a regex over the entry's source
// pattern string and/or an exact value matching the serialized form of
// one of the entry's KeyItems, per spec.md §3 KeysMapLocationConfig.
// A Filter with neither field set, or with no Pattern and a Value of "any"
// (case-insensitive), matches every entry; one with only Pattern set
// matches on pattern alone; one with only Value set matches on value
// alone; with both set, both must match (conjunctive within one Filter).
type Filter struct {
	Pattern *regexp.Regexp
	Value   string // "" means unset; compared against KeyItem.serialize(); the "any" wildcard is handled by isAnyWildcard
}

// isAnyWildcard reports whether the filter's Value is the "ANY" no-op
// sentinel described in spec.md §4.6: "ANY in an includes filter is a
// no-op (keeps everything)".
func (f Filter) isAnyWildcard() bool {
	return f.Pattern == nil && (f.Value == "" || equalFoldAny(f.Value))
}

func equalFoldAny(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i, c := range []byte("any") {
		sc := s[i]
		if sc >= 'A' && sc <= 'Z' {
			sc += 'a' - 'A'
		}
		if sc != c {
			return false
		}
	}
	return true
}

// matches reports whether entry e satisfies this filter.
func (f Filter) matches(e entry) bool {
	if f.isAnyWildcard() {
		return true
	}
	if f.Pattern != nil && !f.Pattern.MatchString(e.pattern.Source()) {
		return false
	}
	if f.Value != "" {
		found := false
		for _, item := range e.items.items {
			if item.serialize() == f.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// applyFilters implements spec.md §3/§4.6: keep entries matching at least
// one include filter (or all, if includes is empty), then drop entries
// matching any exclude filter. An exclude leaves behind entries only;
// per-item removal within a surviving entry is not part of this model —
// whole entries are included or excluded, matching the worked example in
// spec.md §8 scenario 5.
func applyFilters(entries []entry, includes, excludes []Filter) []entry {
	var kept []entry
	for _, e := range entries {
		if len(includes) > 0 {
			ok := false
			for _, f := range includes {
				if f.matches(e) {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
		}
		excluded := false
		for _, f := range excludes {
			if f.matches(e) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}
