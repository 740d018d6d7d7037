package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Fields is a flat field map representing one chart snapshot or delta.
// Keys are field names (title, artist, key, tempo, content, ...).
type Fields map[string]string

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Equal reports whether two field maps hold identical entries.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// ChangedFrom returns the names of fields whose value differs from base,
// including fields added or removed. The result is sorted so callers get
// a deterministic order.
func (f Fields) ChangedFrom(base Fields) []string {
	seen := make(map[string]struct{})
	for k, v := range f {
		if bv, ok := base[k]; !ok || bv != v {
			seen[k] = struct{}{}
		}
	}
	for k := range base {
		if _, ok := f[k]; !ok {
			seen[k] = struct{}{}
		}
	}
	changed := make([]string, 0, len(seen))
	for k := range seen {
		changed = append(changed, k)
	}
	sort.Strings(changed)
	return changed
}

// SortedNames returns all field names in alphabetical order.
func (f Fields) SortedNames() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MarshalStable serializes the map with alphabetically ordered keys so
// identical snapshots always produce byte-identical output.
func (f Fields) MarshalStable() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	names := f.SortedNames()
	buf := []byte{'{'}
	for i, name := range names {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, fmt.Errorf("marshal field name %q: %w", name, err)
		}
		v, err := json.Marshal(f[name])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", name, err)
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

// ParseFields decodes a serialized field map.
func ParseFields(data []byte) (Fields, error) {
	if len(data) == 0 {
		return Fields{}, nil
	}
	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fields: %w", err)
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}
