package htd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NameKind selects the generated fallback label for unmapped ids.
type NameKind string

// Name map kinds.
const (
	NameKindZone   NameKind = "Zone"
	NameKindSource NameKind = "Source"
)

// UnusedSentinel marks an id as tracked but hidden from presentation.
// Matching is case-insensitive.
const UnusedSentinel = "Unused"

// NameMap resolves zone or source ids to friendly names.
//
// An id is in one of three states: mapped to a name (visible), mapped to
// the "Unused" sentinel (tracked but hidden), or unmapped (visible with a
// generated "Zone N"/"Source N" default).
type NameMap struct {
	kind  NameKind
	names map[int]string
}

// ParseNameMap parses a configured mapping string into a NameMap.
//
// Two grammars are accepted, tried in order:
//
//	JSON object:     {"1":"Kitchen","2":"Patio"}
//	Comma-separated: 1=Kitchen,2=Patio
//
// The first successful grammar wins; grammars are never mixed. Entries
// without a positive integer key are skipped with a warning; a malformed
// entry never aborts parsing of the remaining entries and never fails
// startup.
//
// Parameters:
//   - kind: NameKindZone or NameKindSource (controls default labels)
//   - raw: The configured mapping string (may be empty)
//   - logger: Optional warning sink for skipped entries
//
// Returns:
//   - *NameMap: Resolver over the parsed entries
func ParseNameMap(kind NameKind, raw string, logger Logger) *NameMap {
	m := &NameMap{kind: kind, names: make(map[int]string)}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m
	}

	var obj map[string]string
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		for k, v := range obj {
			id, err := strconv.Atoi(strings.TrimSpace(k))
			if err != nil || id <= 0 {
				warn(logger, "skipping name mapping entry: key is not a positive integer",
					"kind", string(kind), "key", k)
				continue
			}
			m.names[id] = strings.TrimSpace(v)
		}
		return m
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, found := strings.Cut(item, "=")
		if !found {
			warn(logger, "skipping name mapping entry: missing '='",
				"kind", string(kind), "entry", item)
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || id <= 0 {
			warn(logger, "skipping name mapping entry: key is not a positive integer",
				"kind", string(kind), "key", k)
			continue
		}
		m.names[id] = strings.TrimSpace(v)
	}
	return m
}

// Resolve returns the friendly name and visibility for an id.
//
// Unmapped ids resolve to a generated "Zone N"/"Source N" default and are
// visible. Ids mapped to the "Unused" sentinel (or an empty name) are
// hidden but continue to be tracked, updated and logged by the engine;
// visibility affects presentation only.
func (m *NameMap) Resolve(id int) (name string, visible bool) {
	mapped, ok := m.names[id]
	if !ok {
		return fmt.Sprintf("%s %d", m.kind, id), true
	}
	if mapped == "" || strings.EqualFold(mapped, UnusedSentinel) {
		return mapped, false
	}
	return mapped, true
}

// Len returns the number of explicit entries in the map.
func (m *NameMap) Len() int {
	return len(m.names)
}

func warn(logger Logger, msg string, keysAndValues ...any) {
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
