package integration

import (
	"log/slog"
	"strings"
)

// Select returns the definitions enabled for a request, in catalog order.
//
// A definition is enabled when its key matches one of the requested
// integrations, ignoring case. Definitions that require web search are only
// enabled when webSearch is set. Requested names matching no definition are
// ignored.
func Select(defs []*Definition, requested []string, webSearch bool) []*Definition {
	wanted := make(map[string]bool, len(requested))
	for _, name := range requested {
		if key := strings.ToLower(strings.TrimSpace(name)); key != "" {
			wanted[key] = true
		}
	}

	var enabled []*Definition
	matched := make(map[string]bool, len(wanted))
	for _, d := range defs {
		key := d.Key()
		if !wanted[key] {
			continue
		}
		matched[key] = true
		if d.Disabled {
			slog.Debug("Skipping disabled integration", "agent", d.AgentName)
			continue
		}
		if d.RequiresWebSearch && !webSearch {
			slog.Debug("Skipping integration without web search", "agent", d.AgentName)
			continue
		}
		enabled = append(enabled, d)
	}

	for key := range wanted {
		if !matched[key] {
			slog.Debug("Ignoring unknown integration", "integration", key)
		}
	}
	return enabled
}

// Find returns the definition with the given key or agent name.
func Find(defs []*Definition, name string) (*Definition, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, d := range defs {
		if d.Key() == key || strings.EqualFold(d.AgentName, name) {
			return d, true
		}
	}
	return nil, false
}

// Keys returns the integration keys of defs.
func Keys(defs []*Definition) []string {
	keys := make([]string, len(defs))
	for i, d := range defs {
		keys[i] = d.Key()
	}
	return keys
}
