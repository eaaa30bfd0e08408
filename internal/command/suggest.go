package command

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

const maxSuggestions = 3

// Suggest returns registered names close to name, best match first. Hidden
// commands are never suggested.
func (m *Manager) Suggest(name string) []string {
	type candidate struct {
		name string
		dist int
	}
	limit := 2
	switch {
	case len(name) <= 2:
		limit = 1
	case len(name) > 6:
		limit = min(len(name)/3, 3)
	}

	var found []candidate
	for _, c := range m.Commands() {
		if c.Hidden() || c.name == name {
			continue
		}
		d := levenshtein.ComputeDistance(name, c.name)
		if d <= limit || (len(name) >= 2 && strings.HasPrefix(c.name, name)) {
			found = append(found, candidate{name: c.name, dist: d})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].dist != found[j].dist {
			return found[i].dist < found[j].dist
		}
		return found[i].name < found[j].name
	})
	if len(found) > maxSuggestions {
		found = found[:maxSuggestions]
	}
	out := make([]string, len(found))
	for i, c := range found {
		out[i] = c.name
	}
	return out
}
