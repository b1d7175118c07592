package intune

import (
	"sort"
	"strings"
)

// Filter narrows a policy listing.
type Filter struct {
	Search       string
	Type         PolicyType
	AssignedOnly bool
}

// Apply returns the policies that match every set criterion. Search is a
// case-insensitive substring match on name and description.
func (f Filter) Apply(policies []*Policy) []*Policy {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p == nil {
			continue
		}
		if f.Type != "" && p.Type != f.Type {
			continue
		}
		if f.AssignedOnly && !p.Assigned() {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name()), search) &&
			!strings.Contains(strings.ToLower(p.Description()), search) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Stats summarizes a policy listing.
type Stats struct {
	Total    int                `json:"total"`
	Assigned int                `json:"assigned"`
	ByType   map[PolicyType]int `json:"by_type"`
}

// ComputeStats counts policies overall, by type and with assignments.
func ComputeStats(policies []*Policy) Stats {
	stats := Stats{ByType: map[PolicyType]int{}}
	for _, p := range policies {
		if p == nil {
			continue
		}
		stats.Total++
		stats.ByType[p.Type]++
		if p.Assigned() {
			stats.Assigned++
		}
	}
	return stats
}

// SortByName orders policies by name, then id.
func SortByName(policies []*Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		a, b := strings.ToLower(policies[i].Name()), strings.ToLower(policies[j].Name())
		if a != b {
			return a < b
		}
		return policies[i].ID() < policies[j].ID()
	})
}

// SelectByID returns the policies whose ids are in ids, in listing order,
// plus any ids that matched nothing.
func SelectByID(policies []*Policy, ids []string) ([]*Policy, []string) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			wanted[id] = false
		}
	}

	out := make([]*Policy, 0, len(wanted))
	for _, p := range policies {
		if _, ok := wanted[p.ID()]; ok {
			out = append(out, p)
			wanted[p.ID()] = true
		}
	}

	var missing []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if seen, ok := wanted[id]; ok && !seen {
			missing = append(missing, id)
			wanted[id] = true
		}
	}
	return out, missing
}
