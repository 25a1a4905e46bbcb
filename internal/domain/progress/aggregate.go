package progress

// Percentage returns the share of completed modules in the group as an
// integer in [0, 100], rounded half up.
func Percentage(s *Snapshot, g Group) int {
	size := g.Size()
	if size == 0 {
		return 0
	}
	done := completed(s, g)
	// round(100*done/size) with halves rounded up, without floats.
	return (200*done + size) / (2 * size)
}

// Rollup summarizes which groups are fully completed.
type Rollup struct {
	Practice bool `json:"completed_practice"`
	Security bool `json:"completed_security"`
	Theory   bool `json:"completed_theory"`
	All      bool `json:"completed_all"`
}

// RollupOf derives group completion from the snapshot.
func RollupOf(s *Snapshot, c *Catalog) Rollup {
	var r Rollup
	all := true
	for _, g := range c.Groups() {
		complete := completed(s, g) == g.Size()
		switch g.Name {
		case GroupPractice:
			r.Practice = complete
		case GroupSecurity:
			r.Security = complete
		case GroupTheory:
			r.Theory = complete
		}
		all = all && complete
	}
	r.All = all
	return r
}

func completed(s *Snapshot, g Group) int {
	done := 0
	for _, m := range g.Modules {
		if s.IsComplete(m) {
			done++
		}
	}
	return done
}
