package semver

// WithoutUpperBound returns c with every range's upper bound removed, the
// perturbation the dependency-services planner applies to a direct
// dependency's constraint before re-solving (singleBreaking/multiBreaking).
func (c Constraint) WithoutUpperBound() Constraint {
	if c.any || c.IsEmpty() {
		return c
	}
	out := make([]Range, len(c.ranges))
	for i, r := range c.ranges {
		r.hasMax = false
		out[i] = r
	}
	return normalize(out)
}

// AtLeast returns the constraint "v <= x", used by smallestUpdate to pin
// every direct dependency no lower than its currently locked version before
// re-solving with SolveType downgrade.
func AtLeast(v Version) Constraint {
	return FromRange(NewRange(v, true, true, Version{}, false, false))
}

// WidenToAllow implements the planner's constraint-widening algorithm: if c
// already allows v, c is returned unchanged. Otherwise the bound nearest v
// is pushed out just far enough to admit it — the upper bound to
// v.NextBreaking().FirstPreRelease() if v sits at or above the current
// max, the lower bound down to v itself if v sits at or below the current
// min — collapsing to compatibleWith(min) (or compatibleWith(v), for the
// downward case) when the resulting window turns out to be exactly one
// major tick wide. A v that lies between two of c's ranges leaves c
// unchanged.
func (c Constraint) WidenToAllow(v Version) Constraint {
	if c.Allows(v) || c.any {
		return c
	}
	if c.IsEmpty() {
		return FromRange(v.CompatibleRange())
	}

	first := c.ranges[0]
	last := c.ranges[len(c.ranges)-1]

	switch {
	case last.hasMax && !v.Less(last.max):
		newMax := v.NextBreaking().FirstPreRelease()
		widened := NewRange(first.min, first.minIncl, first.hasMin, newMax, false, true)
		if first.hasMin && rangesEqual(widened, first.min.CompatibleRange()) {
			return CompatibleWith(first.min)
		}
		return FromRange(widened)

	case first.hasMin && !first.min.Less(v):
		widened := NewRange(v, true, true, last.max, last.maxIncl, last.hasMax)
		if rangesEqual(widened, v.CompatibleRange()) {
			return CompatibleWith(v)
		}
		return FromRange(widened)

	default:
		return c
	}
}

// LowerBound returns the lowest version c's envelope admits, used by the
// package-configuration writer to derive a dependency's declared SDK floor
// (spec §6 "languageVersion"). ok is false for any/empty or an unbounded
// envelope.
func (c Constraint) LowerBound() (Version, bool) {
	if c.any || c.IsEmpty() {
		return Version{}, false
	}
	r := c.ranges[0]
	if !r.hasMin {
		return Version{}, false
	}
	return r.min, true
}

func rangesEqual(a, b Range) bool {
	if a.hasMin != b.hasMin || a.hasMax != b.hasMax {
		return false
	}
	if a.hasMin && (!a.min.Equal(b.min) || a.minIncl != b.minIncl) {
		return false
	}
	if a.hasMax && (!a.max.Equal(b.max) || a.maxIncl != b.maxIncl) {
		return false
	}
	return true
}
