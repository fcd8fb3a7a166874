package semver

import "fmt"

// Range is a single contiguous interval of versions with optional inclusive
// or exclusive bounds. An absent bound is unbounded on that side. The
// includePreRelease flag controls whether pre-release versions are visible
// at all within the range, beyond the default visibility rule described on
// Range.Allows.
type Range struct {
	hasMin  bool
	min     Version
	minIncl bool

	hasMax  bool
	max     Version
	maxIncl bool

	// includePreRelease widens pre-release visibility to any version in
	// the numeric span, not just pre-releases of the bound's own triple.
	includePreRelease bool
}

// NewRange builds a range from explicit bounds. Pass hasMin/hasMax false to
// leave that side unbounded.
func NewRange(min Version, minIncl, hasMin bool, max Version, maxIncl, hasMax bool) Range {
	return Range{min: min, minIncl: minIncl, hasMin: hasMin, max: max, maxIncl: maxIncl, hasMax: hasMax}
}

// WithPreReleaseIncluded returns a copy of r with pre-release versions
// visible across its whole span, not just adjacent to a pre-release bound.
func (r Range) WithPreReleaseIncluded() Range {
	r.includePreRelease = true
	return r
}

func (r Range) String() string {
	lo := "(-inf"
	if r.hasMin {
		b := "("
		if r.minIncl {
			b = "["
		}
		lo = fmt.Sprintf("%s%s", b, r.min)
	}
	hi := "+inf)"
	if r.hasMax {
		b := ")"
		if r.maxIncl {
			b = "]"
		}
		hi = fmt.Sprintf("%s%s", r.max, b)
	}
	return lo + ", " + hi
}

// Allows reports whether v lies within r, applying the pre-release
// visibility rule from §4.A: a pre-release version is excluded unless the
// range's lower bound is a pre-release of the same (major,minor,patch)
// triple, or includePreRelease is set.
func (r Range) Allows(v Version) bool {
	if r.hasMin {
		if r.minIncl {
			if v.Less(r.min) {
				return false
			}
		} else if v.Less(r.min) || v.Equal(r.min) {
			return false
		}
	}
	if r.hasMax {
		if r.maxIncl {
			if r.max.Less(v) {
				return false
			}
		} else if r.max.Less(v) || r.max.Equal(v) {
			return false
		}
	}

	if v.IsPreRelease() && !r.includePreRelease {
		if !(r.hasMin && v.sameTriple(r.min) && r.min.IsPreRelease()) {
			return false
		}
	}

	return true
}

// IsEmpty reports whether r can never be satisfied: a bounded range whose
// min exceeds (or, for exclusive bounds, meets) its max.
func (r Range) IsEmpty() bool {
	if !r.hasMin || !r.hasMax {
		return false
	}
	c := r.min.Compare(r.max)
	if c > 0 {
		return true
	}
	if c == 0 {
		return !(r.minIncl && r.maxIncl)
	}
	return false
}

// Intersect returns the overlap of r and o. ok is false if the intersection
// is empty.
func (r Range) Intersect(o Range) (result Range, ok bool) {
	result.includePreRelease = r.includePreRelease || o.includePreRelease

	result.hasMin, result.min, result.minIncl = tighterMin(r, o)
	result.hasMax, result.max, result.maxIncl = tighterMax(r, o)

	if result.IsEmpty() {
		return Range{}, false
	}
	return result, true
}

func tighterMin(r, o Range) (has bool, v Version, incl bool) {
	switch {
	case !r.hasMin:
		return o.hasMin, o.min, o.minIncl
	case !o.hasMin:
		return r.hasMin, r.min, r.minIncl
	}
	c := r.min.Compare(o.min)
	switch {
	case c > 0:
		return true, r.min, r.minIncl
	case c < 0:
		return true, o.min, o.minIncl
	default:
		return true, r.min, r.minIncl && o.minIncl
	}
}

func tighterMax(r, o Range) (has bool, v Version, incl bool) {
	switch {
	case !r.hasMax:
		return o.hasMax, o.max, o.maxIncl
	case !o.hasMax:
		return r.hasMax, r.max, r.maxIncl
	}
	c := r.max.Compare(o.max)
	switch {
	case c < 0:
		return true, r.max, r.maxIncl
	case c > 0:
		return true, o.max, o.maxIncl
	default:
		return true, r.max, r.maxIncl && o.maxIncl
	}
}

// touchesOrOverlaps reports whether r and o can be merged into a single
// contiguous range by Union: they overlap, or their bounds abut exactly
// (one's exclusive max equals the other's inclusive min, or vice versa).
func (r Range) touchesOrOverlaps(o Range) bool {
	if _, ok := r.Intersect(o); ok {
		return true
	}
	// r entirely below o: check abutment.
	if r.hasMax && o.hasMin && r.max.Equal(o.min) && (r.maxIncl || o.minIncl) {
		return true
	}
	if o.hasMax && r.hasMin && o.max.Equal(r.min) && (o.maxIncl || r.minIncl) {
		return true
	}
	return false
}

// union merges r and o, which must touch or overlap, into their convex
// hull.
func (r Range) union(o Range) Range {
	out := Range{includePreRelease: r.includePreRelease || o.includePreRelease}

	switch {
	case !r.hasMin || !o.hasMin:
		out.hasMin = false
	default:
		c := r.min.Compare(o.min)
		switch {
		case c < 0:
			out.hasMin, out.min, out.minIncl = true, r.min, r.minIncl
		case c > 0:
			out.hasMin, out.min, out.minIncl = true, o.min, o.minIncl
		default:
			out.hasMin, out.min, out.minIncl = true, r.min, r.minIncl || o.minIncl
		}
	}

	switch {
	case !r.hasMax || !o.hasMax:
		out.hasMax = false
	default:
		c := r.max.Compare(o.max)
		switch {
		case c > 0:
			out.hasMax, out.max, out.maxIncl = true, r.max, r.maxIncl
		case c < 0:
			out.hasMax, out.max, out.maxIncl = true, o.max, o.maxIncl
		default:
			out.hasMax, out.max, out.maxIncl = true, r.max, r.maxIncl || o.maxIncl
		}
	}

	return out
}
