package semver

import (
	"fmt"
	"sort"
	"strings"

	mmsemver "github.com/Masterminds/semver/v3"
)

// Constraint is a union of disjoint Ranges, or one of the degenerate
// constraints Any (matches every version) or Empty (matches none). Ranges
// are kept sorted and merged so no two overlap or abut — this keeps
// Allows/Intersect/Union/Difference simple set operations over the slice.
type Constraint struct {
	any    bool
	ranges []Range
}

// Any returns the constraint matching every version.
func Any() Constraint { return Constraint{any: true} }

// Empty returns the constraint matching no version.
func Empty() Constraint { return Constraint{} }

// FromRange builds a constraint from a single range.
func FromRange(r Range) Constraint {
	if r.IsEmpty() {
		return Empty()
	}
	return Constraint{ranges: []Range{r}}
}

// FromVersion builds the exact-match constraint [v, v].
func FromVersion(v Version) Constraint {
	return FromRange(NewRange(v, true, true, v, true, true).WithPreReleaseIncluded())
}

// ParseConstraint interprets a pub-style constraint expression
// (">=1.2.0 <2.0.0", "^1.2.3", "any", or a bare version) using
// Masterminds/semver's parser for the individual comparator syntax, then
// folds the result into our disjoint-range representation.
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "any" {
		return Any(), nil
	}
	if strings.HasPrefix(s, "^") {
		v, err := Parse(strings.TrimPrefix(s, "^"))
		if err != nil {
			return Constraint{}, err
		}
		return FromRange(v.CompatibleRange()), nil
	}

	c, err := mmsemver.NewConstraint(s)
	if err != nil {
		return Constraint{}, fmt.Errorf("invalid constraint %q: %w", s, err)
	}
	return fromMMConstraint(s, c)
}

// fromMMConstraint folds a Masterminds/semver constraint into our union-of-
// ranges form. Masterminds only validates the syntax; the ranges are built
// from the constraint text itself.
func fromMMConstraint(orig string, c *mmsemver.Constraints) (Constraint, error) {
	// Masterminds doesn't expose a structured AST, so build the range
	// directly from the textual operators pub/dart constraints use:
	// ">= a", "<= a", "> a", "< a", "a - b", space-joined ANDs and
	// "||"-joined ORs. Commas are not accepted.
	orParts := strings.Split(orig, "||")
	var out Constraint
	for i, part := range orParts {
		r, err := parseAndClause(part)
		if err != nil {
			return Constraint{}, err
		}
		if i == 0 {
			out = FromRange(r)
		} else {
			out = out.Union(FromRange(r))
		}
	}
	return out, nil
}

func parseAndClause(clause string) (Range, error) {
	r := Range{}
	hyphen := false
	for _, tok := range strings.Fields(clause) {
		switch {
		case strings.HasPrefix(tok, ">="):
			v, err := Parse(strings.TrimPrefix(tok, ">="))
			if err != nil {
				return Range{}, err
			}
			r.hasMin, r.min, r.minIncl = true, v, true
		case strings.HasPrefix(tok, ">"):
			v, err := Parse(strings.TrimPrefix(tok, ">"))
			if err != nil {
				return Range{}, err
			}
			r.hasMin, r.min, r.minIncl = true, v, false
		case strings.HasPrefix(tok, "<="):
			v, err := Parse(strings.TrimPrefix(tok, "<="))
			if err != nil {
				return Range{}, err
			}
			r.hasMax, r.max, r.maxIncl = true, v, true
		case strings.HasPrefix(tok, "<"):
			v, err := Parse(strings.TrimPrefix(tok, "<"))
			if err != nil {
				return Range{}, err
			}
			r.hasMax, r.max, r.maxIncl = true, v, false
		case tok == "-":
			// "a - b": the version before the hyphen is the inclusive lower
			// bound, the version after it the inclusive upper bound.
			hyphen = true
		default:
			v, err := Parse(tok)
			if err != nil {
				return Range{}, err
			}
			if hyphen {
				r.hasMax, r.max, r.maxIncl = true, v, true
				hyphen = false
				continue
			}
			r.hasMin, r.min, r.minIncl = true, v, true
			r.hasMax, r.max, r.maxIncl = true, v, true
		}
	}
	return r, nil
}

// IsAny reports whether c matches every version.
func (c Constraint) IsAny() bool { return c.any }

// IsEmpty reports whether c matches no version.
func (c Constraint) IsEmpty() bool { return !c.any && len(c.ranges) == 0 }

func (c Constraint) String() string {
	switch {
	case c.any:
		return "any"
	case c.IsEmpty():
		return "empty"
	}
	parts := make([]string, len(c.ranges))
	for i, r := range c.ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, " || ")
}

// Allows reports whether v satisfies c.
func (c Constraint) Allows(v Version) bool {
	if c.any {
		return true
	}
	for _, r := range c.ranges {
		if r.Allows(v) {
			return true
		}
	}
	return false
}

// Intersect returns the constraint matching versions allowed by both c and
// o.
func (c Constraint) Intersect(o Constraint) Constraint {
	switch {
	case c.any:
		return o
	case o.any:
		return c
	case c.IsEmpty() || o.IsEmpty():
		return Empty()
	}
	var out []Range
	for _, a := range c.ranges {
		for _, b := range o.ranges {
			if r, ok := a.Intersect(b); ok {
				out = append(out, r)
			}
		}
	}
	return normalize(out)
}

// Union returns the constraint matching versions allowed by either c or o.
func (c Constraint) Union(o Constraint) Constraint {
	switch {
	case c.any || o.any:
		return Any()
	case c.IsEmpty():
		return o
	case o.IsEmpty():
		return c
	}
	all := append(append([]Range{}, c.ranges...), o.ranges...)
	return normalize(all)
}

// Difference returns the constraint matching versions allowed by c but not
// by o.
func (c Constraint) Difference(o Constraint) Constraint {
	if o.IsEmpty() {
		return c
	}
	if o.any {
		return Empty()
	}
	// Subtract each range of o from the running result in turn.
	result := []Range{}
	pending := append([]Range{}, c.ranges...)
	if c.any {
		pending = []Range{{}}
	}
	for _, sub := range o.ranges {
		var next []Range
		for _, r := range pending {
			next = append(next, subtractRange(r, sub)...)
		}
		pending = next
	}
	result = pending
	return normalize(result)
}

// subtractRange removes sub from r, yielding 0, 1, or 2 resulting ranges.
func subtractRange(r, sub Range) []Range {
	inter, ok := r.Intersect(sub)
	if !ok {
		return []Range{r}
	}
	var out []Range
	// left remainder: r.min .. inter.min (none when inter has no lower bound)
	if inter.hasMin {
		left := r
		left.hasMax, left.max, left.maxIncl = true, inter.min, !inter.minIncl
		if !left.IsEmpty() {
			out = append(out, left)
		}
	}
	// right remainder: inter.max .. r.max (none when inter has no upper bound)
	if inter.hasMax {
		right := r
		right.hasMin, right.min, right.minIncl = true, inter.max, !inter.maxIncl
		if !right.IsEmpty() {
			out = append(out, right)
		}
	}
	return out
}

// ExactVersion reports whether c matches exactly one version (the shape
// FromVersion produces: a single closed range whose bounds coincide) and
// returns it.
func (c Constraint) ExactVersion() (Version, bool) {
	if c.any || len(c.ranges) != 1 {
		return Version{}, false
	}
	r := c.ranges[0]
	if !r.hasMin || !r.hasMax || !r.minIncl || !r.maxIncl {
		return Version{}, false
	}
	if !r.min.Equal(r.max) {
		return Version{}, false
	}
	return r.min, true
}

// CompatibleWith implements §4.A's compatibleWith(v) = [v, nextBreaking(v)).
func CompatibleWith(v Version) Constraint {
	return FromRange(v.CompatibleRange())
}

// normalize sorts ranges by lower bound and merges any that touch or
// overlap, maintaining the disjoint-union invariant.
func normalize(ranges []Range) Constraint {
	ranges = filterEmpty(ranges)
	if len(ranges) == 0 {
		return Empty()
	}
	sort.Slice(ranges, func(i, j int) bool {
		a, b := ranges[i], ranges[j]
		if !a.hasMin {
			return b.hasMin
		}
		if !b.hasMin {
			return false
		}
		c := a.min.Compare(b.min)
		if c != 0 {
			return c < 0
		}
		return a.minIncl && !b.minIncl
	})

	merged := []Range{ranges[0]}
	for _, r := range ranges[1:] {
		last := merged[len(merged)-1]
		if last.touchesOrOverlaps(r) {
			merged[len(merged)-1] = last.union(r)
		} else {
			merged = append(merged, r)
		}
	}
	return Constraint{ranges: merged}
}

func filterEmpty(ranges []Range) []Range {
	out := ranges[:0]
	for _, r := range ranges {
		if !r.IsEmpty() {
			out = append(out, r)
		}
	}
	return out
}
