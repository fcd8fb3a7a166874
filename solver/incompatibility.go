package solver

import "strings"

// Cause explains why an incompatibility was introduced.
type Cause uint8

const (
	CauseRoot Cause = iota
	CauseDependency
	CauseConflict
	CauseDerived
	CauseNoVersions
	CauseExtra
)

// Incompatibility is a conjunction of Terms asserted to never all hold at
// once, per spec §4.F. Incompatibilities form a DAG via Left/Right: a
// derived incompatibility records the two incompatibilities conflict
// resolution combined to produce it, so failures can be rendered as a
// blame chain.
type Incompatibility struct {
	ID     int
	Terms  []Term
	Cause  Cause
	Detail string // human-readable cause, for ConstraintAndCause and no-versions incompatibilities

	Left  *Incompatibility
	Right *Incompatibility
}

func (i *Incompatibility) String() string {
	parts := make([]string, len(i.Terms))
	for idx, t := range i.Terms {
		sign := "not "
		if t.Positive {
			sign = ""
		}
		parts[idx] = sign + t.Package + " " + t.Constraint.String()
	}
	return strings.Join(parts, " ∧ ") // conjunction
}

// termFor returns the term of i concerning pkg, if any.
func (i *Incompatibility) termFor(pkg string) (Term, bool) {
	for _, t := range i.Terms {
		if t.Package == pkg {
			return t, true
		}
	}
	return Term{}, false
}

// isRootFailure reports whether i's only remaining term concerns
// rootName. Root is always decided first, at level 1, by a fixed
// exact-version term, so any incompatibility that reduces to a single
// root term can never be resolved further — the signal that resolution
// has failed.
func isRootFailure(i *Incompatibility, rootName string) bool {
	return len(i.Terms) == 1 && i.Terms[0].Package == rootName
}
