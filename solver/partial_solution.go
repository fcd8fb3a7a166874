package solver

import "github.com/sigurdm/pub/semver"

// Assignment is one entry in the partial solution: either a decision (a
// package's exact chosen version, recorded as a positive Term) or a
// derivation (a Term implied by unit propagation from some Incompatibility).
type Assignment struct {
	Term          Term
	DecisionLevel int
	Decision      bool
	Cause         *Incompatibility // nil for decisions
	Index         int
}

// partialSolution is the ordered assignment stack plus, per package, the
// merged knowledge (an "allowed" constraint) derived from every assignment
// concerning it so far — this is what relationOf tests terms against,
// following the accumulate-then-relate model PubGrub implementations use
// instead of re-walking the whole assignment list on every check.
type partialSolution struct {
	assignments []*Assignment
	allowed     map[string]semver.Constraint
	decisions   map[string]semver.Version
	level       int
}

func newPartialSolution() *partialSolution {
	return &partialSolution{
		allowed:   map[string]semver.Constraint{},
		decisions: map[string]semver.Version{},
	}
}

func (ps *partialSolution) allowedFor(pkg string) semver.Constraint {
	if c, ok := ps.allowed[pkg]; ok {
		return c
	}
	return semver.Any()
}

// addDerivation appends a derived assignment at the current decision
// level.
func (ps *partialSolution) addDerivation(t Term, cause *Incompatibility) *Assignment {
	a := &Assignment{Term: t, DecisionLevel: ps.level, Cause: cause, Index: len(ps.assignments)}
	ps.assignments = append(ps.assignments, a)
	ps.allowed[t.Package] = ps.allowedFor(t.Package).Intersect(t.impliedAllowed())
	return a
}

// decide commits pkg to version v, incrementing the decision level.
func (ps *partialSolution) decide(pkg string, v semver.Version) *Assignment {
	ps.level++
	t := positive(pkg, semver.FromVersion(v))
	a := &Assignment{Term: t, DecisionLevel: ps.level, Decision: true, Index: len(ps.assignments)}
	ps.assignments = append(ps.assignments, a)
	ps.allowed[pkg] = ps.allowedFor(pkg).Intersect(t.impliedAllowed())
	ps.decisions[pkg] = v
	return a
}

// relation reports how t compares against everything known about its
// package so far.
func (ps *partialSolution) relation(t Term) relation {
	return relationOf(t, ps.allowedFor(t.Package))
}

// satisfies reports whether every term of i is satisfied.
func (ps *partialSolution) satisfies(i *Incompatibility) bool {
	for _, t := range i.Terms {
		if ps.relation(t) != relationSatisfied {
			return false
		}
	}
	return true
}

// unsatisfiedTerm finds the single term of i left unsatisfied while every
// other term is already satisfied — the condition unit propagation acts
// on. ok is false if zero or more-than-one terms are unsatisfied.
func (ps *partialSolution) unsatisfiedTerm(i *Incompatibility) (Term, bool) {
	var found Term
	count := 0
	for _, t := range i.Terms {
		if ps.relation(t) != relationSatisfied {
			found = t
			count++
			if count > 1 {
				return Term{}, false
			}
		}
	}
	return found, count == 1
}

// hasContradiction reports whether any term of i is already contradicted,
// meaning i can never become a conflict and propagation should skip it.
func (ps *partialSolution) hasContradiction(i *Incompatibility) bool {
	for _, t := range i.Terms {
		if ps.relation(t) == relationContradicted {
			return true
		}
	}
	return false
}

// satisfier returns the earliest assignment after which t's relation
// becomes satisfied, replaying assignments for t.Package in order. This is
// the PubGrub "satisfier" used by conflict resolution to find the decision
// level to backjump to.
func (ps *partialSolution) satisfier(t Term) *Assignment {
	allowed := semver.Any()
	for _, a := range ps.assignments {
		if a.Term.Package != t.Package {
			continue
		}
		allowed = allowed.Intersect(a.Term.impliedAllowed())
		if relationOf(t, allowed) == relationSatisfied {
			return a
		}
	}
	return nil
}

// backtrackTo truncates the assignment stack to decision level, and
// recomputes the per-package allowed sets from what remains.
func (ps *partialSolution) backtrackTo(level int) {
	kept := ps.assignments[:0:0]
	for _, a := range ps.assignments {
		if a.DecisionLevel <= level {
			kept = append(kept, a)
		}
	}
	ps.assignments = kept
	ps.allowed = map[string]semver.Constraint{}
	ps.decisions = map[string]semver.Version{}
	for _, a := range ps.assignments {
		ps.allowed[a.Term.Package] = ps.allowedFor(a.Term.Package).Intersect(a.Term.impliedAllowed())
		// Decision assignments always carry an exact-version positive
		// term (see decide), so recovering the chosen version back out
		// is always possible here.
		if a.Decision {
			if v, ok := exactVersion(a.Term.Constraint); ok {
				ps.decisions[a.Term.Package] = v
			}
		}
	}
	ps.level = level
}

// exactVersion reports whether c is the single-version constraint
// FromVersion(v) produces, returning that version.
func exactVersion(c semver.Constraint) (semver.Version, bool) {
	return c.ExactVersion()
}

// decidedPackages returns the set of package names with a committed
// decision.
func (ps *partialSolution) decidedPackages() map[string]bool {
	out := map[string]bool{}
	for pkg := range ps.decisions {
		out[pkg] = true
	}
	return out
}
