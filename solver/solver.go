package solver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sigurdm/pub/lockfile"
	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/source"
)

// SolveType selects how the lock file constrains the search, per spec
// §4.F "Lock interpretation".
type SolveType uint8

const (
	Get SolveType = iota
	Upgrade
	Downgrade
)

// ConstraintAndCause is an extra constraint injected by a caller (the
// planner, when exploring perturbed inputs) together with a human-readable
// explanation used if it ends up in a failure's blame chain.
type ConstraintAndCause struct {
	Package    string
	Constraint semver.Constraint
	Cause      string
}

// Params are the inputs to one Solve call, named after the teacher's
// SolveParameters.
type Params struct {
	Type SolveType

	// Root is the project being resolved and RootName/RootVersion the
	// synthetic identity the solver gives it — the root is always present
	// and always decided first (spec §4.F).
	Root        source.Spec
	RootName    string
	RootVersion semver.Version

	// Lock is the previous lock file, if any; nil means no prior lock.
	Lock *lockfile.LockFile

	// Unlock names packages whose lock entry should be ignored even under
	// Get (spec §4.F "Non-empty unlock set").
	Unlock map[string]bool

	Extra []ConstraintAndCause

	Registry *source.Registry
}

type solver struct {
	params   Params
	registry *source.Registry

	solution *partialSolution
	incompats []*Incompatibility
	nextID    int

	// specCache memoizes Describe calls per (name, version) so repeated
	// propagation passes don't re-fetch a pubspec already read once in
	// this solve.
	specCache map[string]source.Spec

	// chosenRef records, per package name, the PackageRef the solver has
	// committed to deriving dependencies from — used to detect the
	// "two PackageRanges, same name, different description" conflict
	// (spec §4.F "Source-aware rules").
	chosenRef map[string]source.PackageRef

	// listedVersions caches each package's ListVersions result, both to
	// avoid redundant source/cache round-trips and to populate the
	// result's AvailableVersions.
	listedVersions map[string][]source.PackageId

	attempts  int
	startedAt time.Time
}

// Solve runs the PubGrub main loop (spec §4.F) and returns either a
// *Result or a *Failure.
func Solve(ctx context.Context, p Params) (*Result, error) {
	s := &solver{
		params:         p,
		registry:       p.Registry,
		solution:       newPartialSolution(),
		specCache:      map[string]source.Spec{},
		chosenRef:      map[string]source.PackageRef{},
		listedVersions: map[string][]source.PackageId{},
		startedAt:      time.Now(),
	}

	for i, extra := range p.Extra {
		s.addIncompatibility([]Term{negative(extra.Package, extra.Constraint)}, CauseExtra, extra.Cause)
		_ = i
	}

	s.solution.decide(p.RootName, p.RootVersion)
	s.chosenRef[p.RootName] = source.RootRef(p.RootName)
	s.specCache[key(p.RootName, p.RootVersion)] = p.Root
	if err := s.deriveFromSpec(ctx, p.RootName, p.Root); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conflict, err := s.propagate(ctx)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			resolved, failure := s.resolveConflict(conflict)
			if failure != nil {
				return nil, failure
			}
			s.incompats = append(s.incompats, resolved)
			continue
		}

		pkg, done, err := s.nextUnsatisfied(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			return s.buildResult(), nil
		}

		if err := s.decideNext(ctx, pkg); err != nil {
			return nil, err
		}
	}
}

func key(pkg string, v semver.Version) string { return pkg + "@" + v.String() }

func (s *solver) addIncompatibility(terms []Term, cause Cause, detail string) *Incompatibility {
	s.nextID++
	i := &Incompatibility{ID: s.nextID, Terms: terms, Cause: cause, Detail: detail}
	s.incompats = append(s.incompats, i)
	return i
}

// propagate runs unit propagation to a fixed point, returning the first
// incompatibility found fully satisfied (a conflict), or nil if none.
func (s *solver) propagate(ctx context.Context) (*Incompatibility, error) {
	for {
		changed := false
		for _, inc := range s.incompats {
			if s.solution.hasContradiction(inc) {
				continue
			}
			if s.solution.satisfies(inc) {
				return inc, nil
			}
			if term, ok := s.solution.unsatisfiedTerm(inc); ok {
				neg := term.negate()
				if s.solution.relation(neg) == relationSatisfied {
					continue
				}
				s.solution.addDerivation(neg, inc)
				if err := s.ensureDependenciesKnown(ctx, neg.Package); err != nil {
					return nil, err
				}
				changed = true
			}
		}
		if !changed {
			return nil, nil
		}
	}
}

// ensureDependenciesKnown fetches and folds in pkg's dependencies when pkg
// has a decision whose manifest has not been read yet. Only decisions count:
// a derivation that narrows pkg to a single version does not trigger it.
func (s *solver) ensureDependenciesKnown(ctx context.Context, pkg string) error {
	v, ok := s.solution.decisions[pkg]
	if !ok {
		return nil
	}
	if _, ok := s.specCache[key(pkg, v)]; ok {
		return nil
	}
	ref, ok := s.chosenRef[pkg]
	if !ok {
		return nil
	}
	spec, err := s.describe(ctx, source.PackageId{Ref: ref, Version: v})
	if err != nil {
		return err
	}
	s.specCache[key(pkg, v)] = spec
	return s.deriveFromSpec(ctx, pkg, spec)
}

// deriveFromSpec adds a dependency incompatibility
// {not pkg=v, not dep in range} for every dependency spec declares, plus
// SDK-constraint incompatibilities for its environment requirements (spec
// §4.F "SDK constraints on a selected version produce derived
// incompatibilities referencing the SDK pseudo-package").
func (s *solver) deriveFromSpec(ctx context.Context, pkg string, spec source.Spec) error {
	v := s.solution.decisions[pkg]
	selfTerm := positive(pkg, semver.FromVersion(v))

	deps := spec.Dependencies()
	if pkg == s.params.RootName {
		deps = append(deps, spec.DevDependencies()...) // dev deps only count for the root
	}
	deps = append(deps, spec.Overrides()...)

	for _, dep := range deps {
		if err := s.noteRef(dep.Ref); err != nil {
			return err
		}
		s.addIncompatibility([]Term{selfTerm, negative(dep.Ref.Name, dep.Constraint)}, CauseDependency, "")
	}

	for sdkName, c := range spec.SDKConstraints() {
		sdkPkg := source.SDKRef(sdkName).Name
		s.addIncompatibility([]Term{selfTerm, negative(sdkPkg, c)}, CauseDependency, fmt.Sprintf("%s requires %s SDK %s", pkg, sdkName, c))
	}

	return nil
}

// noteRef records ref as the chosen description for its name, or raises a
// no-versions incompatibility if a different description was already
// chosen for the same name (spec §4.F source-aware rule).
func (s *solver) noteRef(ref source.PackageRef) error {
	existing, ok := s.chosenRef[ref.Name]
	if !ok {
		s.chosenRef[ref.Name] = ref
		return nil
	}
	if !existing.Description.Equal(ref.Description) {
		s.addIncompatibility([]Term{positive(ref.Name, semver.Any())}, CauseNoVersions,
			fmt.Sprintf("%s is resolved from two different sources", ref.Name))
	}
	return nil
}

// nextUnsatisfied picks the next package to decide, per the tie-break
// rules of spec §4.F: fewer matching versions first, then alphabetical.
// done is true once every referenced package has a decision.
func (s *solver) nextUnsatisfied(ctx context.Context) (string, bool, error) {
	candidates := map[string]bool{}
	for pkg := range s.chosenRef {
		if _, decided := s.solution.decisions[pkg]; !decided {
			candidates[pkg] = true
		}
	}
	if len(candidates) == 0 {
		return "", true, nil
	}

	names := make([]string, 0, len(candidates))
	for n := range candidates {
		names = append(names, n)
	}
	sort.Strings(names)

	bestName := ""
	bestCount := -1
	var bestVersions []source.PackageId
	for _, name := range names {
		ref := s.chosenRef[name]
		versions, err := s.listVersions(ctx, ref)
		if err != nil {
			return "", false, err
		}
		allowed := s.solution.allowedFor(name)
		matching := filterMatching(versions, allowed)
		if bestCount == -1 || len(matching) < bestCount {
			bestCount = len(matching)
			bestName = name
			bestVersions = matching
		}
	}
	_ = bestVersions
	return bestName, false, nil
}

func filterMatching(versions []source.PackageId, allowed semver.Constraint) []source.PackageId {
	out := make([]source.PackageId, 0, len(versions))
	for _, id := range versions {
		if allowed.Allows(id.Version) {
			out = append(out, id)
		}
	}
	return out
}

// decideNext picks a concrete version for pkg and commits it as a
// decision, preferring the locked version (unless unlocked), then newest
// (Get/Upgrade) or oldest (Downgrade). If no version satisfies the
// accumulated constraint, it adds a no-versions incompatibility for pkg so
// propagation can act on it next round.
func (s *solver) decideNext(ctx context.Context, pkg string) error {
	ref := s.chosenRef[pkg]
	versions, err := s.listVersions(ctx, ref)
	if err != nil {
		return err
	}
	allowed := s.solution.allowedFor(pkg)
	matching := filterMatching(versions, allowed)

	if len(matching) == 0 {
		s.addIncompatibility([]Term{positive(pkg, allowed)}, CauseNoVersions, fmt.Sprintf("no versions of %s match", pkg))
		return nil
	}

	chosen := s.pickVersion(pkg, matching)
	s.attempts++
	s.solution.decide(pkg, chosen.Version)

	spec, err := s.describe(ctx, chosen)
	if err != nil {
		return err
	}
	s.specCache[key(pkg, chosen.Version)] = spec
	return s.deriveFromSpec(ctx, pkg, spec)
}

func (s *solver) pickVersion(pkg string, matching []source.PackageId) source.PackageId {
	if s.preferLock(pkg) {
		if locked, ok := s.params.Lock.Packages[pkg]; ok {
			for _, id := range matching {
				if id.Version.Equal(locked.Version) {
					return id
				}
			}
		}
	}

	sorted := append([]source.PackageId{}, matching...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version.Less(sorted[j].Version) })
	if s.params.Type == Downgrade {
		return sorted[0]
	}
	return sorted[len(sorted)-1]
}

// preferLock reports whether pkg should prefer its lock-file version, per
// spec §4.F lock interpretation.
func (s *solver) preferLock(pkg string) bool {
	if s.params.Lock == nil {
		return false
	}
	if s.params.Unlock[pkg] {
		return false
	}
	if len(s.params.Unlock) > 0 {
		return true // non-empty unlock set: everything else prefers the lock
	}
	return s.params.Type == Get
}

func (s *solver) listVersions(ctx context.Context, ref source.PackageRef) ([]source.PackageId, error) {
	if v, ok := s.listedVersions[ref.Name]; ok {
		return v, nil
	}
	drv, err := s.registry.DriverFor(ref)
	if err != nil {
		return nil, err
	}
	versions, err := drv.ListVersions(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.listedVersions[ref.Name] = versions
	return versions, nil
}

func (s *solver) describe(ctx context.Context, id source.PackageId) (source.Spec, error) {
	drv, err := s.registry.DriverFor(id.Ref)
	if err != nil {
		return nil, err
	}
	return drv.Describe(ctx, id)
}

// resolveConflict implements spec §4.F "Conflict resolution": bisect the
// conflicting incompatibility against the partial solution to find the
// most recent contributing decision, derive a strictly weaker
// incompatibility, and backjump.
func (s *solver) resolveConflict(conflict *Incompatibility) (*Incompatibility, *Failure) {
	current := conflict
	for {
		if isRootFailure(current, s.params.RootName) {
			return nil, &Failure{Root: current}
		}

		satisfier, term := s.mostRecentSatisfier(current)
		if satisfier == nil {
			// No term has anything left to blame; the incompatibility
			// holds unconditionally.
			return nil, &Failure{Root: current}
		}

		// Keep bisecting through derivations' causes — each step moves
		// strictly earlier in the assignment history — until we reach a
		// decision, which is where backjumping actually has somewhere
		// to land.
		if !satisfier.Decision {
			current = s.combine(current, satisfier, term)
			continue
		}

		previousLevel := s.previousSatisfierLevel(current, satisfier, term)
		s.solution.backtrackTo(previousLevel)
		return current, nil
	}
}

// mostRecentSatisfier finds, among current's terms, the one whose
// assignment (per partialSolution.satisfier) comes latest in the
// assignment order — the term conflict resolution will try to explain
// away next.
func (s *solver) mostRecentSatisfier(current *Incompatibility) (*Assignment, Term) {
	var best *Assignment
	var bestTerm Term
	for _, t := range current.Terms {
		a := s.solution.satisfier(t)
		if a == nil {
			continue
		}
		if best == nil || a.Index > best.Index {
			best = a
			bestTerm = t
		}
	}
	return best, bestTerm
}

// previousSatisfierLevel is the highest decision level among the
// assignments needed to satisfy current's other terms, used as the
// backjump target.
func (s *solver) previousSatisfierLevel(current *Incompatibility, satisfier *Assignment, satisfiedTerm Term) int {
	level := 1
	for _, t := range current.Terms {
		if t.Package == satisfiedTerm.Package {
			continue
		}
		a := s.solution.satisfier(t)
		if a != nil && a.DecisionLevel > level {
			level = a.DecisionLevel
		}
	}
	if level > satisfier.DecisionLevel {
		level = satisfier.DecisionLevel - 1
	}
	if level < 1 {
		level = 1
	}
	return level
}

// combine derives the resolvent of current and satisfier.Cause by
// resolving on satisfiedTerm.Package: the terms of both incompatibilities,
// excluding that package, unioned; terms for other packages appearing in
// both are merged by widening (union) rather than duplicated.
func (s *solver) combine(current *Incompatibility, satisfier *Assignment, satisfiedTerm Term) *Incompatibility {
	cause := satisfier.Cause
	if cause == nil {
		// A decision has no cause; nothing to resolve against, so drop
		// the satisfied term and keep the rest (a safe, if coarser,
		// weakening).
		return s.addIncompatibility(without(current.Terms, satisfiedTerm.Package), CauseConflict, "")
	}

	merged := map[string]Term{}
	for _, t := range current.Terms {
		if t.Package == satisfiedTerm.Package {
			continue
		}
		merged[t.Package] = mergeTerm(merged, t)
	}
	for _, t := range cause.Terms {
		if t.Package == satisfiedTerm.Package {
			continue
		}
		merged[t.Package] = mergeTerm(merged, t)
	}

	out := make([]Term, 0, len(merged))
	for _, t := range merged {
		out = append(out, t)
	}
	result := s.addIncompatibility(out, CauseConflict, "")
	result.Left, result.Right = current, cause
	return result
}

func mergeTerm(existing map[string]Term, t Term) Term {
	if prior, ok := existing[t.Package]; ok && prior.Positive == t.Positive {
		return Term{Package: t.Package, Positive: t.Positive, Constraint: prior.Constraint.Union(t.Constraint)}
	}
	return t
}

func without(terms []Term, pkg string) []Term {
	out := make([]Term, 0, len(terms))
	for _, t := range terms {
		if t.Package != pkg {
			out = append(out, t)
		}
	}
	return out
}

func (s *solver) buildResult() *Result {
	names := make([]string, 0, len(s.solution.decisions))
	for n := range s.solution.decisions {
		names = append(names, n)
	}
	sort.Strings(names)

	ids := make([]source.PackageId, 0, len(names))
	specs := make(map[string]source.Spec, len(names))
	for _, name := range names {
		if name == s.params.RootName {
			continue
		}
		v := s.solution.decisions[name]
		ref := s.chosenRef[name]
		id := source.PackageId{Ref: ref, Version: v}
		ids = append(ids, id)
		specs[name] = s.specCache[key(name, v)]
	}

	available := make(map[string][]source.PackageId, len(s.listedVersions))
	for name, versions := range s.listedVersions {
		if name == s.params.RootName {
			continue
		}
		if s.preferLock(name) {
			if locked, ok := s.params.Lock.Packages[name]; ok {
				available[name] = []source.PackageId{locked}
				continue
			}
		}
		available[name] = versions
	}

	return &Result{
		Packages:          ids,
		Specs:             specs,
		AvailableVersions: available,
		Attempts:          s.attempts,
		Duration:          time.Since(s.startedAt),
	}
}
