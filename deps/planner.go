// Package deps implements component G, the dependency-services planner:
// given the current pubspec and lock file, it re-runs the solver under
// four perturbations of the manifest (compatible, singleBreaking,
// multiBreaking, smallestUpdate) and reports, per package, what the new
// resolution would pin and whether the pubspec's own constraint would need
// widening to keep it there.
//
// Grounded on the teacher's status.go (lock-vs-manifest diff machinery,
// plain-struct report shape, no builder pattern) generalized into repeated
// solver invocations per spec §4.G, which has no teacher analogue — dep
// never shipped a dependency-services report.
package deps

import (
	"context"
	"fmt"

	"github.com/sigurdm/pub/lockfile"
	"github.com/sigurdm/pub/semver"
	"github.com/sigurdm/pub/solver"
	"github.com/sigurdm/pub/source"
)

// Option names one of the four upgrade plans spec §4.G defines.
type Option uint8

const (
	Compatible Option = iota
	SingleBreaking
	MultiBreaking
	SmallestUpdate
)

func (o Option) String() string {
	switch o {
	case Compatible:
		return "compatible"
	case SingleBreaking:
		return "single-breaking"
	case MultiBreaking:
		return "multi-breaking"
	case SmallestUpdate:
		return "smallest-update"
	default:
		return "unknown"
	}
}

// Record is one package's entry in an upgrade plan's report, per spec
// §4.G's "{name, version, kind, source, constraintBumped,
// constraintWidened, constraintBumpedIfNeeded, previousVersion,
// previousConstraint, previousSource}".
type Record struct {
	Name string

	// Version is nil for a package the new resolution removed entirely;
	// Previous* still describes what L had pinned for it.
	Version *semver.Version
	Kind    lockfile.Dependency
	Source  string

	// ConstraintBumped is true when this plan deliberately resolved the
	// package to a version its own pubspec constraint (before
	// perturbation) does not allow — the targeted package of
	// singleBreaking, every direct dependency under multiBreaking, or
	// any direct dependency under smallestUpdate.
	ConstraintBumped bool

	// ConstraintWidened holds the pubspec constraint the caller would
	// need to write to keep Version resolvable under `compatible` next
	// time, present whenever ConstraintBumped or
	// ConstraintBumpedIfNeeded is true.
	ConstraintWidened *semver.Constraint

	// ConstraintBumpedIfNeeded is true when Version already satisfies
	// the package's own constraint in this plan, but a newer version
	// exists that would require widening the constraint to reach —
	// informational, not acted on by this plan.
	ConstraintBumpedIfNeeded bool

	PreviousVersion    *semver.Version
	PreviousConstraint *semver.Constraint
	PreviousSource     string
}

// Plan is the outcome of exploring one Option: either a solver Result (with
// its per-package Records) or a Failure explaining why no resolution
// exists under this perturbation.
type Plan struct {
	Option  Option
	Records []Record
	Result  *solver.Result
	Failure *solver.Failure
}

// Planner holds the identity and registry a set of plans are computed
// against — the same root name/version/registry spec §4.F's solver.Params
// needs, factored out so callers don't repeat them per Option.
type Planner struct {
	RootName    string
	RootVersion semver.Version
	Registry    *source.Registry
}

// Compatible solves with root's constraints intact, comparing the result
// against lock — spec §4.G "solve with P unchanged (constraints intact),
// comparing against L".
func (pl *Planner) Compatible(ctx context.Context, root source.Spec, lock *lockfile.LockFile) (*Plan, error) {
	result, failure, err := pl.solve(ctx, solver.Get, root, lock, nil, nil)
	if err != nil {
		return nil, err
	}
	return pl.buildPlan(Compatible, root, lock, result, failure), nil
}

// SingleBreaking strips pkg's own constraint's upper bound and re-solves,
// using lock only as a hint (spec §4.G "solve with L as hint").
func (pl *Planner) SingleBreaking(ctx context.Context, root source.Spec, lock *lockfile.LockFile, pkg string) (*Plan, error) {
	perturbed := perturbedSpec{Spec: root, transform: widenUpperBoundFor(pkg)}
	result, failure, err := pl.solve(ctx, solver.Upgrade, perturbed, lock, map[string]bool{pkg: true}, nil)
	if err != nil {
		return nil, err
	}
	return pl.buildPlan(SingleBreaking, root, lock, result, failure), nil
}

// MultiBreaking strips the upper bound from every direct dependency and
// re-solves, using lock only as a hint.
func (pl *Planner) MultiBreaking(ctx context.Context, root source.Spec, lock *lockfile.LockFile) (*Plan, error) {
	perturbed := perturbedSpec{Spec: root, transform: widenUpperBoundFor("")}
	result, failure, err := pl.solve(ctx, solver.Upgrade, perturbed, lock, nil, nil)
	if err != nil {
		return nil, err
	}
	return pl.buildPlan(MultiBreaking, root, lock, result, failure), nil
}

// SmallestUpdate constructs P'' where every direct dependency's floor is
// raised to its currently locked version, then solves for the oldest
// acceptable resolution (SolveType.downgrade) under the caller-supplied
// extra constraint that makes the current lock unsatisfiable — spec §4.G
// "if an extra-constraint disallows the current version".
func (pl *Planner) SmallestUpdate(ctx context.Context, root source.Spec, lock *lockfile.LockFile, pkg string, extra []solver.ConstraintAndCause) (*Plan, error) {
	perturbed := perturbedSpec{Spec: root, transform: floorAtLocked(lock)}
	result, failure, err := pl.solve(ctx, solver.Downgrade, perturbed, lock, nil, extra)
	if err != nil {
		return nil, err
	}
	return pl.buildPlan(SmallestUpdate, root, lock, result, failure), nil
}

func (pl *Planner) solve(ctx context.Context, t solver.SolveType, root source.Spec, lock *lockfile.LockFile, unlock map[string]bool, extra []solver.ConstraintAndCause) (*solver.Result, *solver.Failure, error) {
	result, err := solver.Solve(ctx, solver.Params{
		Type:        t,
		Root:        root,
		RootName:    pl.RootName,
		RootVersion: pl.RootVersion,
		Lock:        lock,
		Unlock:      unlock,
		Extra:       extra,
		Registry:    pl.Registry,
	})
	if err != nil {
		if failure, ok := err.(*solver.Failure); ok {
			return nil, failure, nil
		}
		return nil, nil, fmt.Errorf("solving %s plan: %w", pl.RootName, err)
	}
	return result, nil, nil
}

// perturbedSpec overrides the direct-dependency lists of an existing
// source.Spec, leaving PackageName/SDKConstraints untouched.
type perturbedSpec struct {
	source.Spec
	transform func(source.PackageRange) source.PackageRange
}

func (p perturbedSpec) Dependencies() []source.PackageRange {
	return mapRanges(p.Spec.Dependencies(), p.transform)
}

func (p perturbedSpec) DevDependencies() []source.PackageRange {
	return mapRanges(p.Spec.DevDependencies(), p.transform)
}

func (p perturbedSpec) Overrides() []source.PackageRange {
	return mapRanges(p.Spec.Overrides(), p.transform)
}

func mapRanges(in []source.PackageRange, f func(source.PackageRange) source.PackageRange) []source.PackageRange {
	out := make([]source.PackageRange, len(in))
	for i, r := range in {
		out[i] = f(r)
	}
	return out
}

// widenUpperBoundFor returns a transform stripping the upper bound of
// pkg's constraint, or of every dependency's constraint when pkg == "".
func widenUpperBoundFor(pkg string) func(source.PackageRange) source.PackageRange {
	return func(r source.PackageRange) source.PackageRange {
		if pkg != "" && r.Ref.Name != pkg {
			return r
		}
		r.Constraint = r.Constraint.WithoutUpperBound()
		return r
	}
}

// floorAtLocked returns a transform replacing each dependency's
// constraint with "at least its currently locked version", leaving
// dependencies absent from lock (newly added) untouched.
func floorAtLocked(lock *lockfile.LockFile) func(source.PackageRange) source.PackageRange {
	return func(r source.PackageRange) source.PackageRange {
		if lock == nil {
			return r
		}
		locked, ok := lock.Packages[r.Ref.Name]
		if !ok {
			return r
		}
		r.Constraint = semver.AtLeast(locked.Version)
		return r
	}
}

// buildPlan assembles the per-package Records for one solved (or failed)
// Option, diffing the new resolution against lock.
func (pl *Planner) buildPlan(opt Option, originalRoot source.Spec, lock *lockfile.LockFile, result *solver.Result, failure *solver.Failure) *Plan {
	plan := &Plan{Option: opt, Result: result, Failure: failure}
	if result == nil {
		return plan
	}

	originalConstraints, kinds := collectDirect(originalRoot)

	var lockedPackages map[string]source.PackageId
	if lock != nil {
		lockedPackages = lock.Packages
	}

	next := lockfile.New()
	for _, id := range result.Packages {
		next.Packages[id.Ref.Name] = id
	}

	for _, id := range result.Packages {
		name := id.Ref.Name
		v := id.Version
		rec := Record{
			Name:    name,
			Version: &v,
			Kind:    kinds[name],
			Source:  id.Ref.Description.Kind.String(),
		}
		if locked, ok := lockedPackages[name]; ok {
			lv := locked.Version
			rec.PreviousVersion = &lv
			rec.PreviousSource = locked.Ref.Description.Kind.String()
		}
		if orig, ok := originalConstraints[name]; ok {
			rec.PreviousConstraint = &orig
			rec.annotateConstraint(orig, id.Version, result.AvailableVersions[name])
		}
		plan.Records = append(plan.Records, rec)
	}

	if lock != nil {
		_, removed, _ := lockfile.Diff(lock, next)
		for _, d := range removed {
			rec := Record{Name: d.Name}
			pv := d.Previous.Version
			rec.PreviousVersion = &pv
			rec.PreviousSource = d.Previous.Ref.Description.Kind.String()
			if orig, ok := originalConstraints[d.Name]; ok {
				rec.PreviousConstraint = &orig
			}
			plan.Records = append(plan.Records, rec)
		}
	}

	return plan
}

// annotateConstraint fills ConstraintBumped/ConstraintWidened/
// ConstraintBumpedIfNeeded for a direct dependency, per spec §4.G's
// widening algorithm.
func (rec *Record) annotateConstraint(original semver.Constraint, chosen semver.Version, available []source.PackageId) {
	if !original.Allows(chosen) {
		widened := original.WidenToAllow(chosen)
		rec.ConstraintWidened = &widened
		rec.ConstraintBumped = true
		return
	}

	for _, a := range available {
		if a.Version.Compare(chosen) > 0 && !original.Allows(a.Version) {
			widened := original.WidenToAllow(a.Version)
			rec.ConstraintWidened = &widened
			rec.ConstraintBumpedIfNeeded = true
			return
		}
	}
}

// collectDirect gathers root's direct dependencies' original constraints
// and dependency-kind annotations, prior to any perturbation.
func collectDirect(root source.Spec) (constraints map[string]semver.Constraint, kinds map[string]lockfile.Dependency) {
	constraints = map[string]semver.Constraint{}
	kinds = map[string]lockfile.Dependency{}
	for _, d := range root.Dependencies() {
		constraints[d.Ref.Name] = d.Constraint
		kinds[d.Ref.Name] = lockfile.DirectMain
	}
	for _, d := range root.DevDependencies() {
		constraints[d.Ref.Name] = d.Constraint
		kinds[d.Ref.Name] = lockfile.DirectDev
	}
	for _, d := range root.Overrides() {
		constraints[d.Ref.Name] = d.Constraint
		kinds[d.Ref.Name] = lockfile.DirectOverridden
	}
	return constraints, kinds
}
