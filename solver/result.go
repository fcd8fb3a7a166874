package solver

import (
	"fmt"
	"strings"
	"time"

	"github.com/sigurdm/pub/source"
)

// Result is the outcome of a successful Solve call, per spec §3
// SolveResult.
type Result struct {
	Packages []source.PackageId
	Specs    map[string]source.Spec

	// AvailableVersions records, for each package the solver actually
	// considered, the version list it chose from — truncated to just the
	// locked version when that package was never unlocked (spec §3
	// "possibly truncated when a package was locked and never unlocked").
	AvailableVersions map[string][]source.PackageId

	Attempts int
	Duration time.Duration
}

// Failure is produced when the solver cannot satisfy the root's
// constraints (spec §4.F, §7 ResolutionFailure). Root is the final
// incompatibility the conflict-resolution loop reduced the search to; its
// Left/Right fields form the derivation DAG used to render a blame chain.
type Failure struct {
	Root *Incompatibility
}

func (f *Failure) Error() string {
	return "version solving failed: " + f.Explain()
}

// Explain renders Root's derivation DAG as a minimal chain of causes, per
// spec §4.F "the explanation is rendered as a minimal blame chain".
func (f *Failure) Explain() string {
	var lines []string
	seen := map[*Incompatibility]bool{}
	var walk func(i *Incompatibility, depth int)
	walk = func(i *Incompatibility, depth int) {
		if i == nil || seen[i] {
			return
		}
		seen[i] = true
		lines = append(lines, fmt.Sprintf("%s because %s", strings.Repeat("  ", depth), i.String()))
		walk(i.Left, depth+1)
		walk(i.Right, depth+1)
	}
	walk(f.Root, 0)
	return strings.Join(lines, "\n")
}
