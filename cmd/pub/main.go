// Command pub is a thin runnable entrypoint over the core packages: it
// wires together the source registry, package cache, and entrypoint
// coordinator and exposes exactly the "get" operation spec §4.H defines.
// Argument parsing, workspace listing, publishing, and every other
// surface a real pub CLI exposes are out of scope (spec §1 Non-goals);
// this exists to ground the module in something runnable.
//
// Grounded on the teacher's cmd/dep/main.go (flag.FlagSet-per-subcommand
// dispatch, exit codes via a Run method returning int rather than calling
// os.Exit inline), trimmed from dep's multi-command table to pub's single
// "get" command.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sigurdm/pub/fetch"
	"github.com/sigurdm/pub/internal/trace"
	"github.com/sigurdm/pub/pub"
	"github.com/sigurdm/pub/pubcache"
	"github.com/sigurdm/pub/source"
	"github.com/sigurdm/pub/source/gitdriver"
	"github.com/sigurdm/pub/source/hosted"
	"github.com/sigurdm/pub/source/pathdriver"
)

// Exit codes per spec §7 "maps them to exit codes".
const (
	exitSuccess    = 0
	exitGeneric    = 1
	exitData       = 65
	exitUnavailable = 69
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pub", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: pub get")
	}
	if err := fs.Parse(args); err != nil {
		return exitGeneric
	}
	if fs.NArg() == 0 || fs.Arg(0) != "get" {
		fs.Usage()
		return exitGeneric
	}

	logger := trace.New(stderr, os.Getenv("PUB_VERBOSE") != "")

	wd, err := os.Getwd()
	if err != nil {
		logger.Logln(err)
		return exitGeneric
	}

	logger.Debugf("resolving dependencies in %s", wd)
	exitCode, err := runGet(context.Background(), wd)
	if err != nil {
		logger.Logln(err)
	}
	return exitCode
}

// runGet builds the registry/cache/coordinator stack and runs
// EnsureUpToDate against the current directory, translating the result
// into one of the exit codes spec §7 defines.
func runGet(ctx context.Context, workingDir string) (int, error) {
	cacheRoot := defaultCacheRoot()
	httpCfg := fetch.NewHttpConfig("get")
	cache := pubcache.New(cacheRoot, httpCfg)

	reg := source.NewRegistry()
	reg.Register(hosted.New(httpCfg, cache))
	reg.Register(gitdriver.New(filepath.Join(cacheRoot, "git")))
	reg.Register(pathdriver.New(workingDir))
	reg.Register(source.NewSDKDriver())

	proj, err := pub.LoadProject(workingDir, reg)
	if err != nil {
		return exitData, err
	}

	co := &pub.Coordinator{Registry: reg, Cache: cache}
	if _, err := co.EnsureUpToDate(ctx, proj); err != nil {
		switch err.(type) {
		case *pub.ResolutionFailure:
			return exitData, err
		default:
			return exitUnavailable, err
		}
	}
	return exitSuccess, nil
}

func defaultCacheRoot() string {
	if root := os.Getenv("PUB_CACHE"); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pub-cache"
	}
	return filepath.Join(home, ".pub-cache")
}
