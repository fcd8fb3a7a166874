// Package fetch implements the hosted-archive fetch pipeline: an
// authenticated, retrying, bounded-concurrency HTTP client that streams
// responses, enforces stall and size limits, validates CRC32C checksums,
// and produces the user-actionable error taxonomy from spec §7.
//
// Grounded on the teacher's network calls in remote.go, generalized per
// spec §4.E; the teacher never retried, so the backoff curve here is
// built directly from spec §4.E rather than adapted from teacher code
// (see DESIGN.md).
package fetch

import (
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxRetries is the fallback attempt budget (spec §6
// PUB_MAX_HTTP_RETRIES, default 8).
const DefaultMaxRetries = 8

// GateSlots is the size of the global concurrency gate shared by fetch and
// pubcache (spec §4.C, §5).
const GateSlots = 16

// HttpConfig is the explicit value replacing the teacher's global mutable
// HTTP client/retry-count/session-id (spec §9 Design Notes). Constructed
// once by the entrypoint and threaded through every fetch call; test
// doubles substitute Transport.
type HttpConfig struct {
	// UserAgent identifies this client to the origin.
	UserAgent string

	// HostedURL is the configured default registry origin (PUB_HOSTED_URL);
	// metadata headers are only injected for requests to this origin.
	HostedURL string

	// SessionID is a per-process identifier included in metadata headers.
	SessionID string

	// CI disables metadata headers when true (spec §4.E, §6).
	CI bool

	// Environment is appended as a header when non-empty (PUB_ENVIRONMENT).
	Environment string

	// CommandName is the invoking subcommand, included in metadata headers.
	CommandName string

	// MaxRetries bounds the number of retry attempts (PUB_MAX_HTTP_RETRIES).
	MaxRetries int

	// Gate is the shared 16-slot concurrency limiter (spec §5). Shared with
	// pubcache so there is exactly one global gate, not one per package.
	Gate *semaphore.Weighted

	// Transport, if set, overrides the default http.Client transport. Used
	// by tests to inject a stub.
	Transport http.RoundTripper

	// DependencyType, when non-empty, is the ambient task-local value
	// described in spec §5/§9: carried on this HttpConfig value rather
	// than in a process-global.
	DependencyType string

	onceTracker sync.Once
	tracker     *hostDownTracker
}

// NewHttpConfig builds an HttpConfig from the environment, per spec §6.
func NewHttpConfig(commandName string) *HttpConfig {
	cfg := &HttpConfig{
		UserAgent:   "Dart pub " + uuid.NewString()[:8],
		HostedURL:   envOr("PUB_HOSTED_URL", "https://pub.dev"),
		SessionID:   uuid.NewString(),
		CI:          isTruthy(os.Getenv("CI")),
		Environment: os.Getenv("PUB_ENVIRONMENT"),
		CommandName: commandName,
		MaxRetries:  DefaultMaxRetries,
		Gate:        semaphore.NewWeighted(GateSlots),
	}
	if v := os.Getenv("PUB_MAX_HTTP_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func isTruthy(v string) bool {
	switch v {
	case "", "0", "false", "False", "FALSE":
		return false
	default:
		return true
	}
}

// client returns the http.Client to issue one attempt with, honoring a
// test-injected Transport.
func (c *HttpConfig) client(followRedirects bool) *http.Client {
	cl := &http.Client{Transport: c.Transport}
	if !followRedirects {
		cl.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return cl
}
