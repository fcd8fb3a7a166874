package fetch

import (
	"io"
	"net/http"
	"os"
)

// logWriter receives the one-time "host appears down" message (spec
// §4.E). A package var rather than a field on HttpConfig keeps the signal
// visible across the whole process the way the teacher's own `log`
// package writes to a shared destination; tests may swap it out.
var logWriter io.Writer = os.Stderr

// applyMetadataHeaders injects the user-agent, and — only for requests to
// the configured hosted origin and only when not running under CI — the
// pub-specific metadata headers from spec §4.E: operating system, command
// name, session UUID, optional dependency-type tag, optional environment
// tag.
func applyMetadataHeaders(req *http.Request, cfg *HttpConfig) {
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	}

	if cfg.CI {
		return
	}
	if cfg.HostedURL != "" && req.URL.Host != hostOf(cfg.HostedURL) {
		return
	}

	req.Header.Set("X-Pub-OS", osName())
	req.Header.Set("X-Pub-Command", cfg.CommandName)
	req.Header.Set("X-Pub-Session-ID", cfg.SessionID)
	if cfg.DependencyType != "" {
		req.Header.Set("X-Pub-Dependency-Type", cfg.DependencyType)
	}
	if cfg.Environment != "" {
		req.Header.Set("X-Pub-Environment", cfg.Environment)
	}
}

func osName() string {
	return runtimeGOOS()
}
