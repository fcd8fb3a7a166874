package fetch

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Request describes one logical HTTP operation, retried internally by
// Fetch per spec §4.E.
type Request struct {
	URL    string
	Method string
	Header http.Header

	// Body, if non-nil, produces a fresh request body stream for each
	// attempt (idempotent upload per spec §5 "Ordering").
	Body func() (io.ReadCloser, error)

	// MaxBytes, if non-zero, rejects (without streaming) any response
	// whose declared Content-Length exceeds it.
	MaxBytes int64

	// DecodeError, if set, is invoked for a 4xx response (other than
	// 406/429-long) to produce the error returned to the caller; its
	// result is wrapped in FetchErrorWithResponse.Message. If nil, the raw
	// body is attached instead.
	DecodeError func(statusCode int, header http.Header, body []byte) string

	// NoRedirects, when true, stops the client from following redirects so
	// publish flows can capture the Location header instead (spec §4.E;
	// FollowRedirects "defaults to true" there, so the zero value of this
	// field must mean "follow").
	NoRedirects bool

	// PubAccept marks this request as using the pub API Accept header, so
	// a 406 response is recognized as VersionMismatchError rather than a
	// generic 4xx.
	PubAccept bool
}

// Decode consumes the validated response stream and headers, producing a
// value of type T. Must be idempotent (attempt N's result entirely
// replaces attempt N-1's per spec §5) and must consume the whole stream.
type Decode[T any] func(header http.Header, body io.Reader) (T, error)

// hostDownTracker records the hosts for which a one-time "host appears
// down" message has already been emitted, per spec §4.E "After the third retry against a host,
// emit a one-time ... message." Keyed per HttpConfig since each config
// instance is one logical client.
type hostDownTracker struct {
	seen map[string]bool
}

// Fetch issues req, retrying per the policy in spec §4.E, and returns the
// decoded value or a terminal error from the taxonomy in spec §7.
func Fetch[T any](ctx context.Context, cfg *HttpConfig, req Request, decode Decode[T]) (T, error) {
	var zero T

	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	followRedirects := !req.NoRedirects

	tracker := cfg.downTracker()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := cfg.Gate.Acquire(ctx, 1); err != nil {
			return zero, &FetchError{URL: req.URL, Cause: err}
		}
		v, err := attemptOnce(ctx, cfg, req, decode, followRedirects)
		cfg.Gate.Release(1)

		if err == nil {
			return v, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		if attempt == 3 {
			tracker.noteThirdRetry(hostOf(req.URL))
		}

		delay := backoffFor(attempt, err)
		select {
		case <-ctx.Done():
			return zero, &FetchError{URL: req.URL, Cause: ctx.Err()}
		case <-time.After(delay):
		}
	}

	if rse, ok := lastErr.(*retryableStatusError); ok {
		return zero, &FetchError{URL: req.URL, Cause: rse}
	}
	return zero, lastErr
}

func attemptOnce[T any](ctx context.Context, cfg *HttpConfig, req Request, decode Decode[T], followRedirects bool) (T, error) {
	var zero T

	headerCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var bodyReader io.ReadCloser
	if req.Body != nil {
		br, err := req.Body()
		if err != nil {
			return zero, &FetchError{URL: req.URL, Cause: err}
		}
		bodyReader = br
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return zero, fmt.Errorf("building request for %s: %w", req.URL, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	applyMetadataHeaders(httpReq, cfg)

	resp, err := cfg.client(followRedirects).Do(httpReq.WithContext(headerCtx))
	if err != nil {
		return zero, &FetchError{URL: req.URL, Cause: err}
	}
	defer resp.Body.Close()

	if req.MaxBytes > 0 && resp.ContentLength > req.MaxBytes {
		return zero, fmt.Errorf("response for %s exceeds max size %d bytes (content-length %d)", req.URL, req.MaxBytes, resp.ContentLength)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decodeValidated(req, resp, decode)

	case resp.StatusCode == http.StatusNotAcceptable && req.PubAccept:
		return zero, &VersionMismatchError{URL: req.URL}

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header)
		if retryAfter != nil && *retryAfter > 30 {
			body, _ := io.ReadAll(resp.Body)
			return zero, &FetchErrorWithResponse{URL: req.URL, StatusCode: resp.StatusCode, Body: body}
		}
		return zero, &retryableStatusError{statusCode: resp.StatusCode, retryAfter: retryAfter}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(resp.Body)
		msg := ""
		if req.DecodeError != nil {
			msg = req.DecodeError(resp.StatusCode, resp.Header, body)
		}
		return zero, &FetchErrorWithResponse{URL: req.URL, StatusCode: resp.StatusCode, Body: body, Message: msg}

	case resp.StatusCode >= 500:
		return zero, &retryableStatusError{statusCode: resp.StatusCode}

	default:
		body, _ := io.ReadAll(resp.Body)
		return zero, &FetchErrorWithResponse{URL: req.URL, StatusCode: resp.StatusCode, Body: body}
	}
}

func decodeValidated[T any](req Request, resp *http.Response, decode Decode[T]) (T, error) {
	var zero T

	body := io.ReadCloser(resp.Body)
	body = newStallWatcher(body, resp.ContentLength)
	defer body.Close()

	wantCRC, hasCRC := parseGoogHash(resp.Header)
	var crcReader io.Reader = body
	h := crc32.New(crc32.MakeTable(crc32.Castagnoli))
	if hasCRC {
		crcReader = io.TeeReader(body, h)
	}

	v, err := decode(resp.Header, crcReader)
	if err != nil {
		if isStallErr(err) {
			return zero, &FetchError{URL: req.URL, Cause: err}
		}
		// A malformed body from decode is retryable per spec §4.E.
		return zero, &FetchError{URL: req.URL, Cause: err}
	}

	if hasCRC {
		if got := h.Sum32(); got != wantCRC {
			return zero, &FetchError{URL: req.URL, Cause: fmt.Errorf("checksum mismatch: got %08x want %08x", got, wantCRC)}
		}
	}

	return v, nil
}

func isStallErr(err error) bool {
	return err == errStalled
}

// parseGoogHash extracts the crc32c value from an x-goog-hash header of
// the form "crc32c=<base64>,md5=<base64>" (spec §4.E, §6).
func parseGoogHash(h http.Header) (uint32, bool) {
	raw := h.Get("x-goog-hash")
	if raw == "" {
		return 0, false
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "crc32c=") {
			continue
		}
		b64 := strings.TrimPrefix(part, "crc32c=")
		decoded, err := base64.StdEncoding.DecodeString(b64)
		if err != nil || len(decoded) != 4 {
			return 0, false
		}
		return binary.BigEndian.Uint32(decoded), true
	}
	return 0, false
}

func parseRetryAfter(h http.Header) *int {
	v := h.Get("Retry-After")
	if v == "" {
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return &n
	}
	if t, err := http.ParseTime(v); err == nil {
		secs := int(time.Until(t).Seconds())
		if secs < 0 {
			secs = 0
		}
		return &secs
	}
	return nil
}

// backoffFor implements the retry curve from spec §4.E: attempts 0-2 use
// exponential backoff with jitter; attempts 3+ use a flat 30s; a
// server-specified Retry-After always overrides the computed delay.
func backoffFor(attempt int, err error) time.Duration {
	if rse, ok := err.(*retryableStatusError); ok && rse.retryAfter != nil {
		return time.Duration(*rse.retryAfter) * time.Second
	}
	if attempt < 3 {
		base := 500 * math.Pow(1.5, float64(attempt))
		jitter := time.Duration(rand.Intn(500)) * time.Millisecond
		return time.Duration(base)*time.Millisecond + jitter
	}
	return 30 * time.Second
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func (c *HttpConfig) downTracker() *hostDownTracker {
	c.onceTracker.Do(func() {
		c.tracker = &hostDownTracker{seen: map[string]bool{}}
	})
	return c.tracker
}

func (t *hostDownTracker) noteThirdRetry(host string) {
	if t.seen[host] {
		return
	}
	t.seen[host] = true
	fmt.Fprintf(logWriter, "%s appears to be down; retrying...\n", host)
}
