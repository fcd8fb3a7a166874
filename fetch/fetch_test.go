package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/semaphore"
)

type stubTransport struct {
	responses []func(*http.Request) (*http.Response, error)
	calls     int32
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	i := atomic.AddInt32(&s.calls, 1) - 1
	if int(i) >= len(s.responses) {
		i = int32(len(s.responses) - 1)
	}
	return s.responses[i](req)
}

func textResponse(status int, body string) (*http.Response, error) {
	return &http.Response{
		StatusCode:    status,
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		Header:        http.Header{},
		ContentLength: int64(len(body)),
	}, nil
}

func testConfig(t *stubTransport) *HttpConfig {
	return &HttpConfig{
		UserAgent:  "pub-test",
		HostedURL:  "https://pub.dev",
		MaxRetries: DefaultMaxRetries,
		Gate:       semaphore.NewWeighted(GateSlots),
		Transport:  t,
		CI:         true,
	}
}

func decodeString(_ http.Header, body io.Reader) (string, error) {
	b, err := io.ReadAll(body)
	return string(b), err
}

func TestRetryOn5xxThenSucceed(t *testing.T) {
	tr := &stubTransport{responses: []func(*http.Request) (*http.Response, error){
		func(*http.Request) (*http.Response, error) { return textResponse(503, "") },
		func(*http.Request) (*http.Response, error) { return textResponse(503, "") },
		func(*http.Request) (*http.Response, error) { return textResponse(200, "ok") },
	}}
	cfg := testConfig(tr)

	got, err := Fetch(context.Background(), cfg, Request{URL: "https://pub.dev/thing"}, decodeString)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q, want %q", got, "ok")
	}
	if tr.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", tr.calls)
	}
}

func Test406IsFatalVersionMismatch(t *testing.T) {
	tr := &stubTransport{responses: []func(*http.Request) (*http.Response, error){
		func(*http.Request) (*http.Response, error) { return textResponse(406, "") },
	}}
	cfg := testConfig(tr)

	_, err := Fetch(context.Background(), cfg, Request{URL: "https://pub.dev/thing", PubAccept: true}, decodeString)
	if _, ok := err.(*VersionMismatchError); !ok {
		t.Fatalf("expected VersionMismatchError, got %T (%v)", err, err)
	}
	if tr.calls != 1 {
		t.Fatalf("406 must not be retried, got %d attempts", tr.calls)
	}
}

func TestRetryAfterLongIsNonRetryable(t *testing.T) {
	tr := &stubTransport{responses: []func(*http.Request) (*http.Response, error){
		func(*http.Request) (*http.Response, error) {
			resp, _ := textResponse(429, "")
			resp.Header.Set("Retry-After", "3600")
			return resp, nil
		},
	}}
	cfg := testConfig(tr)

	_, err := Fetch(context.Background(), cfg, Request{URL: "https://pub.dev/thing"}, decodeString)
	if _, ok := err.(*FetchErrorWithResponse); !ok {
		t.Fatalf("expected FetchErrorWithResponse, got %T (%v)", err, err)
	}
	if tr.calls != 1 {
		t.Fatalf("long retry-after must not be retried, got %d attempts", tr.calls)
	}
}

func TestChecksumMismatchThenSuccess(t *testing.T) {
	goodBody := "archive-bytes"
	goodCRC := crcOf(goodBody)

	tr := &stubTransport{responses: []func(*http.Request) (*http.Response, error){
		func(*http.Request) (*http.Response, error) {
			resp, _ := textResponse(200, goodBody)
			resp.Header.Set("x-goog-hash", "crc32c=AAAAAA==")
			return resp, nil
		},
		func(*http.Request) (*http.Response, error) {
			resp, _ := textResponse(200, goodBody)
			resp.Header.Set("x-goog-hash", "crc32c="+goodCRC)
			return resp, nil
		},
		func(*http.Request) (*http.Response, error) {
			t.Fatal("third attempt should never be issued")
			return nil, nil
		},
	}}
	cfg := testConfig(tr)

	got, err := Fetch(context.Background(), cfg, Request{URL: "https://pub.dev/thing"}, decodeString)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if got != goodBody {
		t.Fatalf("got %q, want %q", got, goodBody)
	}
	if tr.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", tr.calls)
	}
}
