package trace

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogfPrefixesAndFormats(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Logf("fetching %s", "foo")

	if got := buf.String(); got != "pub: fetching foo\n" {
		t.Fatalf("Logf: got %q", got)
	}
}

func TestDebugfSuppressedUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Debugf("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}

	l = New(&buf, true)
	l.Debugf("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected debug line, got %q", buf.String())
	}
}

func TestLoglnJoinsArgsWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Logln("a", "b")
	if got := buf.String(); got != "pub: a b\n" {
		t.Fatalf("Logln: got %q", got)
	}
}
