package explorer

import (
	"bytes"
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedExplorer(t *testing.T, r *fakeReplayer, c *fakeChecker) (*Explorer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	e := New(r, c, Options{
		ScratchDir:     t.TempDir(),
		Out:            new(bytes.Buffer),
		RunID:          "run-1",
		TracerProvider: tp,
	})
	return e, rec
}

func spanAttr(s sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSpansPerPhase(t *testing.T) {
	r := newFakeReplayer(ones(4)...)
	c := newFakeChecker(r, TruncateKey{2})
	e, rec := newTracedExplorer(t, r, c)
	if _, err := e.Explore(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := map[string]int64{
		"explorer.AcrossSyscallAtomicity": 4,
		"explorer.Ordering":               1,
		"explorer.Atomicity":              0,
		"explorer.Explore":                5,
	}
	spans := rec.Ended()
	if len(spans) != len(want) {
		t.Fatalf("got %d spans, want %d", len(spans), len(want))
	}
	var root sdktrace.ReadOnlySpan
	for _, s := range spans {
		checks, ok := want[s.Name()]
		if !ok {
			t.Errorf("unexpected span %q", s.Name())
			continue
		}
		delete(want, s.Name())
		if v, ok := spanAttr(s, "run_id"); !ok || v.AsString() != "run-1" {
			t.Errorf("%s: run_id = %v", s.Name(), v.Emit())
		}
		if v, ok := spanAttr(s, "checks"); !ok || v.AsInt64() != checks {
			t.Errorf("%s: checks = %v, want %d", s.Name(), v.Emit(), checks)
		}
		if s.Status().Code == codes.Error {
			t.Errorf("%s: error status %q", s.Name(), s.Status().Description)
		}
		if s.Name() == "explorer.Explore" {
			root = s
		}
	}
	if root == nil {
		t.Fatal("no span for the whole exploration")
	}
	for _, s := range spans {
		if s != root && s.Parent().SpanID() != root.SpanContext().SpanID() {
			t.Errorf("%s is not a child of the exploration span", s.Name())
		}
	}
}

func TestSpanErrorStatus(t *testing.T) {
	r := newFakeReplayer(ones(3)...)
	e, rec := newTracedExplorer(t, r, newFakeChecker(r))
	if _, err := e.Ordering(context.Background()); err == nil {
		t.Fatal("ordering before across-syscall atomicity succeeded")
	}
	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "explorer.Ordering" {
		t.Fatalf("got spans %v", spans)
	}
	s := spans[0]
	if s.Status().Code != codes.Error || s.Status().Description != errPhaseOrder.Error() {
		t.Errorf("got status %+v", s.Status())
	}
	if v, ok := spanAttr(s, "run_id"); !ok || v.AsString() != "run-1" {
		t.Errorf("run_id = %v", v.Emit())
	}
	if len(s.Events()) == 0 || s.Events()[0].Name != "exception" {
		t.Errorf("error not recorded as an event: %v", s.Events())
	}
}
