package report

import (
	"encoding/json"
	"strings"
	"testing"
)

func decodeReport(t *testing.T, payload string) *Report {
	t.Helper()
	var rpt Report
	if err := json.Unmarshal([]byte(payload), &rpt); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	return &rpt
}

func TestUnmarshal_KeepsExtraFields(t *testing.T) {
	rpt := decodeReport(t, `{
		"stacktrace": [{"message": "boom", "stacktrace": []}],
		"logs": "emlw",
		"screenshots": ["aW1n"],
		"application": "checkout",
		"version": "2.1.0"
	}`)

	if len(rpt.CauseFrames) != 1 {
		t.Fatalf("expected 1 cause frame, got %d", len(rpt.CauseFrames))
	}
	if rpt.Logs != "emlw" {
		t.Errorf("expected logs to be kept, got %q", rpt.Logs)
	}
	if len(rpt.Screenshots) != 1 {
		t.Errorf("expected 1 screenshot, got %d", len(rpt.Screenshots))
	}
	if len(rpt.Extra) != 2 {
		t.Fatalf("expected 2 extra fields, got %d: %v", len(rpt.Extra), rpt.Extra)
	}
	if rpt.Extra["application"] != "checkout" {
		t.Errorf("expected application=checkout, got %v", rpt.Extra["application"])
	}
	for _, reserved := range []string{"stacktrace", "logs", "screenshots"} {
		if _, ok := rpt.Extra[reserved]; ok {
			t.Errorf("reserved field %q leaked into Extra", reserved)
		}
	}
}

func TestSummary_LastFrameIsRootCause(t *testing.T) {
	rpt := decodeReport(t, `{"stacktrace": [
		{"message": "wrapper failed", "stacktrace": []},
		{"message": "NullPointerException at Foo", "stacktrace": []}
	]}`)

	summary, err := rpt.Summary()
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary != "NullPointerException at Foo" {
		t.Errorf("expected root cause message, got %q", summary)
	}
}

func TestSummary_NoFrames(t *testing.T) {
	rpt := &Report{}
	if _, err := rpt.Summary(); err != ErrNoCauseFrames {
		t.Errorf("expected ErrNoCauseFrames, got %v", err)
	}
}

func TestRenderStacktrace_SingleFrameNoLines(t *testing.T) {
	rpt := decodeReport(t, `{"stacktrace": [{"message": "NullPointerException at Foo", "stacktrace": []}]}`)

	got := rpt.RenderStacktrace()
	want := "Caused by: NullPointerException at Foo\n"
	if got != want {
		t.Errorf("RenderStacktrace = %q, want %q", got, want)
	}
}

func TestRenderStacktrace_SkipsNativeLines(t *testing.T) {
	rpt := decodeReport(t, `{"stacktrace": [{
		"message": "boom",
		"stacktrace": [
			{"className": "com.example.Service", "methodName": "call", "fileName": "Service.java", "lineNumber": 42, "nativeMethod": false},
			{"className": "sun.reflect.NativeMethodAccessorImpl", "methodName": "invoke0", "fileName": "NativeMethodAccessorImpl.java", "lineNumber": -2, "nativeMethod": true},
			{"className": "com.example.Handler", "methodName": "handle", "fileName": "Handler.java", "lineNumber": 10, "nativeMethod": false}
		]
	}]}`)

	got := rpt.RenderStacktrace()
	if strings.Contains(got, "NativeMethodAccessorImpl") {
		t.Errorf("native method line should be excluded:\n%s", got)
	}
	if !strings.Contains(got, "\tat com.example.Service.call(Service.java:42)\n") {
		t.Errorf("missing rendered stack line:\n%s", got)
	}
	if !strings.Contains(got, "\tat com.example.Handler.handle(Handler.java:10)\n") {
		t.Errorf("missing rendered stack line:\n%s", got)
	}
}

func TestRenderStacktrace_FramesInOriginalOrder(t *testing.T) {
	rpt := decodeReport(t, `{"stacktrace": [
		{"message": "outer", "stacktrace": []},
		{"message": "inner", "stacktrace": []}
	]}`)

	got := rpt.RenderStacktrace()
	outerAt := strings.Index(got, "outer")
	innerAt := strings.Index(got, "inner")
	if outerAt < 0 || innerAt < 0 || outerAt > innerAt {
		t.Errorf("frames should render in original order:\n%s", got)
	}
}

func TestRenderStacktrace_Deterministic(t *testing.T) {
	rpt := decodeReport(t, `{"stacktrace": [{
		"message": "boom",
		"stacktrace": [{"className": "a.B", "methodName": "c", "fileName": "B.java", "lineNumber": 1, "nativeMethod": false}]
	}]}`)

	first := rpt.RenderStacktrace()
	for i := 0; i < 5; i++ {
		if got := rpt.RenderStacktrace(); got != first {
			t.Fatalf("rendering not deterministic: %q vs %q", got, first)
		}
	}
}

func TestDetails_SortedAndIndented(t *testing.T) {
	rpt := decodeReport(t, `{
		"stacktrace": [{"message": "boom", "stacktrace": []}],
		"logs": "emlw",
		"version": "2.1.0",
		"application": "checkout"
	}`)

	got := rpt.Details()
	want := "  application: checkout\n  version: 2.1.0\n"
	if got != want {
		t.Errorf("Details = %q, want %q", got, want)
	}
}

func TestDetails_EmptyWithoutExtras(t *testing.T) {
	rpt := decodeReport(t, `{"stacktrace": [{"message": "boom", "stacktrace": []}]}`)
	if got := rpt.Details(); got != "" {
		t.Errorf("expected empty details, got %q", got)
	}
}

func TestDecodedLogs(t *testing.T) {
	rpt := &Report{Logs: "emlwZGF0YQ=="} // "zipdata"
	data, err := rpt.DecodedLogs()
	if err != nil {
		t.Fatalf("DecodedLogs: %v", err)
	}
	if string(data) != "zipdata" {
		t.Errorf("expected decoded archive, got %q", data)
	}

	empty := &Report{}
	data, err = empty.DecodedLogs()
	if err != nil || data != nil {
		t.Errorf("expected nil for absent logs, got %v, %v", data, err)
	}

	bad := &Report{Logs: "not base64!!"}
	if _, err := bad.DecodedLogs(); err == nil {
		t.Error("expected error for invalid base64")
	}
}
