package triage

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"trace-triage/logger"
	"trace-triage/report"
)

type attachCall struct {
	issueKey string
	filename string
	data     []byte
}

type fakeTracker struct {
	createTitle string
	createDesc  string
	createKey   string
	createErr   error

	envIssue string
	envValue string
	envErr   error

	transitioned []string

	sprint     string
	sprintErr  error
	sprintHits int

	attachments []attachCall
	attachErr   error
}

func (f *fakeTracker) Create(_ context.Context, title, description string) (string, error) {
	f.createTitle = title
	f.createDesc = description
	return f.createKey, f.createErr
}

func (f *fakeTracker) UpdateEnvironment(_ context.Context, issueKey, environment string) error {
	f.envIssue = issueKey
	f.envValue = environment
	return f.envErr
}

func (f *fakeTracker) Transition(_ context.Context, issueKey string) error {
	f.transitioned = append(f.transitioned, issueKey)
	return nil
}

func (f *fakeTracker) ActiveSprint(_ context.Context) (string, error) {
	f.sprintHits++
	return f.sprint, f.sprintErr
}

func (f *fakeTracker) Attach(_ context.Context, issueKey, filename string, data []byte) error {
	f.attachments = append(f.attachments, attachCall{issueKey: issueKey, filename: filename, data: data})
	return f.attachErr
}

func newTestSyncer(tr *fakeTracker) *Syncer {
	s := NewSyncer(tr, "Exception", logger.Nop())
	s.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestSync_CreatesNewIssue(t *testing.T) {
	tr := &fakeTracker{createKey: "TT-7"}
	s := newTestSyncer(tr)

	rpt := testReport(t, "boom")
	rpt.Extra = map[string]any{"application": "checkout"}

	out, err := s.Sync(context.Background(), rpt, Verdict{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !out.Created || out.IssueKey != "TT-7" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if tr.createTitle != "Exception: boom" {
		t.Errorf("title = %q", tr.createTitle)
	}
	if !strings.Contains(tr.createDesc, "Details:\n  application: checkout\n") {
		t.Errorf("description missing details block:\n%s", tr.createDesc)
	}
	if !strings.Contains(tr.createDesc, "{noformat}"+rpt.RenderStacktrace()+"{noformat}") {
		t.Errorf("description missing trace block:\n%s", tr.createDesc)
	}
	if tr.envIssue != "" || len(tr.transitioned) != 0 || tr.sprintHits != 0 {
		t.Error("create path must not touch existing-issue operations")
	}
}

func TestSync_CreateTruncatesLongTrace(t *testing.T) {
	tr := &fakeTracker{createKey: "TT-7"}
	s := newTestSyncer(tr)

	rpt := &report.Report{
		CauseFrames: []report.CauseFrame{{Message: strings.Repeat("x", report.MaxDescriptionLength+500)}},
	}

	if _, err := s.Sync(context.Background(), rpt, Verdict{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	blocks := strings.Split(tr.createDesc, "{noformat}")
	if len(blocks) != 3 {
		t.Fatalf("description missing trace block:\n%s", tr.createDesc)
	}
	if got := len(blocks[1]); got != report.MaxDescriptionLength {
		t.Errorf("embedded trace is %d characters, want %d", got, report.MaxDescriptionLength)
	}
}

func TestSync_CreateErrorIsFatal(t *testing.T) {
	tr := &fakeTracker{createErr: errors.New("tracker down")}
	s := newTestSyncer(tr)

	if _, err := s.Sync(context.Background(), testReport(t, "boom"), Verdict{}); err == nil {
		t.Fatal("expected create error")
	}
	if len(tr.attachments) != 0 {
		t.Error("no attachments should upload when create fails")
	}
}

func TestSync_UpdatesOpenDuplicate(t *testing.T) {
	tr := &fakeTracker{}
	s := newTestSyncer(tr)

	verdict := Verdict{Duplicate: true, IssueKey: "TT-3", Status: "Open",
		Environment: "Count: 3\nLast: 2026-08-01 10:00:00"}
	out, err := s.Sync(context.Background(), testReport(t, "boom"), verdict)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if out.Created || out.IssueKey != "TT-3" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if tr.envIssue != "TT-3" {
		t.Errorf("environment updated on %q, want TT-3", tr.envIssue)
	}
	if tr.envValue != "Count: 4\nLast: 2026-08-30 12:00:00" {
		t.Errorf("environment = %q", tr.envValue)
	}
	if tr.sprintHits != 0 {
		t.Error("open issues must not trigger a sprint lookup")
	}
	if len(tr.transitioned) != 0 {
		t.Error("open issues must not be transitioned")
	}
}

func TestSync_ReopensClosedDuplicateOutsideSprint(t *testing.T) {
	tr := &fakeTracker{sprint: "Sprint 42"}
	s := newTestSyncer(tr)

	verdict := Verdict{Duplicate: true, IssueKey: "TT-3", Status: "Closed", FixVersion: "Sprint 40"}
	if _, err := s.Sync(context.Background(), testReport(t, "boom"), verdict); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(tr.transitioned) != 1 || tr.transitioned[0] != "TT-3" {
		t.Errorf("expected TT-3 to be reopened, got %v", tr.transitioned)
	}
}

func TestSync_ClosedDuplicateFixedInActiveSprintStaysClosed(t *testing.T) {
	tr := &fakeTracker{sprint: "Sprint 42"}
	s := newTestSyncer(tr)

	verdict := Verdict{Duplicate: true, IssueKey: "TT-3", Status: "resolved", FixVersion: "Sprint 42"}
	if _, err := s.Sync(context.Background(), testReport(t, "boom"), verdict); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(tr.transitioned) != 0 {
		t.Error("issue fixed in the active sprint must stay closed")
	}
	if tr.envIssue != "TT-3" {
		t.Error("occurrence counter should still update")
	}
}

func TestSync_SprintLookupErrorIsFatal(t *testing.T) {
	tr := &fakeTracker{sprintErr: errors.New("board unavailable")}
	s := newTestSyncer(tr)

	verdict := Verdict{Duplicate: true, IssueKey: "TT-3", Status: "Closed"}
	if _, err := s.Sync(context.Background(), testReport(t, "boom"), verdict); err == nil {
		t.Fatal("expected sprint lookup error")
	}
	if tr.envIssue != "" {
		t.Error("environment must not update when the reopen decision fails")
	}
}

func TestSync_AttachmentsUploaded(t *testing.T) {
	tr := &fakeTracker{createKey: "TT-7"}
	s := newTestSyncer(tr)

	rpt := testReport(t, "boom")
	rpt.Logs = base64.StdEncoding.EncodeToString([]byte("zipdata"))
	rpt.Screenshots = []string{
		base64.StdEncoding.EncodeToString([]byte("img1")),
		base64.StdEncoding.EncodeToString([]byte("img2")),
	}

	if _, err := s.Sync(context.Background(), rpt, Verdict{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(tr.attachments) != 4 {
		t.Fatalf("expected 4 attachments, got %d", len(tr.attachments))
	}
	if tr.attachments[0].filename != "stacktrace.txt" || string(tr.attachments[0].data) != rpt.RenderStacktrace() {
		t.Errorf("unexpected first attachment %+v", tr.attachments[0])
	}
	if tr.attachments[1].filename != "logfiles.zip" || string(tr.attachments[1].data) != "zipdata" {
		t.Errorf("unexpected log attachment %+v", tr.attachments[1])
	}
	for i, want := range []string{"img1", "img2"} {
		att := tr.attachments[2+i]
		if att.filename != "screenshot.jpg" || string(att.data) != want {
			t.Errorf("unexpected screenshot attachment %+v", att)
		}
	}
	for _, att := range tr.attachments {
		if att.issueKey != "TT-7" {
			t.Errorf("attachment uploaded to %q, want TT-7", att.issueKey)
		}
	}
}

func TestSync_AttachFailureIsSwallowed(t *testing.T) {
	tr := &fakeTracker{createKey: "TT-7", attachErr: errors.New("upload refused")}
	s := newTestSyncer(tr)

	out, err := s.Sync(context.Background(), testReport(t, "boom"), Verdict{})
	if err != nil {
		t.Fatalf("attachment failure must not fail the sync: %v", err)
	}
	if out.IssueKey != "TT-7" {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestSync_BadArtifactEncodingSkipped(t *testing.T) {
	tr := &fakeTracker{createKey: "TT-7"}
	s := newTestSyncer(tr)

	rpt := testReport(t, "boom")
	rpt.Logs = "not base64!!"
	rpt.Screenshots = []string{"also not base64!!"}

	if _, err := s.Sync(context.Background(), rpt, Verdict{}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(tr.attachments) != 1 || tr.attachments[0].filename != "stacktrace.txt" {
		t.Errorf("only the trace should upload, got %+v", tr.attachments)
	}
}

func TestOccurrenceCount(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		existing string
		want     string
	}{
		{"empty", "", "Count: 1\nLast: 2026-08-30 12:00:00"},
		{"increments", "Count: 3\nLast: 2026-08-01 10:00:00", "Count: 4\nLast: 2026-08-30 12:00:00"},
		{"case-insensitive", "count: 9\nwhatever", "Count: 10\nLast: 2026-08-30 12:00:00"},
		{"leading text", "Env: prod Count: 12", "Count: 13\nLast: 2026-08-30 12:00:00"},
		{"malformed resets", "occurrences so far: many", "Count: 1\nLast: 2026-08-30 12:00:00"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := OccurrenceCount(c.existing, now); got != c.want {
				t.Errorf("OccurrenceCount(%q) = %q, want %q", c.existing, got, c.want)
			}
		})
	}
}

func TestIsClosed(t *testing.T) {
	for status, want := range map[string]bool{
		"Closed": true, "closed": true, "Resolved": true, "RESOLVED": true,
		"Open": false, "In Progress": false, "Reopened": false, "": false,
	} {
		if got := isClosed(status); got != want {
			t.Errorf("isClosed(%q) = %v, want %v", status, got, want)
		}
	}
}
