package triage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"trace-triage/logger"
	"trace-triage/report"
)

var countPattern = regexp.MustCompile(`(?i)^.*count:\s+(\d+)`)

// TrackerAPI is the tracker surface the syncer needs.
type TrackerAPI interface {
	Create(ctx context.Context, title, description string) (string, error)
	UpdateEnvironment(ctx context.Context, issueKey, environment string) error
	Transition(ctx context.Context, issueKey string) error
	ActiveSprint(ctx context.Context) (string, error)
	Attach(ctx context.Context, issueKey, filename string, data []byte) error
}

// Outcome reports what the synchronizer did with a verdict.
type Outcome struct {
	IssueKey string
	Created  bool
}

// Attachment is one artifact uploaded alongside an issue.
type Attachment struct {
	Filename string
	Data     []byte
}

// Syncer applies a resolver verdict to the tracker: it creates a new issue
// or updates (and possibly reopens) an existing one, then uploads the raw
// artifacts.
type Syncer struct {
	tracker     TrackerAPI
	titlePrefix string
	log         logger.Logger
	now         func() time.Time
}

// NewSyncer creates a syncer filing issues titled "{titlePrefix}: ...".
func NewSyncer(tr TrackerAPI, titlePrefix string, log logger.Logger) *Syncer {
	return &Syncer{tracker: tr, titlePrefix: titlePrefix, log: log, now: time.Now}
}

// Sync files a new issue or updates the duplicate named by the verdict.
// Issue creation and field updates are fatal on failure; attachment upload
// is best-effort because the issue record is the primary deliverable.
func (s *Syncer) Sync(ctx context.Context, rpt *report.Report, verdict Verdict) (Outcome, error) {
	if verdict.Duplicate {
		if err := s.updateExisting(ctx, verdict); err != nil {
			return Outcome{}, err
		}
		s.attachArtifacts(ctx, rpt, verdict.IssueKey)
		return Outcome{IssueKey: verdict.IssueKey}, nil
	}

	key, err := s.createNew(ctx, rpt)
	if err != nil {
		return Outcome{}, err
	}
	s.attachArtifacts(ctx, rpt, key)
	return Outcome{IssueKey: key, Created: true}, nil
}

func (s *Syncer) updateExisting(ctx context.Context, verdict Verdict) error {
	reopen, err := s.shouldReopen(ctx, verdict)
	if err != nil {
		return err
	}

	environment := OccurrenceCount(verdict.Environment, s.now())
	if err := s.tracker.UpdateEnvironment(ctx, verdict.IssueKey, environment); err != nil {
		return err
	}

	if reopen {
		s.log.Info("triage.reopening", logger.String("issue", verdict.IssueKey))
		if err := s.tracker.Transition(ctx, verdict.IssueKey); err != nil {
			return err
		}
	}
	return nil
}

// shouldReopen is true iff the issue is closed or resolved and its fix
// version is not the currently active sprint. The sprint is fetched fresh
// on every duplicate of a closed issue; exactly one active sprint is
// assumed.
func (s *Syncer) shouldReopen(ctx context.Context, verdict Verdict) (bool, error) {
	if !isClosed(verdict.Status) {
		return false, nil
	}
	sprint, err := s.tracker.ActiveSprint(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch active sprint: %w", err)
	}
	return verdict.FixVersion != sprint, nil
}

func (s *Syncer) createNew(ctx context.Context, rpt *report.Report) (string, error) {
	rawSummary, err := rpt.Summary()
	if err != nil {
		return "", err
	}
	summary := report.SanitizeSummary(rawSummary, s.titlePrefix, false)
	title := fmt.Sprintf("%s: %s", s.titlePrefix, summary)
	description := fmt.Sprintf("%s\n\nDetails:\n%s\n\nStacktrace:\n{noformat}%s{noformat}",
		summary,
		rpt.Details(),
		report.TruncateRunes(rpt.RenderStacktrace(), report.MaxDescriptionLength),
	)
	return s.tracker.Create(ctx, title, description)
}

// attachArtifacts uploads the rendered stack trace plus any log archive and
// screenshots. Failures are logged and swallowed.
func (s *Syncer) attachArtifacts(ctx context.Context, rpt *report.Report, issueKey string) {
	for _, att := range s.buildAttachments(rpt) {
		if err := s.tracker.Attach(ctx, issueKey, att.Filename, att.Data); err != nil {
			s.log.Error("triage.attach_failed",
				logger.String("issue", issueKey),
				logger.String("filename", att.Filename),
				logger.Err(err),
			)
		}
	}
}

func (s *Syncer) buildAttachments(rpt *report.Report) []Attachment {
	atts := []Attachment{{Filename: "stacktrace.txt", Data: []byte(rpt.RenderStacktrace())}}

	if logs, err := rpt.DecodedLogs(); err != nil {
		s.log.Warn("triage.bad_log_archive", logger.Err(err))
	} else if logs != nil {
		atts = append(atts, Attachment{Filename: "logfiles.zip", Data: logs})
	}

	for i := range rpt.Screenshots {
		shot, err := rpt.DecodedScreenshot(i)
		if err != nil {
			s.log.Warn("triage.bad_screenshot", logger.Err(err))
			continue
		}
		atts = append(atts, Attachment{Filename: "screenshot.jpg", Data: shot})
	}
	return atts
}

// OccurrenceCount produces the next environment counter string for a
// duplicate occurrence. The current count is parsed from the existing
// environment text and incremented, defaulting to 1 when absent or
// unparsable.
func OccurrenceCount(existing string, now time.Time) string {
	count := 1
	if m := countPattern.FindStringSubmatch(existing); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			count = n + 1
		}
	}
	return fmt.Sprintf("Count: %d\nLast: %s", count, now.Format("2006-01-02 15:04:05"))
}

func isClosed(status string) bool {
	lower := strings.ToLower(status)
	return lower == "closed" || lower == "resolved"
}
