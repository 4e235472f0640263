// Package triage turns an incoming exception report into tracker activity:
// the resolver decides whether the report duplicates an already-filed issue,
// and the syncer files a new issue or updates the existing one accordingly.
package triage

import (
	"context"
	"fmt"

	"trace-triage/logger"
	"trace-triage/match"
	"trace-triage/report"
	"trace-triage/tracker"
)

// Searcher is the tracker surface the resolver needs.
type Searcher interface {
	FindBySummary(ctx context.Context, sanitizedSummary string) ([]tracker.Issue, error)
}

// Verdict is the resolver's duplicate decision for one incoming report.
// It is recomputed from tracker state on every request, never persisted.
type Verdict struct {
	Duplicate   bool
	IssueKey    string
	Status      string
	Environment string
	FixVersion  string
}

// Resolver searches the tracker for candidate issues by summary and runs
// the stack trace matcher against each.
type Resolver struct {
	search      Searcher
	titlePrefix string
	log         logger.Logger
}

// NewResolver creates a resolver. titlePrefix must match the prefix the
// syncer puts on issue titles, so summary truncation lines up.
func NewResolver(search Searcher, titlePrefix string, log logger.Logger) *Resolver {
	return &Resolver{search: search, titlePrefix: titlePrefix, log: log}
}

// Resolve decides whether rpt matches an already-filed issue. Candidates
// are checked in the order the tracker returned them; the first whose
// embedded stack trace passes the matcher wins.
func (r *Resolver) Resolve(ctx context.Context, rpt *report.Report) (Verdict, error) {
	summary, err := rpt.Summary()
	if err != nil {
		return Verdict{}, err
	}

	issues, err := r.search.FindBySummary(ctx, report.SanitizeSummary(summary, r.titlePrefix, true))
	if err != nil {
		return Verdict{}, fmt.Errorf("query candidate issues: %w", err)
	}

	newTrace := rpt.RenderStacktrace()
	for i := range issues {
		issue := &issues[i]
		issueTrace := match.FromDescription(issue.Fields.Description)
		res := match.Stacktraces(newTrace, issueTrace)
		if !res.Matched {
			continue
		}
		r.log.Info("triage.duplicate_found",
			logger.String("issue", issue.Key),
			logger.String("status", issue.Fields.Status.Name),
			logger.Any("ratio", res.Ratio),
		)
		return Verdict{
			Duplicate:   true,
			IssueKey:    issue.Key,
			Status:      issue.Fields.Status.Name,
			Environment: issue.Fields.Environment,
			FixVersion:  latestFixVersion(issue.Fields.FixVersions),
		}, nil
	}
	return Verdict{}, nil
}

// latestFixVersion approximates "latest" by picking the greatest version
// name under plain string comparison. Not semantic: "v9" sorts after "v10".
// Known approximation carried over from the issue bookkeeping conventions.
func latestFixVersion(versions []tracker.FixVersion) string {
	latest := ""
	for _, v := range versions {
		if v.Name > latest {
			latest = v.Name
		}
	}
	return latest
}
