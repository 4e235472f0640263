package triage

import (
	"context"

	"trace-triage/report"
)

// Pipeline composes the resolver and syncer into the single call the intake
// handler makes per report. Each report is processed end-to-end in one
// synchronous chain; two simultaneous reports of the same new exception can
// both miss the search and both create issues. That read-then-write race is
// accepted, not locked away.
type Pipeline struct {
	resolver *Resolver
	syncer   *Syncer
}

// NewPipeline wires a resolver and syncer together.
func NewPipeline(resolver *Resolver, syncer *Syncer) *Pipeline {
	return &Pipeline{resolver: resolver, syncer: syncer}
}

// Process resolves the report against the tracker and synchronizes the
// outcome.
func (p *Pipeline) Process(ctx context.Context, rpt *report.Report) (Outcome, error) {
	verdict, err := p.resolver.Resolve(ctx, rpt)
	if err != nil {
		return Outcome{}, err
	}
	return p.syncer.Sync(ctx, rpt, verdict)
}
