package gate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mergegate-dev/mergegate/internal/compliance"
	"github.com/mergegate-dev/mergegate/internal/platform"
	"github.com/mergegate-dev/mergegate/internal/storage"
)

// Pipeline sequences one full gating pass for a task:
// ensure check run -> in_progress -> analyze -> sync comments -> sync
// labels -> complete check run. It holds no state between tasks and never
// retries; a step error aborts the pass and the queue decides whether the
// task runs again. The synchronizers are idempotent, so a retried pass
// converges on the same remote state.
type Pipeline struct {
	client   platform.Client
	analyzer compliance.Analyzer
	checks   *CheckRunSync
	comments *CommentSync
}

func NewPipeline(client platform.Client, analyzer compliance.Analyzer) *Pipeline {
	return &Pipeline{
		client:   client,
		analyzer: analyzer,
		checks:   NewCheckRunSync(client),
		comments: NewCommentSync(client),
	}
}

// Run executes the gating pass for a task and returns the computed Result
func (p *Pipeline) Run(ctx context.Context, task *storage.Task) (*compliance.Result, error) {
	cfg := task.Config.Normalized()

	run, err := p.checks.EnsureQueued(ctx, task.Owner, task.Repo, task.HeadSHA)
	if err != nil {
		return nil, err
	}
	if err := p.checks.Start(ctx, task.Owner, task.Repo, run); err != nil {
		return nil, err
	}

	result, err := p.analyzer.Analyze(ctx, compliance.Request{
		Owner:    task.Owner,
		Repo:     task.Repo,
		PRNumber: task.PRNumber,
		HeadSHA:  task.HeadSHA,
		BaseSHA:  task.BaseSHA,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	// Comments and labels touch disjoint remote state, so they sync in
	// parallel. The check run completes only after both land.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.comments.Sync(gctx, task.Owner, task.Repo, task.PRNumber, task.HeadSHA, result, cfg.CommentLimit)
	})
	g.Go(func() error {
		labels := NewLabelSync(p.client, cfg.LabelPrefix)
		return labels.Sync(gctx, task.Owner, task.Repo, task.PRNumber, result)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := p.checks.Complete(ctx, task.Owner, task.Repo, run, result, cfg.AnnotationLimit); err != nil {
		return nil, err
	}
	return result, nil
}
