// Package gate contains the synchronizers that project a locally computed
// compliance Result onto the remote merge-gate surfaces (check run, review
// comments, labels) and the pipeline that sequences them. All three are
// idempotent so a retried task converges instead of duplicating remote
// state.
package gate

import (
	"context"
	"fmt"
	"sort"

	"github.com/mergegate-dev/mergegate/internal/compliance"
	"github.com/mergegate-dev/mergegate/internal/platform"
)

// CheckRunName identifies the check run this pipeline owns on each commit
const CheckRunName = "mergegate/compliance"

// CheckRunSync drives a remote check run through its lifecycle:
// Absent -> Queued -> InProgress -> Completed.
type CheckRunSync struct {
	client platform.Client
}

func NewCheckRunSync(client platform.Client) *CheckRunSync {
	return &CheckRunSync{client: client}
}

// EnsureQueued returns the check run for (owner, repo, headSHA), creating
// it in the queued state when absent. A re-run reuses the existing remote
// run rather than creating a duplicate.
func (s *CheckRunSync) EnsureQueued(ctx context.Context, owner, repo, headSHA string) (*platform.CheckRun, error) {
	existing, err := s.client.FindCheckRun(ctx, owner, repo, headSHA, CheckRunName)
	if err != nil {
		return nil, fmt.Errorf("find check run: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	id, err := s.client.CreateCheckRun(ctx, owner, repo, CheckRunName, headSHA)
	if err != nil {
		return nil, fmt.Errorf("create check run: %w", err)
	}
	return &platform.CheckRun{ID: id, HeadSHA: headSHA, Status: "queued"}, nil
}

// Start advances the run to in_progress. Patching a run that is already
// in_progress is a no-op success.
func (s *CheckRunSync) Start(ctx context.Context, owner, repo string, run *platform.CheckRun) error {
	if run.Status == "in_progress" {
		return nil
	}
	if err := s.client.UpdateCheckRunStatus(ctx, owner, repo, run.ID, "in_progress"); err != nil {
		return fmt.Errorf("start check run: %w", err)
	}
	run.Status = "in_progress"
	return nil
}

// Complete finishes the run with the Result's conclusion and rendered
// output, attaching at most limit annotations (highest severity first)
func (s *CheckRunSync) Complete(ctx context.Context, owner, repo string, run *platform.CheckRun, result *compliance.Result, limit int) error {
	output := buildCheckRunOutput(result, limit)
	if err := s.client.CompleteCheckRun(ctx, owner, repo, run.ID, string(result.Conclusion), output); err != nil {
		return fmt.Errorf("complete check run: %w", err)
	}
	run.Status = "completed"
	run.Conclusion = string(result.Conclusion)
	return nil
}

// buildCheckRunOutput renders the Result as check-run output. Annotations
// beyond the limit are dropped highest-severity-last and the summary states
// how many were omitted.
func buildCheckRunOutput(result *compliance.Result, limit int) platform.CheckRunOutput {
	violations := make([]compliance.Violation, len(result.Violations))
	copy(violations, result.Violations)
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Severity > violations[j].Severity
	})

	omitted := 0
	if len(violations) > limit {
		omitted = len(violations) - limit
		violations = violations[:limit]
	}

	annotations := make([]platform.Annotation, 0, len(violations))
	for _, v := range violations {
		annotations = append(annotations, platform.Annotation{
			Path:      v.FilePath,
			StartLine: v.StartLine,
			EndLine:   v.EndLine,
			Level:     annotationLevel(v.Severity),
			Title:     v.RuleID,
			Message:   v.Message,
		})
	}

	return platform.CheckRunOutput{
		Title:       checkRunTitle(result),
		Summary:     checkRunSummary(result, omitted),
		Annotations: annotations,
	}
}

func checkRunTitle(result *compliance.Result) string {
	n := len(result.Violations)
	switch n {
	case 0:
		return "No compliance violations"
	case 1:
		return "1 compliance violation"
	}
	return fmt.Sprintf("%d compliance violations", n)
}

func checkRunSummary(result *compliance.Result, omitted int) string {
	if len(result.Violations) == 0 {
		return "All compliance checks passed."
	}

	summary := fmt.Sprintf("Found %d violation(s):\n", len(result.Violations))
	for sev := compliance.SeverityCritical; sev >= compliance.SeverityInfo; sev-- {
		if n := result.Counts[sev.String()]; n > 0 {
			summary += fmt.Sprintf("- **%s**: %d\n", sev, n)
		}
	}
	if omitted > 0 {
		summary += fmt.Sprintf("\n%d annotation(s) omitted (annotation limit reached).\n", omitted)
	}
	return summary
}

// annotationLevel maps a violation severity to a check-run annotation level
func annotationLevel(sev compliance.Severity) string {
	switch {
	case sev >= compliance.SeverityHigh:
		return "failure"
	case sev == compliance.SeverityMedium:
		return "warning"
	}
	return "notice"
}
