package gate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mergegate-dev/mergegate/internal/compliance"
	"github.com/mergegate-dev/mergegate/internal/platform"
)

// summaryMarker is the private token embedded in the summary comment so
// re-runs can find and patch it instead of posting a duplicate
const summaryMarker = "<!-- mergegate:summary -->"

// reviewMarker tags the review body with the head SHA it was published
// for, so a retry can tell whether the review for this head already exists
func reviewMarker(headSHA string) string {
	return fmt.Sprintf("<!-- mergegate:review %s -->", headSHA)
}

// CommentSync publishes one summary comment plus up to the configured number of inline comments
// per head SHA. The summary is upserted by marker; the review (which
// carries the inline comments) is skipped only when an identical summary
// AND a review for this head are both already on the PR, so an identical
// re-run leaves the thread untouched.
type CommentSync struct {
	client platform.Client
}

func NewCommentSync(client platform.Client) *CommentSync {
	return &CommentSync{client: client}
}

// Sync reconciles the PR's comment thread with the Result
func (s *CommentSync) Sync(ctx context.Context, owner, repo string, number int, headSHA string, result *compliance.Result, limit int) error {
	inline := collapseInline(result.Violations, limit)
	body := buildSummaryBody(headSHA, result, inline)

	comments, err := s.client.ListIssueComments(ctx, owner, repo, number)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}

	var existing *platform.Comment
	for i := range comments {
		if strings.Contains(comments[i].Body, summaryMarker) {
			existing = &comments[i]
			break
		}
	}

	switch {
	case existing != nil && existing.Body == body:
		// Same head SHA and same result. The summary alone does not prove
		// the pass finished: a prior attempt may have died between writing
		// it and posting the review, so skip only once the review is
		// confirmed on the PR.
		published, err := s.reviewPublished(ctx, owner, repo, number, headSHA)
		if err != nil {
			return fmt.Errorf("list reviews: %w", err)
		}
		if published {
			return nil
		}
	case existing != nil:
		if err := s.client.UpdateComment(ctx, owner, repo, existing.ID, body); err != nil {
			return fmt.Errorf("update summary comment: %w", err)
		}
	default:
		if _, err := s.client.CreateComment(ctx, owner, repo, number, body); err != nil {
			return fmt.Errorf("create summary comment: %w", err)
		}
	}

	review := platform.Review{
		Body:     reviewBody(headSHA, result),
		Event:    reviewEvent(result.Decision),
		Comments: inline,
	}
	if err := s.client.CreateReview(ctx, owner, repo, number, review); err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

// reviewPublished reports whether a review carrying this head's marker is
// already on the PR
func (s *CommentSync) reviewPublished(ctx context.Context, owner, repo string, number int, headSHA string) (bool, error) {
	reviews, err := s.client.ListReviews(ctx, owner, repo, number)
	if err != nil {
		return false, err
	}
	marker := reviewMarker(headSHA)
	for _, r := range reviews {
		if strings.Contains(r.Body, marker) {
			return true, nil
		}
	}
	return false, nil
}

// collapseInline turns violations into inline review comments. Violations
// at the same (file, line) collapse to the single highest-severity one,
// ties broken by lowest rule_id; overflow beyond the limit is dropped with the
// highest severities preserved.
func collapseInline(violations []compliance.Violation, limit int) []platform.ReviewComment {
	type key struct {
		path string
		line int
	}
	best := make(map[key]compliance.Violation)
	var order []key
	for _, v := range violations {
		k := key{path: v.FilePath, line: v.StartLine}
		cur, ok := best[k]
		if !ok {
			best[k] = v
			order = append(order, k)
			continue
		}
		if v.Severity > cur.Severity || (v.Severity == cur.Severity && v.RuleID < cur.RuleID) {
			best[k] = v
		}
	}

	collapsed := make([]compliance.Violation, 0, len(order))
	for _, k := range order {
		collapsed = append(collapsed, best[k])
	}
	sort.SliceStable(collapsed, func(i, j int) bool {
		return collapsed[i].Severity > collapsed[j].Severity
	})
	if len(collapsed) > limit {
		collapsed = collapsed[:limit]
	}

	comments := make([]platform.ReviewComment, 0, len(collapsed))
	for _, v := range collapsed {
		comments = append(comments, platform.ReviewComment{
			Path: v.FilePath,
			Line: v.StartLine,
			Body: inlineBody(v),
		})
	}
	return comments
}

func inlineBody(v compliance.Violation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** [%s]: %s", strings.ToUpper(v.Severity.String()), v.RuleID, v.Message)
	if v.Regulation != "" {
		fmt.Fprintf(&b, "\n\nRegulation: %s", v.Regulation)
	}
	if v.SuggestedFix != "" {
		fmt.Fprintf(&b, "\n\nSuggested fix:\n```suggestion\n%s\n```", v.SuggestedFix)
	}
	return b.String()
}

func buildSummaryBody(headSHA string, result *compliance.Result, inline []platform.ReviewComment) string {
	var b strings.Builder
	b.WriteString(summaryMarker)
	b.WriteString("\n## Compliance Review\n\n")
	fmt.Fprintf(&b, "Commit: `%s`\n\n", headSHA)

	if len(result.Violations) == 0 {
		b.WriteString("No violations found. :white_check_mark:\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Found **%d** violation(s):\n\n", len(result.Violations))
	for sev := compliance.SeverityCritical; sev >= compliance.SeverityInfo; sev-- {
		if n := result.Counts[sev.String()]; n > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", sev, n)
		}
	}

	if dropped := len(result.Violations) - len(inline); dropped > 0 {
		fmt.Fprintf(&b, "\n%d violation(s) not shown inline (comment limit reached or collapsed with a higher-severity finding at the same location).\n", dropped)
	}
	return b.String()
}

func reviewBody(headSHA string, result *compliance.Result) string {
	var text string
	switch result.Decision {
	case compliance.DecisionApprove:
		text = "Compliance checks passed."
	case compliance.DecisionRequestChanges:
		text = "Compliance violations must be resolved before merging."
	default:
		text = "Compliance findings below; review before merging."
	}
	return reviewMarker(headSHA) + "\n" + text
}

// reviewEvent maps a decision to the platform review event, keeping the
// review disposition aligned with the check-run conclusion
func reviewEvent(d compliance.Decision) string {
	switch d {
	case compliance.DecisionApprove:
		return "APPROVE"
	case compliance.DecisionRequestChanges:
		return "REQUEST_CHANGES"
	}
	return "COMMENT"
}
