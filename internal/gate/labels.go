package gate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mergegate-dev/mergegate/internal/compliance"
	"github.com/mergegate-dev/mergegate/internal/platform"
)

// LabelSync reconciles the PR's managed labels with the Result.
// Reconciliation is clear-then-set: every label carrying the managed prefix
// is removed, then the desired set is applied in one batch. A partially
// failed incremental add/remove could strand stale mixed severity labels;
// clear-then-set converges on retry. Labels without the prefix are never
// touched.
type LabelSync struct {
	client platform.Client
	prefix string
}

func NewLabelSync(client platform.Client, prefix string) *LabelSync {
	return &LabelSync{client: client, prefix: prefix}
}

// Sync reconciles the PR's label set with the Result
func (s *LabelSync) Sync(ctx context.Context, owner, repo string, number int, result *compliance.Result) error {
	current, err := s.client.ListLabels(ctx, owner, repo, number)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}

	desired := s.DesiredLabels(result)
	desiredSet := make(map[string]bool, len(desired))
	for _, l := range desired {
		desiredSet[l] = true
	}

	for _, label := range current {
		if !strings.HasPrefix(label, s.prefix) {
			continue // user label, never touched
		}
		if err := s.client.RemoveLabel(ctx, owner, repo, number, label); err != nil {
			return fmt.Errorf("remove label %q: %w", label, err)
		}
	}

	if len(desired) == 0 {
		return nil
	}
	if err := s.client.AddLabels(ctx, owner, repo, number, desired); err != nil {
		return fmt.Errorf("add labels: %w", err)
	}
	return nil
}

// DesiredLabels computes the managed label set for a Result: one status
// label, at most one severity tier, one tag per referenced regulation, and
// an action tag when the result demands attention.
func (s *LabelSync) DesiredLabels(result *compliance.Result) []string {
	var labels []string

	switch result.Decision {
	case compliance.DecisionApprove:
		labels = append(labels, s.prefix+"passed")
	case compliance.DecisionRequestChanges:
		labels = append(labels, s.prefix+"failed")
	default:
		labels = append(labels, s.prefix+"needs-review")
	}

	if sev, ok := result.HighestSeverity(); ok {
		labels = append(labels, s.prefix+"severity:"+sev.String())
	}

	for _, reg := range result.Regulations() {
		labels = append(labels, s.prefix+"reg:"+slugify(reg))
	}

	if result.Conclusion == compliance.ConclusionActionRequired {
		labels = append(labels, s.prefix+"action-required")
	}

	sort.Strings(labels)
	return labels
}

// slugify lowercases a regulation name and replaces whitespace so it is
// usable as a label segment
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "-")
}
