package compliance

import "encoding/json"

// Severity ranks violations. Order matters: comparisons use the numeric
// value, info lowest.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInfo:     "info",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseSeverity converts a severity name to a Severity, defaulting to info
func ParseSeverity(name string) Severity {
	for s, n := range severityNames {
		if n == name {
			return s
		}
	}
	return SeverityInfo
}

// MarshalJSON encodes severities by name on the wire
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = ParseSeverity(name)
	return nil
}

// Violation is a single rule finding. Immutable once produced.
type Violation struct {
	RuleID       string   `json:"rule_id"`
	Severity     Severity `json:"severity"`
	FilePath     string   `json:"file_path"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
	Message      string   `json:"message"`
	Regulation   string   `json:"regulation,omitempty"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// Decision is the review disposition derived from a Result
type Decision string

const (
	DecisionApprove        Decision = "approve"
	DecisionComment        Decision = "comment"
	DecisionRequestChanges Decision = "request_changes"
)

// Conclusion is the check-run verdict derived from a Result. The check run
// and the review are computed from the same mapping so the two surfaces
// never disagree.
type Conclusion string

const (
	ConclusionSuccess        Conclusion = "success"
	ConclusionNeutral        Conclusion = "neutral"
	ConclusionActionRequired Conclusion = "action_required"
	ConclusionFailure        Conclusion = "failure"
)

// Result is the outcome of one analysis pass: the ordered violations plus
// deterministically derived aggregates.
type Result struct {
	Violations []Violation    `json:"violations"`
	Counts     map[string]int `json:"counts"`
	Decision   Decision       `json:"decision"`
	Conclusion Conclusion     `json:"conclusion"`
}

// NewResult computes the aggregates for a set of violations:
//   - any critical or high violation: request_changes / failure
//   - more than two medium with none higher: comment / action_required
//   - any remaining violation: comment / neutral
//   - none: approve / success
func NewResult(violations []Violation) *Result {
	r := &Result{
		Violations: violations,
		Counts:     make(map[string]int),
	}
	for _, v := range violations {
		r.Counts[v.Severity.String()]++
	}

	critical := r.Counts[SeverityCritical.String()]
	high := r.Counts[SeverityHigh.String()]
	medium := r.Counts[SeverityMedium.String()]

	switch {
	case critical > 0 || high > 0:
		r.Decision = DecisionRequestChanges
		r.Conclusion = ConclusionFailure
	case medium > 2:
		r.Decision = DecisionComment
		r.Conclusion = ConclusionActionRequired
	case len(violations) > 0:
		r.Decision = DecisionComment
		r.Conclusion = ConclusionNeutral
	default:
		r.Decision = DecisionApprove
		r.Conclusion = ConclusionSuccess
	}
	return r
}

// HighestSeverity returns the highest severity present, and false when
// there are no violations
func (r *Result) HighestSeverity() (Severity, bool) {
	if len(r.Violations) == 0 {
		return SeverityInfo, false
	}
	max := SeverityInfo
	for _, v := range r.Violations {
		if v.Severity > max {
			max = v.Severity
		}
	}
	return max, true
}

// Regulations returns the distinct regulations referenced by the
// violations, in first-seen order
func (r *Result) Regulations() []string {
	seen := make(map[string]bool)
	var regs []string
	for _, v := range r.Violations {
		if v.Regulation == "" || seen[v.Regulation] {
			continue
		}
		seen[v.Regulation] = true
		regs = append(regs, v.Regulation)
	}
	return regs
}
