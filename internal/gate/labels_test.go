package gate

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mergegate-dev/mergegate/internal/compliance"
)

func TestDesiredLabels(t *testing.T) {
	sync := NewLabelSync(newFakeClient(), "compliance:")

	cases := []struct {
		name       string
		violations []compliance.Violation
		want       []string
	}{
		{
			name:       "clean",
			violations: nil,
			want:       []string{"compliance:passed"},
		},
		{
			name: "blocking with regulation",
			violations: []compliance.Violation{
				{RuleID: "a", Severity: compliance.SeverityCritical, Regulation: "PCI DSS"},
			},
			want: []string{
				"compliance:failed",
				"compliance:reg:pci-dss",
				"compliance:severity:critical",
			},
		},
		{
			name: "action required",
			violations: []compliance.Violation{
				{RuleID: "a", Severity: compliance.SeverityMedium},
				{RuleID: "b", Severity: compliance.SeverityMedium},
				{RuleID: "c", Severity: compliance.SeverityMedium},
			},
			want: []string{
				"compliance:action-required",
				"compliance:needs-review",
				"compliance:severity:medium",
			},
		},
		{
			name: "minor findings",
			violations: []compliance.Violation{
				{RuleID: "a", Severity: compliance.SeverityLow},
			},
			want: []string{
				"compliance:needs-review",
				"compliance:severity:low",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := sync.DesiredLabels(compliance.NewResult(tc.violations))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("DesiredLabels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLabelSyncClearThenSet(t *testing.T) {
	client := newFakeClient()
	client.labels["compliance:failed"] = true
	client.labels["compliance:severity:critical"] = true
	client.labels["enhancement"] = true // user label

	sync := NewLabelSync(client, "compliance:")
	result := compliance.NewResult(nil)
	if err := sync.Sync(context.Background(), "acme", "payments", 7, result); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	var got []string
	for l := range client.labels {
		got = append(got, l)
	}
	sort.Strings(got)
	want := []string{"compliance:passed", "enhancement"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Label state mismatch (-want +got):\n%s", diff)
	}
}

func TestLabelSyncIdempotent(t *testing.T) {
	client := newFakeClient()
	sync := NewLabelSync(client, "compliance:")
	result := compliance.NewResult([]compliance.Violation{
		{RuleID: "a", Severity: compliance.SeverityHigh},
	})

	for i := 0; i < 2; i++ {
		if err := sync.Sync(context.Background(), "acme", "payments", 7, result); err != nil {
			t.Fatalf("Sync %d failed: %v", i, err)
		}
	}

	var got []string
	for l := range client.labels {
		got = append(got, l)
	}
	sort.Strings(got)
	want := []string{"compliance:failed", "compliance:severity:high"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Label state mismatch after repeated sync (-want +got):\n%s", diff)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"PCI DSS":     "pci-dss",
		"GDPR":        "gdpr",
		"  SOC  2  ":  "soc-2",
		"iso-27001":   "iso-27001",
		"HIPAA Title": "hipaa-title",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
