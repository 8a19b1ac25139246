package storage

import "testing"

func TestTaskStatusIsTerminal(t *testing.T) {
	cases := map[TaskStatus]bool{
		TaskStatusPending:    false,
		TaskStatusInProgress: false,
		TaskStatusCompleted:  true,
		TaskStatusFailed:     true,
		TaskStatusCancelled:  true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestPriorityDemote(t *testing.T) {
	cases := []struct {
		in, want Priority
	}{
		{PriorityCritical, PriorityHigh},
		{PriorityHigh, PriorityNormal},
		{PriorityNormal, PriorityLow},
		{PriorityLow, PriorityLow},
	}
	for _, tc := range cases {
		if got := tc.in.Demote(); got != tc.want {
			t.Errorf("%s.Demote() = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{
		"low":      PriorityLow,
		"normal":   PriorityNormal,
		"high":     PriorityHigh,
		"critical": PriorityCritical,
		"bogus":    PriorityNormal,
		"":         PriorityNormal,
	}
	for in, want := range cases {
		if got := ParsePriority(in); got != want {
			t.Errorf("ParsePriority(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestTaskConfigNormalized(t *testing.T) {
	got := TaskConfig{}.Normalized()
	want := TaskConfig{
		MaxRetries:      3,
		TimeoutMinutes:  10,
		LabelPrefix:     "compliance:",
		AnnotationLimit: 50,
		CommentLimit:    50,
	}
	if got != want {
		t.Errorf("Normalized() = %+v, want %+v", got, want)
	}

	// Populated fields pass through untouched
	custom := TaskConfig{MaxRetries: 1, TimeoutMinutes: 5, LabelPrefix: "g:", AnnotationLimit: 2, CommentLimit: 3}
	if got := custom.Normalized(); got != custom {
		t.Errorf("Normalized() = %+v, want %+v", got, custom)
	}
}

func TestTaskSlug(t *testing.T) {
	task := &Task{Owner: "acme", Repo: "payments", PRNumber: 7}
	if got := task.Slug(); got != "acme/payments#7" {
		t.Errorf("Slug() = %q, want %q", got, "acme/payments#7")
	}
}
