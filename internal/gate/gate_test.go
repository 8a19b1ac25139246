package gate

import (
	"context"
	"fmt"
	"sync"

	"github.com/mergegate-dev/mergegate/internal/compliance"
	"github.com/mergegate-dev/mergegate/internal/platform"
)

// fakeClient is an in-memory platform.Client recording remote state and the
// calls made against it. Guarded by a mutex because the pipeline syncs
// comments and labels concurrently.
type fakeClient struct {
	mu             sync.Mutex
	nextCheckRunID int64
	checkRuns      map[int64]*platform.CheckRun
	nextCommentID  int64
	comments       []platform.Comment
	reviews        []platform.Review
	labels         map[string]bool
	prs            map[int]*platform.PullRequest

	completedOutput *platform.CheckRunOutput
	calls           []string
	failOn          map[string]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		checkRuns: make(map[int64]*platform.CheckRun),
		labels:    make(map[string]bool),
		prs:       make(map[int]*platform.PullRequest),
		failOn:    make(map[string]error),
	}
}

func (f *fakeClient) call(name string) error {
	f.calls = append(f.calls, name)
	return f.failOn[name]
}

func (f *fakeClient) CreateCheckRun(ctx context.Context, owner, repo, name, headSHA string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateCheckRun"); err != nil {
		return 0, err
	}
	f.nextCheckRunID++
	f.checkRuns[f.nextCheckRunID] = &platform.CheckRun{
		ID: f.nextCheckRunID, HeadSHA: headSHA, Status: "queued",
	}
	return f.nextCheckRunID, nil
}

func (f *fakeClient) UpdateCheckRunStatus(ctx context.Context, owner, repo string, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UpdateCheckRunStatus"); err != nil {
		return err
	}
	run, ok := f.checkRuns[id]
	if !ok {
		return fmt.Errorf("check run %d not found", id)
	}
	run.Status = status
	return nil
}

func (f *fakeClient) CompleteCheckRun(ctx context.Context, owner, repo string, id int64, conclusion string, output platform.CheckRunOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CompleteCheckRun"); err != nil {
		return err
	}
	run, ok := f.checkRuns[id]
	if !ok {
		return fmt.Errorf("check run %d not found", id)
	}
	run.Status = "completed"
	run.Conclusion = conclusion
	f.completedOutput = &output
	return nil
}

func (f *fakeClient) FindCheckRun(ctx context.Context, owner, repo, headSHA, name string) (*platform.CheckRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("FindCheckRun"); err != nil {
		return nil, err
	}
	for _, run := range f.checkRuns {
		if run.HeadSHA == headSHA {
			copied := *run
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeClient) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]platform.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListIssueComments"); err != nil {
		return nil, err
	}
	out := make([]platform.Comment, len(f.comments))
	copy(out, f.comments)
	return out, nil
}

func (f *fakeClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateComment"); err != nil {
		return 0, err
	}
	f.nextCommentID++
	f.comments = append(f.comments, platform.Comment{ID: f.nextCommentID, Body: body})
	return f.nextCommentID, nil
}

func (f *fakeClient) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UpdateComment"); err != nil {
		return err
	}
	for i := range f.comments {
		if f.comments[i].ID == commentID {
			f.comments[i].Body = body
			return nil
		}
	}
	return fmt.Errorf("comment %d not found", commentID)
}

func (f *fakeClient) CreateReview(ctx context.Context, owner, repo string, number int, review platform.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateReview"); err != nil {
		return err
	}
	f.reviews = append(f.reviews, review)
	return nil
}

func (f *fakeClient) ListReviews(ctx context.Context, owner, repo string, number int) ([]platform.SubmittedReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListReviews"); err != nil {
		return nil, err
	}
	out := make([]platform.SubmittedReview, 0, len(f.reviews))
	for i, r := range f.reviews {
		out = append(out, platform.SubmittedReview{ID: int64(i + 1), Body: r.Body})
	}
	return out, nil
}

func (f *fakeClient) ListLabels(ctx context.Context, owner, repo string, number int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListLabels"); err != nil {
		return nil, err
	}
	var out []string
	for l := range f.labels {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeClient) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("AddLabels"); err != nil {
		return err
	}
	for _, l := range labels {
		f.labels[l] = true
	}
	return nil
}

func (f *fakeClient) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("RemoveLabel"); err != nil {
		return err
	}
	delete(f.labels, label)
	return nil
}

func (f *fakeClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*platform.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetPullRequest"); err != nil {
		return nil, err
	}
	pr, ok := f.prs[number]
	if !ok {
		return nil, fmt.Errorf("pull request %d not found", number)
	}
	return pr, nil
}

func (f *fakeClient) countCalls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

// violationAt builds a violation for tests
func violationAt(rule string, sev compliance.Severity, path string, line int) compliance.Violation {
	return compliance.Violation{
		RuleID:    rule,
		Severity:  sev,
		FilePath:  path,
		StartLine: line,
		EndLine:   line,
		Message:   "finding " + rule,
	}
}
