// Package platform wraps the hosting-platform REST API behind the small
// capability set the gating pipeline consumes. The concrete implementation
// talks to GitHub; synchronizers depend only on the Client interface so
// tests can substitute fakes.
package platform

import (
	"context"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// CheckRun mirrors a remote per-commit status resource. Non-authoritative:
// may be stale or absent.
type CheckRun struct {
	ID         int64
	HeadSHA    string
	Status     string
	Conclusion string
}

// Annotation is one inline finding attached to a check run
type Annotation struct {
	Path      string
	StartLine int
	EndLine   int
	Level     string // notice, warning, failure
	Title     string
	Message   string
}

// CheckRunOutput is the rendered body of a completed check run
type CheckRunOutput struct {
	Title       string
	Summary     string
	Annotations []Annotation
}

// Comment is an issue-level comment on a PR
type Comment struct {
	ID   int64
	Body string
}

// ReviewComment is one inline comment attached to a review
type ReviewComment struct {
	Path string
	Line int
	Body string
}

// Review aggregates a disposition with its inline comments
type Review struct {
	Body     string
	Event    string // APPROVE, COMMENT, REQUEST_CHANGES
	Comments []ReviewComment
}

// SubmittedReview is a review already posted on the PR
type SubmittedReview struct {
	ID   int64
	Body string
}

// PullRequest carries the PR fields the pipeline needs
type PullRequest struct {
	Number  int
	HeadSHA string
	BaseSHA string
}

// Client is the capability set consumed from the hosting platform. Every
// method reports failure through its error; callers classify with
// IsRetryable.
type Client interface {
	CreateCheckRun(ctx context.Context, owner, repo, name, headSHA string) (int64, error)
	UpdateCheckRunStatus(ctx context.Context, owner, repo string, id int64, status string) error
	CompleteCheckRun(ctx context.Context, owner, repo string, id int64, conclusion string, output CheckRunOutput) error
	FindCheckRun(ctx context.Context, owner, repo, headSHA, name string) (*CheckRun, error)

	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]Comment, error)
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (int64, error)
	UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error
	CreateReview(ctx context.Context, owner, repo string, number int, review Review) error
	ListReviews(ctx context.Context, owner, repo string, number int) ([]SubmittedReview, error)

	ListLabels(ctx context.Context, owner, repo string, number int) ([]string, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error

	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
}

// GitHubClient implements Client against the GitHub REST API
type GitHubClient struct {
	gh *github.Client
}

// NewGitHubClient creates an authenticated GitHub client. baseURL overrides
// the API endpoint for GitHub Enterprise or tests; empty means github.com.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*GitHubClient, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	gh := github.NewClient(tc)
	if baseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, err
		}
	}
	return &GitHubClient{gh: gh}, nil
}

func (c *GitHubClient) CreateCheckRun(ctx context.Context, owner, repo, name, headSHA string) (int64, error) {
	run, _, err := c.gh.Checks.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunOptions{
		Name:    name,
		HeadSHA: headSHA,
		Status:  github.String("queued"),
	})
	if err != nil {
		return 0, err
	}
	return run.GetID(), nil
}

func (c *GitHubClient) UpdateCheckRunStatus(ctx context.Context, owner, repo string, id int64, status string) error {
	_, _, err := c.gh.Checks.UpdateCheckRun(ctx, owner, repo, id, github.UpdateCheckRunOptions{
		Status: github.String(status),
	})
	return err
}

func (c *GitHubClient) CompleteCheckRun(ctx context.Context, owner, repo string, id int64, conclusion string, output CheckRunOutput) error {
	annotations := make([]*github.CheckRunAnnotation, 0, len(output.Annotations))
	for _, a := range output.Annotations {
		annotations = append(annotations, &github.CheckRunAnnotation{
			Path:            github.String(a.Path),
			StartLine:       github.Int(a.StartLine),
			EndLine:         github.Int(a.EndLine),
			AnnotationLevel: github.String(a.Level),
			Title:           github.String(a.Title),
			Message:         github.String(a.Message),
		})
	}
	_, _, err := c.gh.Checks.UpdateCheckRun(ctx, owner, repo, id, github.UpdateCheckRunOptions{
		Status:     github.String("completed"),
		Conclusion: github.String(conclusion),
		Output: &github.CheckRunOutput{
			Title:       github.String(output.Title),
			Summary:     github.String(output.Summary),
			Annotations: annotations,
		},
	})
	return err
}

func (c *GitHubClient) FindCheckRun(ctx context.Context, owner, repo, headSHA, name string) (*CheckRun, error) {
	runs, _, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, headSHA, &github.ListCheckRunsOptions{
		CheckName: github.String(name),
	})
	if err != nil {
		return nil, err
	}
	if runs.GetTotal() == 0 || len(runs.CheckRuns) == 0 {
		return nil, nil
	}
	run := runs.CheckRuns[0]
	return &CheckRun{
		ID:         run.GetID(),
		HeadSHA:    run.GetHeadSHA(),
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
	}, nil
}

func (c *GitHubClient) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	var all []Comment
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, err
		}
		for _, cm := range comments {
			all = append(all, Comment{ID: cm.GetID(), Body: cm.GetBody()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *GitHubClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	cm, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return 0, err
	}
	return cm.GetID(), nil
}

func (c *GitHubClient) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	_, _, err := c.gh.Issues.EditComment(ctx, owner, repo, commentID, &github.IssueComment{
		Body: github.String(body),
	})
	return err
}

func (c *GitHubClient) CreateReview(ctx context.Context, owner, repo string, number int, review Review) error {
	comments := make([]*github.DraftReviewComment, 0, len(review.Comments))
	for _, rc := range review.Comments {
		comments = append(comments, &github.DraftReviewComment{
			Path: github.String(rc.Path),
			Line: github.Int(rc.Line),
			Body: github.String(rc.Body),
		})
	}
	_, _, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, number, &github.PullRequestReviewRequest{
		Body:     github.String(review.Body),
		Event:    github.String(review.Event),
		Comments: comments,
	})
	return err
}

func (c *GitHubClient) ListReviews(ctx context.Context, owner, repo string, number int) ([]SubmittedReview, error) {
	var all []SubmittedReview
	opts := &github.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range reviews {
			all = append(all, SubmittedReview{ID: r.GetID(), Body: r.GetBody()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *GitHubClient) ListLabels(ctx context.Context, owner, repo string, number int) ([]string, error) {
	var all []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		labels, resp, err := c.gh.Issues.ListLabelsByIssue(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			all = append(all, l.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *GitHubClient) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	_, _, err := c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
	return err
}

func (c *GitHubClient) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	_, err := c.gh.Issues.RemoveLabelForIssue(ctx, owner, repo, number, label)
	return err
}

func (c *GitHubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	return &PullRequest{
		Number:  pr.GetNumber(),
		HeadSHA: pr.GetHead().GetSHA(),
		BaseSHA: pr.GetBase().GetSHA(),
	}, nil
}
