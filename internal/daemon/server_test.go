package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mergegate-dev/mergegate/internal/compliance"
	"github.com/mergegate-dev/mergegate/internal/config"
	"github.com/mergegate-dev/mergegate/internal/platform"
	"github.com/mergegate-dev/mergegate/internal/storage"
)

// stubClient implements platform.Client for handler tests. Only
// GetPullRequest is exercised by the HTTP surface.
type stubClient struct {
	pr *platform.PullRequest
}

func (c *stubClient) CreateCheckRun(ctx context.Context, owner, repo, name, headSHA string) (int64, error) {
	return 1, nil
}
func (c *stubClient) UpdateCheckRunStatus(ctx context.Context, owner, repo string, id int64, status string) error {
	return nil
}
func (c *stubClient) CompleteCheckRun(ctx context.Context, owner, repo string, id int64, conclusion string, output platform.CheckRunOutput) error {
	return nil
}
func (c *stubClient) FindCheckRun(ctx context.Context, owner, repo, headSHA, name string) (*platform.CheckRun, error) {
	return nil, nil
}
func (c *stubClient) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]platform.Comment, error) {
	return nil, nil
}
func (c *stubClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) (int64, error) {
	return 1, nil
}
func (c *stubClient) UpdateComment(ctx context.Context, owner, repo string, commentID int64, body string) error {
	return nil
}
func (c *stubClient) CreateReview(ctx context.Context, owner, repo string, number int, review platform.Review) error {
	return nil
}
func (c *stubClient) ListReviews(ctx context.Context, owner, repo string, number int) ([]platform.SubmittedReview, error) {
	return nil, nil
}
func (c *stubClient) ListLabels(ctx context.Context, owner, repo string, number int) ([]string, error) {
	return nil, nil
}
func (c *stubClient) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	return nil
}
func (c *stubClient) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	return nil
}
func (c *stubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*platform.PullRequest, error) {
	if c.pr == nil {
		return nil, fmt.Errorf("pull request %d not found", number)
	}
	return c.pr, nil
}

// newTestServer builds a Server over a real SQLite store without starting
// workers or the listener; handlers are driven through httptest.
func newTestServer(t *testing.T, client platform.Client) (*Server, *httptest.Server, storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.DefaultConfig()
	analyzer := compliance.NewHTTPAnalyzer("http://127.0.0.1:0", time.Second)
	srv := NewServer(store, cfg, filepath.Join(t.TempDir(), "config.toml"), client, analyzer)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, ts, store
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func prPayload(action, sha string) WebhookPayload {
	return WebhookPayload{
		EventType: "pull_request",
		Action:    action,
		Owner:     "acme",
		Repo:      "payments",
		PRNumber:  7,
		HeadSHA:   sha,
	}
}

func TestWebhookEnqueues(t *testing.T) {
	_, ts, store := newTestServer(t, &stubClient{})

	resp := postJSON(t, ts.URL+"/api/webhook", prPayload("opened", "sha-1"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	var out struct {
		Status string       `json:"status"`
		Task   storage.Task `json:"task"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if out.Status != "enqueued" {
		t.Errorf("Expected status 'enqueued', got '%s'", out.Status)
	}
	if out.Task.Priority != storage.PriorityNormal {
		t.Errorf("Webhook tasks should be normal priority, got %s", out.Task.Priority)
	}
	if out.Task.Config.LabelPrefix != "compliance:" {
		t.Errorf("Task should snapshot the label prefix, got %q", out.Task.Config.LabelPrefix)
	}

	counts, err := store.Counts()
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts.Pending != 1 {
		t.Errorf("Expected 1 pending task, got %d", counts.Pending)
	}
}

func TestWebhookDedupSameHead(t *testing.T) {
	_, ts, store := newTestServer(t, &stubClient{})

	resp := postJSON(t, ts.URL+"/api/webhook", prPayload("opened", "sha-1"))
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/webhook", prPayload("synchronize", "sha-1"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for duplicate, got %d", resp.StatusCode)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if out.Status != "duplicate" {
		t.Errorf("Expected status 'duplicate', got '%s'", out.Status)
	}

	counts, _ := store.Counts()
	if counts.Pending != 1 {
		t.Errorf("Duplicate webhook must not enqueue, got %d pending", counts.Pending)
	}
}

func TestWebhookNewCommitSupersedes(t *testing.T) {
	_, ts, store := newTestServer(t, &stubClient{})

	resp := postJSON(t, ts.URL+"/api/webhook", prPayload("opened", "sha-old"))
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/api/webhook", prPayload("synchronize", "sha-new"))
	resp.Body.Close()

	counts, err := store.Counts()
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts.Pending != 1 {
		t.Errorf("Expected 1 pending task after supersede, got %d", counts.Pending)
	}
	if counts.Cancelled != 1 {
		t.Errorf("Expected the stale task cancelled, got %d", counts.Cancelled)
	}

	tasks, _ := store.ListTasks("pending", 10)
	if len(tasks) != 1 || tasks[0].HeadSHA != "sha-new" {
		t.Errorf("Pending task should be for the new head, got %+v", tasks)
	}
}

func TestWebhookIgnoresIrrelevantEvents(t *testing.T) {
	_, ts, store := newTestServer(t, &stubClient{})

	for _, payload := range []WebhookPayload{
		{EventType: "push", Owner: "acme", Repo: "payments", PRNumber: 7, HeadSHA: "s"},
		{EventType: "pull_request", Action: "labeled", Owner: "acme", Repo: "payments", PRNumber: 7, HeadSHA: "s"},
		{EventType: "pull_request", Action: "closed", Owner: "acme", Repo: "payments", PRNumber: 7, HeadSHA: "s"},
	} {
		resp := postJSON(t, ts.URL+"/api/webhook", payload)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200 for ignored event, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	counts, _ := store.Counts()
	if counts.Pending != 0 {
		t.Errorf("Ignored events must not enqueue, got %d pending", counts.Pending)
	}
}

func TestWebhookRejectsIncompletePayload(t *testing.T) {
	_, ts, _ := newTestServer(t, &stubClient{})

	payload := prPayload("opened", "") // missing head SHA
	resp := postJSON(t, ts.URL+"/api/webhook", payload)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestReanalyzeHighPriorityBypassesDedup(t *testing.T) {
	client := &stubClient{pr: &platform.PullRequest{Number: 7, HeadSHA: "sha-head", BaseSHA: "sha-base"}}
	_, ts, store := newTestServer(t, client)

	// Seed an active task for the same head
	payload := prPayload("opened", "sha-head")
	resp := postJSON(t, ts.URL+"/api/webhook", payload)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/reanalyze", ReanalyzeRequest{Owner: "acme", Repo: "payments", PRNumber: 7})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	var out struct {
		Task storage.Task `json:"task"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if out.Task.Priority != storage.PriorityHigh {
		t.Errorf("Reanalyze tasks should be high priority, got %s", out.Task.Priority)
	}
	if out.Task.HeadSHA != "sha-head" {
		t.Errorf("Reanalyze should resolve the current head, got %q", out.Task.HeadSHA)
	}

	counts, _ := store.Counts()
	if counts.Pending != 2 {
		t.Errorf("Reanalyze must bypass dedup, got %d pending", counts.Pending)
	}
}

func TestCancelEndpoint(t *testing.T) {
	_, ts, store := newTestServer(t, &stubClient{})

	resp := postJSON(t, ts.URL+"/api/webhook", prPayload("opened", "sha-1"))
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/task/cancel", CancelRequest{Owner: "acme", Repo: "payments", PRNumber: 7})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Cancelled int `json:"cancelled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if out.Cancelled != 1 {
		t.Errorf("Expected 1 cancelled, got %d", out.Cancelled)
	}

	counts, _ := store.Counts()
	if counts.Cancelled != 1 {
		t.Errorf("Expected 1 cancelled task in store, got %d", counts.Cancelled)
	}
}

func TestTaskEndpoints(t *testing.T) {
	_, ts, _ := newTestServer(t, &stubClient{})

	resp := postJSON(t, ts.URL+"/api/webhook", prPayload("opened", "sha-1"))
	var created struct {
		Task storage.Task `json:"task"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	resp.Body.Close()

	// List
	listResp, err := http.Get(ts.URL + "/api/tasks")
	if err != nil {
		t.Fatalf("GET /api/tasks failed: %v", err)
	}
	defer listResp.Body.Close()
	var list struct {
		Tasks []storage.Task `json:"tasks"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if len(list.Tasks) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(list.Tasks))
	}

	// Get by ID
	getResp, err := http.Get(fmt.Sprintf("%s/api/task?id=%d", ts.URL, created.Task.ID))
	if err != nil {
		t.Fatalf("GET /api/task failed: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", getResp.StatusCode)
	}

	// Missing ID
	missResp, err := http.Get(ts.URL + "/api/task?id=9999")
	if err != nil {
		t.Fatalf("GET /api/task failed: %v", err)
	}
	defer missResp.Body.Close()
	if missResp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown task, got %d", missResp.StatusCode)
	}
}

func TestStatusAndHealthEndpoints(t *testing.T) {
	_, ts, _ := newTestServer(t, &stubClient{})

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()
	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.MaxWorkers != config.DefaultConfig().MaxWorkers {
		t.Errorf("MaxWorkers = %d, want %d", status.MaxWorkers, config.DefaultConfig().MaxWorkers)
	}

	healthResp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health failed: %v", err)
	}
	defer healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Errorf("Expected healthy 200, got %d", healthResp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t, &stubClient{})

	resp := postJSON(t, ts.URL+"/api/webhook", prPayload("opened", "sha-1"))
	resp.Body.Close()

	metricsResp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", metricsResp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(metricsResp.Body); err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	body := buf.String()
	for _, metric := range []string{"mergegate_tasks_enqueued_total", "mergegate_webhooks_total", "mergegate_tasks"} {
		if !bytes.Contains([]byte(body), []byte(metric)) {
			t.Errorf("Metrics output should contain %s", metric)
		}
	}
}
