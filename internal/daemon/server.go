package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mergegate-dev/mergegate/internal/compliance"
	"github.com/mergegate-dev/mergegate/internal/config"
	"github.com/mergegate-dev/mergegate/internal/gate"
	"github.com/mergegate-dev/mergegate/internal/platform"
	"github.com/mergegate-dev/mergegate/internal/storage"
	"github.com/mergegate-dev/mergegate/internal/version"
)

// Server is the daemon's HTTP API: webhook intake, manual re-analysis,
// task inspection, health, event stream, and metrics
type Server struct {
	store         storage.Store
	configWatcher *ConfigWatcher
	broadcaster   Broadcaster
	workerPool    *WorkerPool
	client        platform.Client
	metrics       *Metrics
	httpServer    *http.Server
	startTime     time.Time

	reaperStop chan struct{}
}

// NewServer wires the daemon together: store, platform client, analyzer,
// worker pool, and HTTP surface
func NewServer(store storage.Store, cfg *config.Config, configPath string, client platform.Client, analyzer compliance.Analyzer) *Server {
	broadcaster := NewBroadcaster()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry, store)
	configWatcher := NewConfigWatcher(configPath, cfg)
	pipeline := gate.NewPipeline(client, analyzer)

	s := &Server{
		store:         store,
		configWatcher: configWatcher,
		broadcaster:   broadcaster,
		workerPool:    NewWorkerPool(store, configWatcher, pipeline, cfg.MaxWorkers, broadcaster, metrics),
		client:        client,
		metrics:       metrics,
		startTime:     time.Now(),
		reaperStop:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/webhook", s.handleWebhook)
	mux.HandleFunc("/api/reanalyze", s.handleReanalyze)
	mux.HandleFunc("/api/tasks", s.handleListTasks)
	mux.HandleFunc("/api/task", s.handleGetTask)
	mux.HandleFunc("/api/task/cancel", s.handleCancelForPR)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/stream/events", s.handleStreamEvents)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: mux,
	}

	return s
}

// Start reclaims stale leases, starts the workers and maintenance loop,
// and serves HTTP until Stop is called
func (s *Server) Start() error {
	// Tasks whose worker died with the previous process are still
	// in_progress with expired leases; put them back first.
	if n, err := s.store.ReclaimExpired(); err != nil {
		log.Printf("Warning: failed to reclaim expired leases: %v", err)
	} else if n > 0 {
		log.Printf("Reclaimed %d task(s) with expired leases", n)
	}

	if err := s.configWatcher.Start(); err != nil {
		log.Printf("Warning: config hot-reload disabled: %v", err)
	}

	s.workerPool.Start()
	go s.reaper()

	log.Printf("Listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	close(s.reaperStop)
	s.configWatcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.workerPool.Stop()
	return err
}

// reaper periodically reclaims expired leases and purges terminal tasks
// past retention
func (s *Server) reaper() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.reaperStop:
			return
		case <-ticker.C:
			if n, err := s.store.ReclaimExpired(); err != nil {
				log.Printf("Reaper: reclaim failed: %v", err)
			} else if n > 0 {
				log.Printf("Reaper: reclaimed %d expired lease(s)", n)
			}

			cfg := s.configWatcher.Config()
			completedTTL := time.Duration(cfg.CompletedTTLHours) * time.Hour
			failedTTL := time.Duration(cfg.FailedTTLHours) * time.Hour
			if n, err := s.store.PurgeTerminal(completedTTL, failedTTL); err != nil {
				log.Printf("Reaper: purge failed: %v", err)
			} else if n > 0 {
				log.Printf("Reaper: purged %d terminal task(s)", n)
			}
		}
	}
}

// WebhookPayload is the normalized hosting-platform event the intake
// accepts. Only pull_request events with a relevant action create work;
// everything else is a logged no-op.
type WebhookPayload struct {
	EventType string `json:"event_type"`
	Action    string `json:"action"`
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`
	PRNumber  int    `json:"pr_number"`
	HeadSHA   string `json:"head_sha"`
	BaseSHA   string `json:"base_sha,omitempty"`
}

// relevantAction reports whether a pull_request action warrants analysis
func relevantAction(action string) bool {
	switch action {
	case "opened", "synchronize", "reopened":
		return true
	}
	return false
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.metrics.WebhooksSeen.WithLabelValues("invalid").Inc()
		http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	if payload.EventType != "pull_request" || !relevantAction(payload.Action) {
		log.Printf("Webhook ignored: event=%s action=%s %s/%s#%d",
			payload.EventType, payload.Action, payload.Owner, payload.Repo, payload.PRNumber)
		s.metrics.WebhooksSeen.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if payload.Owner == "" || payload.Repo == "" || payload.PRNumber == 0 || payload.HeadSHA == "" {
		s.metrics.WebhooksSeen.WithLabelValues("invalid").Inc()
		http.Error(w, "owner, repo, pr_number, and head_sha are required", http.StatusBadRequest)
		return
	}

	// A new commit supersedes any queued analysis of older commits on the
	// same PR; their results would be stale the moment they landed.
	cancelled, err := s.store.CancelForPR(payload.Owner, payload.Repo, payload.PRNumber)
	if err != nil {
		s.writeInternalError(w, fmt.Sprintf("cancel superseded tasks: %v", err))
		return
	}
	if cancelled > 0 {
		log.Printf("Superseded %d pending task(s) for %s/%s#%d",
			cancelled, payload.Owner, payload.Repo, payload.PRNumber)
	}

	task, created, err := s.enqueue(payload, storage.PriorityNormal, false)
	if err != nil {
		s.writeInternalError(w, fmt.Sprintf("enqueue: %v", err))
		return
	}
	s.metrics.WebhooksSeen.WithLabelValues("enqueued").Inc()
	if !created {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "duplicate", "task": task})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "enqueued", "task": task})
}

// ReanalyzeRequest triggers a manual re-analysis of a PR
type ReanalyzeRequest struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ReanalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Owner == "" || req.Repo == "" || req.PRNumber == 0 {
		http.Error(w, "owner, repo, and pr_number are required", http.StatusBadRequest)
		return
	}

	// Resolve the current head so the check run lands on the right commit
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	pr, err := s.client.GetPullRequest(ctx, req.Owner, req.Repo, req.PRNumber)
	if err != nil {
		s.writeInternalError(w, fmt.Sprintf("resolve pull request: %v", err))
		return
	}

	payload := WebhookPayload{
		Owner:    req.Owner,
		Repo:     req.Repo,
		PRNumber: req.PRNumber,
		HeadSHA:  pr.HeadSHA,
		BaseSHA:  pr.BaseSHA,
	}
	// Manual requests jump the queue and bypass dedup: the operator asked
	// for a fresh run.
	task, _, err := s.enqueue(payload, storage.PriorityHigh, true)
	if err != nil {
		s.writeInternalError(w, fmt.Sprintf("enqueue: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "enqueued", "task": task})
}

// enqueue creates a task for the payload, snapshotting the current config.
// Unless bypassDedup is set, an existing active task for the same head SHA
// is returned instead of a duplicate.
func (s *Server) enqueue(payload WebhookPayload, priority storage.Priority, bypassDedup bool) (*storage.Task, bool, error) {
	if !bypassDedup {
		existing, err := s.store.FindActive(payload.Owner, payload.Repo, payload.PRNumber, payload.HeadSHA)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	cfg := s.configWatcher.Config()
	task := &storage.Task{
		Owner:      payload.Owner,
		Repo:       payload.Repo,
		PRNumber:   payload.PRNumber,
		HeadSHA:    payload.HeadSHA,
		BaseSHA:    payload.BaseSHA,
		Priority:   priority,
		MaxRetries: cfg.MaxRetries,
		Config: storage.TaskConfig{
			MaxRetries:      cfg.MaxRetries,
			TimeoutMinutes:  cfg.TaskTimeoutMinutes,
			LabelPrefix:     cfg.LabelPrefix,
			AnnotationLimit: cfg.AnnotationLimit,
			CommentLimit:    cfg.CommentLimit,
		},
	}

	task, err := s.store.Enqueue(task)
	if err != nil {
		return nil, false, err
	}
	s.metrics.TasksEnqueued.Inc()
	log.Printf("Enqueued task %d %s sha=%s priority=%s",
		task.ID, task.Slug(), shortSHA(task.HeadSHA), task.Priority)
	return task, true, nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	tasks, err := s.store.ListTasks(status, limit)
	if err != nil {
		s.writeInternalError(w, fmt.Sprintf("list tasks: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	task, err := s.store.GetTaskByID(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeInternalError(w, fmt.Sprintf("get task: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CancelRequest cancels pending tasks for a PR
type CancelRequest struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
}

func (s *Server) handleCancelForPR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Owner == "" || req.Repo == "" || req.PRNumber == 0 {
		http.Error(w, "owner, repo, and pr_number are required", http.StatusBadRequest)
		return
	}

	count, err := s.store.CancelForPR(req.Owner, req.Repo, req.PRNumber)
	if err != nil {
		s.writeInternalError(w, fmt.Sprintf("cancel: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": count})
}

// StatusResponse summarizes the daemon for the CLI
type StatusResponse struct {
	Version       string             `json:"version"`
	Uptime        string             `json:"uptime"`
	ActiveWorkers int                `json:"active_workers"`
	MaxWorkers    int                `json:"max_workers"`
	Tasks         storage.TaskCounts `json:"tasks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Counts()
	if err != nil {
		s.writeInternalError(w, fmt.Sprintf("task counts: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Version:       version.Version,
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		ActiveWorkers: s.workerPool.ActiveWorkers(),
		MaxWorkers:    s.workerPool.MaxWorkers(),
		Tasks:         counts,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// The store is the one dependency the daemon cannot run without
	if _, err := s.store.Counts(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"healthy": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": true,
		"version": version.Version,
	})
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	repo := r.URL.Query().Get("repo") // optional "owner/repo" filter
	id, events := s.broadcaster.Subscribe(repo)
	defer s.broadcaster.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) writeInternalError(w http.ResponseWriter, msg string) {
	log.Printf("Internal error: %s", msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
