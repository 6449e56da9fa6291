package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// capturedRequest stores the prompt of one call for test verification.
type capturedRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	CallIndex int    `json:"call_index"` // 1-indexed per-fixture call number
}

// server answers chat completions from fixtures, for the http binding. It
// shares the fixture layout and rate-limit behavior of CLI mode, with the
// counters held in memory.
type server struct {
	fixtures  fixtures
	rateLimit int64
	logger    *slog.Logger

	calls atomic.Int64

	mu         sync.Mutex
	modelCalls map[string]int
	requests   []capturedRequest
}

func newServer(f fixtures, rateLimit int, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		fixtures:   f,
		rateLimit:  int64(rateLimit),
		logger:     logger,
		modelCalls: make(map[string]int),
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)
	return mux
}

// serve runs the HTTP mode until the process is killed.
func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fixtureDir := fs.String("fixtures", os.Getenv(envFixtures), "directory containing fixture reply files")
	port := fs.Int("port", 11434, "port to listen on")
	rateLimit := fs.Int("rate-limit", 0, "answer the first N calls with HTTP 429")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fixtureDir == "" {
		return fmt.Errorf("-fixtures or %s is required", envFixtures)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	set, err := loadFixtures(*fixtureDir)
	if err != nil {
		return fmt.Errorf("load fixtures from %s: %w", *fixtureDir, err)
	}
	for model, seq := range set {
		logger.Info("Loaded fixture", "model", model, "replies", len(seq))
	}

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock LLM server listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(set, *rateLimit, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	if callNum <= s.rateLimit {
		s.logger.Info("Rate limiting call", "call", callNum, "model", req.Model)
		http.Error(w, `{"error": {"message": "rate limit exceeded", "code": 429}}`, http.StatusTooManyRequests)
		return
	}

	key, seq, ok := s.fixtures.lookup(req.Model)
	if !ok {
		s.logger.Warn("No fixture for model", "call", callNum, "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	s.mu.Lock()
	s.modelCalls[key]++
	index := s.modelCalls[key]
	s.requests = append(s.requests, capturedRequest{Model: req.Model, Prompt: lastUser(req.Messages), CallIndex: index})
	s.mu.Unlock()

	content := pick(seq, index-1)
	s.logger.Debug("Serving fixture", "call", callNum, "fixture", key, "index", index, "of", len(seq))

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", callNum),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func lastUser(msgs []chatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byFixture := make(map[string]int, len(s.modelCalls))
	for k, v := range s.modelCalls {
		byFixture[k] = v
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":      s.calls.Load(),
		"calls_by_fixture": byFixture,
	})
}

// handleRequests returns captured prompts. Query params:
//   - model: filter by requested model (optional)
//   - call: filter by 1-indexed call number (optional)
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callFilter, _ := strconv.Atoi(r.URL.Query().Get("call"))

	s.mu.Lock()
	out := []capturedRequest{}
	for _, req := range s.requests {
		if modelFilter != "" && req.Model != modelFilter {
			continue
		}
		if callFilter > 0 && req.CallIndex != callFilter {
			continue
		}
		out = append(out, req)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"requests": out})
}
