package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/llm"
	_ "github.com/c360studio/icl/llm/providers"
	"github.com/c360studio/icl/model"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

// envOf turns a map into a getenv func.
func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadFixtures_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "gemini-2.5-pro.md", "```json\n{\"goal\":\"plan\"}\n```")
	writeFixture(t, dir, "default.json", `{"verdict":"approved"}`)

	set, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 models, got %d", len(set))
	}
	for name, seq := range set {
		if len(seq) != 1 {
			t.Errorf("model %q: expected 1 fixture, got %d", name, len(seq))
		}
	}
}

func TestLoadFixtures_Sequential(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "default.1.txt", "not json at all")
	writeFixture(t, dir, "default.2.md", "```json\n{\"fixed\": true}\n```")
	writeFixture(t, dir, "default.10.md", "tenth")
	writeFixture(t, dir, "default.md", "fallback")

	set, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}
	seq := set["default"]
	want := []string{"not json at all", "```json\n{\"fixed\": true}\n```", "tenth", "fallback"}
	if len(seq) != len(want) {
		t.Fatalf("expected %d fixtures, got %d", len(want), len(seq))
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("fixture[%d] = %q, want %q", i, seq[i], want[i])
		}
	}
}

func TestLoadFixtures_Errors(t *testing.T) {
	t.Run("empty dir", func(t *testing.T) {
		if _, err := loadFixtures(t.TempDir()); err == nil {
			t.Fatal("expected error for empty directory")
		}
	})
	t.Run("invalid json", func(t *testing.T) {
		dir := t.TempDir()
		writeFixture(t, dir, "default.json", "{nope")
		if _, err := loadFixtures(dir); err == nil || !strings.Contains(err.Error(), "invalid JSON") {
			t.Fatalf("expected invalid JSON error, got %v", err)
		}
	})
	t.Run("hidden dirs skipped", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(dir, ".state"), 0o755); err != nil {
			t.Fatal(err)
		}
		writeFixture(t, filepath.Join(dir, ".state"), "calls.txt", "3")
		if _, err := loadFixtures(dir); err == nil {
			t.Fatal("expected error: only hidden files present")
		}
	})
}

func TestLookup(t *testing.T) {
	set := fixtures{
		"planner": {"plan"},
		"default": {"anything"},
	}
	tests := []struct {
		model string
		want  string
	}{
		{"planner", "planner"},
		{"mock-planner", "planner"},
		{"gemini-2.5-flash", "default"},
		{"", "default"},
	}
	for _, tt := range tests {
		key, _, ok := set.lookup(tt.model)
		if !ok || key != tt.want {
			t.Errorf("lookup(%q) = %q, %v; want %q", tt.model, key, ok, tt.want)
		}
	}

	if _, _, ok := (fixtures{"planner": {"plan"}}).lookup("reviewer"); ok {
		t.Error("lookup without a default fixture should fail")
	}
}

func TestParseArgs(t *testing.T) {
	req, err := parseArgs([]string{"-m", "gemini-2.5-pro", "--output-format", "text", "--approval-mode", "yolo", "Build the thing"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if req.Model != "gemini-2.5-pro" || req.OutputFormat != "text" || req.ApprovalMode != "yolo" {
		t.Errorf("unexpected flags: %+v", req)
	}
	if req.Prompt != "Build the thing" {
		t.Errorf("prompt = %q", req.Prompt)
	}

	if _, err := parseArgs([]string{"-m", "x"}); err == nil {
		t.Error("expected error without a prompt")
	}
}

func TestRunCLI_ServesSequentially(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "default.1.md", "first")
	writeFixture(t, dir, "default.md", "again")
	capture := filepath.Join(t.TempDir(), "prompts.txt")
	getenv := envOf(map[string]string{envFixtures: dir, envCapture: capture})

	var replies []string
	for i := 0; i < 3; i++ {
		var stdout, stderr bytes.Buffer
		if code := runCLI([]string{"-m", "gemini-2.5-flash", "prompt " + string(rune('A'+i))}, &stdout, &stderr, getenv); code != exitOK {
			t.Fatalf("call %d: exit %d, stderr %s", i+1, code, stderr.String())
		}
		replies = append(replies, stdout.String())
	}
	want := []string{"first", "again", "again"}
	for i := range want {
		if replies[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i+1, replies[i], want[i])
		}
	}

	data, err := os.ReadFile(capture)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	for _, p := range []string{"=== call 1 model=gemini-2.5-flash", "prompt A", "prompt C"} {
		if !strings.Contains(string(data), p) {
			t.Errorf("capture missing %q", p)
		}
	}
}

func TestRunCLI_RateLimitThenReply(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "default.md", "ok")
	getenv := envOf(map[string]string{envFixtures: dir, envRateLimit: "2"})

	for i := 1; i <= 2; i++ {
		var stdout, stderr bytes.Buffer
		code := runCLI([]string{"hello"}, &stdout, &stderr, getenv)
		if code != exitRateLimited {
			t.Fatalf("call %d: exit %d, want %d", i, code, exitRateLimited)
		}
		if !llm.LooksRateLimited(stderr.String()) {
			t.Errorf("call %d: stderr does not look rate limited: %s", i, stderr.String())
		}
	}

	var stdout, stderr bytes.Buffer
	if code := runCLI([]string{"hello"}, &stdout, &stderr, getenv); code != exitOK {
		t.Fatalf("third call: exit %d", code)
	}
	if stdout.String() != "ok" {
		t.Errorf("reply = %q", stdout.String())
	}
}

func TestRunCLI_Failures(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "planner.md", "plan")

	tests := []struct {
		name string
		args []string
		env  map[string]string
		want int
	}{
		{"no fixtures env", []string{"hi"}, map[string]string{}, exitUsage},
		{"no prompt", nil, map[string]string{envFixtures: dir}, exitUsage},
		{"bad sleep", []string{"hi"}, map[string]string{envFixtures: dir, envSleep: "soon"}, exitUsage},
		{"forced failure", []string{"hi"}, map[string]string{envFixtures: dir, envFail: "boom"}, exitFailed},
		{"unknown model", []string{"-m", "reviewer", "hi"}, map[string]string{envFixtures: dir, envState: t.TempDir()}, exitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := runCLI(tt.args, &stdout, &stderr, envOf(tt.env)); code != tt.want {
				t.Errorf("exit %d, want %d (stderr %s)", code, tt.want, stderr.String())
			}
			if stdout.Len() != 0 {
				t.Errorf("unexpected reply %q", stdout.String())
			}
		})
	}
}

func doCompletion(t *testing.T, s *server, model string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(chatRequest{Model: model, Messages: []chatMessage{{Role: "user", Content: "test prompt"}}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)
	return w
}

func content(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Choices) == 0 {
		t.Fatal("no choices")
	}
	return resp.Choices[0].Message.Content
}

func TestServer_SequentialFixtureSelection(t *testing.T) {
	s := newServer(fixtures{
		"reviewer": {`{"verdict":"needs_changes"}`, `{"verdict":"approved"}`},
		"planner":  {`{"goal":"test plan"}`},
	}, 0, nil)

	for i, want := range []string{"needs_changes", "approved", "approved"} {
		if got := content(t, doCompletion(t, s, "mock-reviewer")); !strings.Contains(got, want) {
			t.Errorf("call %d: expected %s, got %s", i+1, want, got)
		}
	}
	if got := content(t, doCompletion(t, s, "planner")); !strings.Contains(got, "test plan") {
		t.Errorf("planner: got %s", got)
	}

	w := httptest.NewRecorder()
	s.handleStats(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var stats struct {
		TotalCalls     int64          `json:"total_calls"`
		CallsByFixture map[string]int `json:"calls_by_fixture"`
	}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalCalls != 4 || stats.CallsByFixture["reviewer"] != 3 || stats.CallsByFixture["planner"] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	w = httptest.NewRecorder()
	s.handleRequests(w, httptest.NewRequest(http.MethodGet, "/requests?model=mock-reviewer&call=2", nil))
	var captured struct {
		Requests []capturedRequest `json:"requests"`
	}
	if err := json.NewDecoder(w.Body).Decode(&captured); err != nil {
		t.Fatalf("decode requests: %v", err)
	}
	if len(captured.Requests) != 1 || captured.Requests[0].Prompt != "test prompt" {
		t.Errorf("unexpected captured requests: %+v", captured.Requests)
	}
}

func TestServer_UnknownModelAndRateLimit(t *testing.T) {
	s := newServer(fixtures{"planner": {"plan"}}, 1, nil)

	if w := doCompletion(t, s, "planner"); w.Code != http.StatusTooManyRequests {
		t.Errorf("first call: status %d, want 429", w.Code)
	}
	if w := doCompletion(t, s, "reviewer"); w.Code != http.StatusNotFound {
		t.Errorf("unknown model: status %d, want 404", w.Code)
	}
	if w := doCompletion(t, s, "planner"); w.Code != http.StatusOK {
		t.Errorf("third call: status %d, want 200", w.Code)
	}
}

func TestServer_HTTPBinding(t *testing.T) {
	srv := httptest.NewServer(newServer(fixtures{"default": {"```json\n{\"ok\": true}\n```"}}, 1, nil).routes())
	defer srv.Close()

	client := llm.NewHTTPClient(llm.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	out, err := client.Prompt(context.Background(), "hello", llm.Options{
		Endpoint: &model.EndpointConfig{Binding: model.BindingHTTP, Provider: "openai", URL: srv.URL + "/v1", Model: "gpt-test"},
	})
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if !strings.Contains(out, `"ok": true`) {
		t.Errorf("reply = %q", out)
	}
}

// buildMock compiles this binary so the cli binding can spawn it.
func buildMock(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds the mock-llm binary")
	}
	if runtime.GOOS == "windows" {
		t.Skip("subprocess tests require a POSIX system")
	}
	bin := filepath.Join(t.TempDir(), "mock-llm")
	cmd := exec.Command("go", "build", "-o", bin, ".")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build mock-llm: %v\n%s", err, out)
	}
	return bin
}

func TestCLIBinding_RetriesRateLimits(t *testing.T) {
	bin := buildMock(t)
	dir := t.TempDir()
	writeFixture(t, dir, "default.md", "```json\n{\"components\": [\"parser\"]}\n```")
	t.Setenv(envFixtures, dir)
	t.Setenv(envRateLimit, "2")

	var lines []string
	client := llm.NewCLIClient(
		llm.WithDefaultCLI(bin),
		llm.WithWorkDir(t.TempDir()),
		llm.WithSleeper(func(context.Context, time.Duration) error { return nil }),
		llm.WithStderr(func(line string) { lines = append(lines, line) }),
	)
	out, err := client.Prompt(context.Background(), "Design the calculator", llm.Options{Model: "gemini-2.5-pro", Streaming: true})
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if !strings.Contains(out, "parser") {
		t.Errorf("reply = %q", out)
	}
	if len(lines) == 0 {
		t.Error("expected streamed stderr lines")
	}
}

func TestCLIBinding_RateLimitExhausted(t *testing.T) {
	bin := buildMock(t)
	dir := t.TempDir()
	writeFixture(t, dir, "default.md", "never served")
	t.Setenv(envFixtures, dir)
	t.Setenv(envRateLimit, "5")

	client := llm.NewCLIClient(
		llm.WithDefaultCLI(bin),
		llm.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	_, err := client.Prompt(context.Background(), "hello", llm.Options{})
	if !failure.Is(err, failure.LLMUnavailable) {
		t.Fatalf("expected LLMUnavailable, got %v", err)
	}
	if !llm.IsRateLimited(err) {
		t.Errorf("expected a rate-limit cause, got %v", err)
	}
}

func TestCLIBinding_CancelKillsSlowCall(t *testing.T) {
	bin := buildMock(t)
	dir := t.TempDir()
	writeFixture(t, dir, "default.md", "too late")
	t.Setenv(envFixtures, dir)
	t.Setenv(envSleep, "30s")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := llm.NewCLIClient(llm.WithDefaultCLI(bin)).Prompt(ctx, "hello", llm.Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the context error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("cancel took %s", elapsed)
	}
}
