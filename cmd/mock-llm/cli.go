package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment variables read in CLI mode.
const (
	envFixtures  = "MOCK_LLM_FIXTURES"
	envState     = "MOCK_LLM_STATE"
	envRateLimit = "MOCK_LLM_RATE_LIMIT"
	envSleep     = "MOCK_LLM_SLEEP"
	envFail      = "MOCK_LLM_FAIL"
	envCapture   = "MOCK_LLM_CAPTURE"
)

// rateLimitMessage mimics the stderr of a quota-limited coding CLI.
const rateLimitMessage = "Error: You have exhausted your capacity on this model. Status 429 RESOURCE_EXHAUSTED"

// Exit statuses of the fake tool.
const (
	exitOK          = 0
	exitRateLimited = 1
	exitFailed      = 2
	exitUsage       = 64
)

// cliRequest is one invocation as a coding CLI receives it.
type cliRequest struct {
	Model        string
	ApprovalMode string
	OutputFormat string
	Debug        bool
	Prompt       string
}

// parseArgs reads the flags a coding CLI accepts; the prompt is the last
// positional argument.
func parseArgs(args []string) (cliRequest, error) {
	var req cliRequest
	fs := flag.NewFlagSet("mock-llm", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&req.Model, "m", "", "model")
	fs.StringVar(&req.Model, "model", "", "model")
	fs.StringVar(&req.ApprovalMode, "approval-mode", "", "approval mode")
	fs.StringVar(&req.OutputFormat, "output-format", "", "output format")
	fs.BoolVar(&req.Debug, "debug", false, "debug output")
	if err := fs.Parse(args); err != nil {
		return req, err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return req, errors.New("missing prompt argument")
	}
	req.Prompt = rest[len(rest)-1]
	return req, nil
}

// behavior is the scripted failure and timing of a CLI invocation.
type behavior struct {
	fixturesDir string
	stateDir    string

	// rateLimit fails the first N invocations with a rate-limit error.
	rateLimit int

	// sleep delays the reply.
	sleep time.Duration

	// fail, when set, is written to stderr and the call fails fatally.
	fail string

	// capture appends every prompt to this file.
	capture string
}

func behaviorFromEnv(getenv func(string) string) (behavior, error) {
	b := behavior{
		fixturesDir: getenv(envFixtures),
		stateDir:    getenv(envState),
		fail:        getenv(envFail),
		capture:     getenv(envCapture),
	}
	if b.fixturesDir == "" {
		return b, fmt.Errorf("%s is not set", envFixtures)
	}
	if b.stateDir == "" {
		b.stateDir = filepath.Join(b.fixturesDir, ".state")
	}
	if v := getenv(envRateLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return b, fmt.Errorf("%s: %w", envRateLimit, err)
		}
		b.rateLimit = n
	}
	if v := getenv(envSleep); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return b, fmt.Errorf("%s: %w", envSleep, err)
		}
		b.sleep = d
	}
	return b, nil
}

// runCLI serves one invocation and returns the exit status. Each process
// answers a single prompt, so call counters live in files under the state
// directory.
func runCLI(args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	req, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "mock-llm: %v\n", err)
		return exitUsage
	}
	b, err := behaviorFromEnv(getenv)
	if err != nil {
		fmt.Fprintf(stderr, "mock-llm: %v\n", err)
		return exitUsage
	}

	total, err := bump(filepath.Join(b.stateDir, "calls"))
	if err != nil {
		fmt.Fprintf(stderr, "mock-llm: %v\n", err)
		return exitFailed
	}
	fmt.Fprintf(stderr, "mock-llm: call %d model=%q approval=%q format=%q\n",
		total, req.Model, req.ApprovalMode, req.OutputFormat)

	if b.capture != "" {
		if err := appendCapture(b.capture, total, req); err != nil {
			fmt.Fprintf(stderr, "mock-llm: %v\n", err)
			return exitFailed
		}
	}
	if total <= b.rateLimit {
		fmt.Fprintln(stderr, rateLimitMessage)
		return exitRateLimited
	}
	if b.fail != "" {
		fmt.Fprintln(stderr, b.fail)
		return exitFailed
	}
	if b.sleep > 0 {
		time.Sleep(b.sleep)
	}

	set, err := loadFixtures(b.fixturesDir)
	if err != nil {
		fmt.Fprintf(stderr, "mock-llm: %v\n", err)
		return exitFailed
	}
	key, seq, ok := set.lookup(req.Model)
	if !ok {
		fmt.Fprintf(stderr, "mock-llm: no fixture for model %q and no %s fixture\n", req.Model, defaultModel)
		return exitFailed
	}
	n, err := bump(filepath.Join(b.stateDir, "model-"+key))
	if err != nil {
		fmt.Fprintf(stderr, "mock-llm: %v\n", err)
		return exitFailed
	}

	reply := pick(seq, n-1)
	fmt.Fprintf(stderr, "mock-llm: fixture %s %d/%d (%d bytes)\n", key, n, len(seq), len(reply))
	_, _ = io.WriteString(stdout, reply)
	return exitOK
}

// bump increments the counter stored at path and returns the new value.
func bump(path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create state dir: %w", err)
	}
	n := 0
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		n, err = strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return 0, fmt.Errorf("corrupt counter %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return 0, fmt.Errorf("read counter: %w", err)
	}
	n++
	if err := os.WriteFile(path, []byte(strconv.Itoa(n)), 0o644); err != nil {
		return 0, fmt.Errorf("write counter: %w", err)
	}
	return n, nil
}

// appendCapture records the prompt, framed so tests can split calls apart.
func appendCapture(path string, call int, req cliRequest) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "=== call %d model=%s\n%s\n", call, req.Model, req.Prompt)
	return err
}
