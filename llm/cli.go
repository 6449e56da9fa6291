package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/icl/failure"
)

const (
	// stderrExcerpt is how much stderr is folded into error messages.
	stderrExcerpt = 500

	// maxStderrCapture bounds the stderr kept for rate-limit detection.
	maxStderrCapture = 64 * 1024

	// maxStderrLine is the longest stderr line the scanner accepts.
	maxStderrLine = 1024 * 1024

	// killWaitDelay is how long Wait lingers on pipes after the tool is killed.
	killWaitDelay = 5 * time.Second
)

// CLIClient runs an AI coding CLI as a subprocess, one process per attempt.
// The prompt is passed as the final argument and stdout is the reply.
type CLIClient struct {
	settings
}

// NewCLIClient creates a CLI binding.
func NewCLIClient(opts ...Option) *CLIClient {
	return &CLIClient{settings: newSettings(opts)}
}

// Args returns the argument vector for a prompt, excluding the executable.
func (c *CLIClient) Args(modelName, prompt string) []string {
	var args []string
	if modelName != "" {
		args = append(args, "-m", modelName)
	}
	if c.debug {
		args = append(args, "--debug")
	}
	if c.outputFormat != "" {
		args = append(args, "--output-format", c.outputFormat)
	}
	if c.approvalMode != "" {
		args = append(args, "--approval-mode", c.approvalMode)
	}
	return append(args, prompt)
}

// Prompt implements Client. Rate-limited and timed-out attempts are retried on
// the configured backoff schedule; any other non-zero exit fails immediately.
func (c *CLIClient) Prompt(ctx context.Context, text string, opts Options) (string, error) {
	bin := opts.CLI
	if bin == "" {
		bin = c.defaultCLI
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = c.defaultModel
	}
	stream := opts.Streaming || c.debug

	logger := c.logger.With("request_id", uuid.NewString(), "cli", bin, "model", modelName)
	logger.Debug("Sending prompt to CLI", "prompt_bytes", len(text), "work_dir", c.workDir)

	out, attempts, err := withRetry(ctx, c.retry, c.sleep,
		func(attempt int, backoff time.Duration, err error) {
			c.metrics.LLMRetry()
			logger.Warn("Model call failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retry.MaxAttempts,
				"backoff", backoff,
				"error", err)
		},
		func(int) (string, error) {
			return c.run(ctx, bin, modelName, text, stream, logger)
		})
	if err == nil {
		logger.Debug("CLI call succeeded", "attempts", attempts, "reply_bytes", len(out))
		return out, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	return "", &failure.Error{
		Kind:    failure.LLMUnavailable,
		Message: fmt.Sprintf("%s failed after %d attempt(s)", bin, attempts),
		Hint:    cliHint(bin, err),
		Err:     err,
	}
}

// run executes one attempt.
func (c *CLIClient) run(ctx context.Context, bin, modelName, text string, stream bool, logger *slog.Logger) (string, error) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, bin, c.Args(modelName, text)...)
	cmd.Dir = c.workDir
	configureProcess(cmd, killWaitDelay)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", NewFatalError(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", NewFatalError(fmt.Errorf("stderr pipe: %w", err))
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		c.metrics.LLMCall("cli", "spawn_error", time.Since(start))
		return "", NewFatalError(fmt.Errorf("spawn %s: %w", bin, err))
	}

	var out bytes.Buffer
	var errText strings.Builder
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&out, stdout)
		return err
	})
	g.Go(func() error {
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), maxStderrLine)
		for sc.Scan() {
			line := sc.Text()
			if errText.Len() < maxStderrCapture {
				errText.WriteString(line)
				errText.WriteByte('\n')
			}
			if stream && c.stderr != nil {
				c.stderr(line)
			}
		}
		err := sc.Err()
		// Keep draining so the tool never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, stderr)
		return err
	})

	readErr := g.Wait()
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	switch {
	case ctx.Err() != nil:
		c.metrics.LLMCall("cli", "cancelled", elapsed)
		return "", ctx.Err()
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		c.metrics.LLMCall("cli", "timeout", elapsed)
		return "", NewTransientError(fmt.Errorf("%s timed out after %s", bin, c.timeout))
	case waitErr != nil:
		detail := fmt.Sprintf("%s failed with %v. Stderr: %s", bin, waitErr, excerpt(errText.String(), stderrExcerpt))
		if LooksRateLimited(errText.String()) || LooksRateLimited(tail(out.String(), stderrExcerpt)) {
			c.metrics.LLMCall("cli", "rate_limited", elapsed)
			logger.Warn("Model rate limited", "elapsed", elapsed)
			return "", NewTransientError(&RateLimitError{Detail: detail})
		}
		c.metrics.LLMCall("cli", "error", elapsed)
		return "", NewFatalError(errors.New(detail))
	case readErr != nil:
		c.metrics.LLMCall("cli", "error", elapsed)
		return "", NewTransientError(fmt.Errorf("read %s output: %w", bin, readErr))
	}

	c.metrics.LLMCall("cli", "ok", elapsed)
	return out.String(), nil
}

func cliHint(bin string, err error) string {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Sprintf("Install `%s` or set llm.cli in icl.yaml.", bin)
	case IsRateLimited(err):
		return "The model is rate limited; wait for the quota to reset or map the category to another model."
	default:
		return ""
	}
}

// excerpt returns the first n bytes of s, trimmed.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tail returns at most the last n bytes of s, starting on a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
