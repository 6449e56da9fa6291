package llm

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/icl/metrics"
)

// DefaultTimeout bounds one attempt of a CLI or HTTP call.
const DefaultTimeout = 10 * time.Minute

// settings is shared by the bindings; options that do not apply to a binding
// are ignored by it.
type settings struct {
	workDir      string
	defaultCLI   string
	defaultModel string
	outputFormat string
	approvalMode string
	debug        bool
	timeout      time.Duration
	retry        RetryConfig
	sleep        Sleeper
	stderr       func(line string)
	logger       *slog.Logger
	metrics      *metrics.Metrics
	httpClient   *http.Client
}

func newSettings(opts []Option) settings {
	s := settings{
		defaultCLI:   "gemini",
		approvalMode: "yolo",
		timeout:      DefaultTimeout,
		retry:        DefaultRetryConfig(),
		sleep:        SleepContext,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: s.timeout}
	}
	return s
}

// Option configures a client.
type Option func(*settings)

// WithWorkDir sets the directory the CLI runs in.
func WithWorkDir(dir string) Option {
	return func(s *settings) { s.workDir = dir }
}

// WithDefaultCLI sets the executable used when Options.CLI is empty.
func WithDefaultCLI(cli string) Option {
	return func(s *settings) {
		if cli != "" {
			s.defaultCLI = cli
		}
	}
}

// WithDefaultModel sets the model used when Options.Model is empty.
func WithDefaultModel(m string) Option {
	return func(s *settings) { s.defaultModel = m }
}

// WithOutputFormat passes --output-format to the CLI.
func WithOutputFormat(f string) Option {
	return func(s *settings) { s.outputFormat = f }
}

// WithApprovalMode sets --approval-mode; empty omits the flag.
func WithApprovalMode(mode string) Option {
	return func(s *settings) { s.approvalMode = mode }
}

// WithDebug passes --debug to the CLI and streams its stderr.
func WithDebug(debug bool) Option {
	return func(s *settings) { s.debug = debug }
}

// WithTimeout bounds each attempt. Zero disables the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *settings) { s.retry = cfg }
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(fn Sleeper) Option {
	return func(s *settings) { s.sleep = fn }
}

// WithStderr receives the tool's stderr line by line while streaming.
func WithStderr(fn func(line string)) Option {
	return func(s *settings) { s.stderr = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records call counts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithHTTPClient sets a custom HTTP client for the http binding.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}
