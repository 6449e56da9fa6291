// Package main provides the icl binary entry point.
// icl drives LLM-backed agents through an ontology of software artifacts
// until every artifact exists and passes its verifications.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/llm"

	// Register HTTP providers via init()
	_ "github.com/c360studio/icl/llm/providers"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "icl"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(failure.ExitFailed)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd(defaultEnv()).ExecuteContext(ctx)
	stop()
	if err != nil {
		report(os.Stderr, err)
		os.Exit(failure.ExitCode(err))
	}
}

// env carries the process surface so tests can run commands in-process.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// userConfig overrides the user config location.
	userConfig string

	// client replaces the configured LLM bindings.
	client llm.Client

	// setDefault installs the command logger as slog's default.
	setDefault bool

	logger *slog.Logger
}

func defaultEnv() *env {
	return &env{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		setDefault: true,
	}
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	workDir    string
	logLevel   string
}

func rootCmd(e *env) *cobra.Command {
	var g globalOptions

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Ontology-driven code synthesis loop",
		Long: `icl plans, prompts and validates until the work an ontology describes is done.

An ontology.json names the agents, the artifacts they create, refine and
verify, and the dependencies between artifacts. Each cycle icl picks the
next eligible action, prompts the agent's model, checks the reply against
the artifact's JSON schema and persists it under .infinitecodingloop/.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(g.logLevel)
			if err != nil {
				return err
			}
			e.logger = slog.New(slog.NewTextHandler(e.stderr, &slog.HandlerOptions{Level: level}))
			if e.setDefault {
				slog.SetDefault(e.logger)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML), replaces the icl.yaml search")
	cmd.PersistentFlags().StringVarP(&g.workDir, "work-dir", "w", ".", "Project directory to operate on")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		initCmd(e, &g),
		runCmd(e, &g),
		resumeCmd(e, &g),
		iterationsCmd(e, &g),
		replayCmd(e, &g),
		ontologyCmd(e, &g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintf(e.stdout, "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q (debug, info, warn, error)", s)
}

// report prints the failure and, when it has one, its hint.
func report(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	if hint := failure.HintOf(err); hint != "" {
		_, _ = fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}
