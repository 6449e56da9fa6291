package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/icl/config"
	"github.com/c360studio/icl/events"
	"github.com/c360studio/icl/interaction"
	"github.com/c360studio/icl/loop"
	"github.com/c360studio/icl/metrics"
	"github.com/c360studio/icl/storage"
	"github.com/c360studio/icl/workspace"
)

// runOptions are the flags shared by run and resume.
type runOptions struct {
	ontologyPath  string
	yolo          bool
	maxIterations int
	metricsFile   string
	metricsAddr   string
	name          string
	stream        bool
	noTrack       bool
}

func (o *runOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.ontologyPath, "ontology", "", "Ontology document (default: the ontology.json found under the work dir)")
	cmd.Flags().BoolVar(&o.yolo, "yolo", false, "Run without confirming each action")
	cmd.Flags().IntVar(&o.maxIterations, "max-iterations", 0, "Cycle budget (default: loop.max_iterations)")
	cmd.Flags().StringVar(&o.metricsFile, "metrics-file", "", "Write Prometheus text metrics to this file at exit")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	cmd.Flags().BoolVar(&o.stream, "stream", false, "Show model progress while calls run")
	cmd.Flags().BoolVar(&o.noTrack, "no-track", false, "Do not record work-dir changes around model calls")
}

func runCmd(e *env, g *globalOptions) *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Start a new iteration",
		Long: `Start a new iteration toward a goal.

The goal seeds the root artifact. Without one, icl asks for it (or fails
under --yolo). Every action is confirmed first unless --yolo is set; a
declined action is skipped for the rest of its cycle.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(e, g)
			if err != nil {
				return err
			}
			goal := ""
			if len(args) == 1 {
				goal = strings.TrimSpace(args[0])
			}
			return app.Execute(cmd.Context(), o, goal, "")
		},
	}
	o.register(cmd)
	cmd.Flags().StringVar(&o.name, "name", "", "Iteration name (default: the project's app_name)")
	return cmd
}

func resumeCmd(e *env, g *globalOptions) *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "resume <id|latest>",
		Short: "Continue an iteration from its log and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(e, g)
			if err != nil {
				return err
			}
			return app.Execute(cmd.Context(), o, "", args[0])
		},
	}
	o.register(cmd)
	return cmd
}

// Execute runs an iteration to a terminal state. An empty resumeID starts a
// fresh iteration.
func (a *App) Execute(ctx context.Context, o runOptions, goal, resumeID string) error {
	var ui interaction.UI
	if o.yolo {
		ui = interaction.NewAutoUI(goal, a.logger)
	} else {
		console := interaction.NewConsoleUI(a.env.stdin, a.env.stdout)
		console.Quiet = !o.stream && !a.cfg.LLM.Debug
		ui = console
	}

	path, err := a.OntologyPath(ctx, o.ontologyPath, ui)
	if err != nil {
		return err
	}
	graph, _, err := a.LoadOntology(path)
	if err != nil {
		return err
	}

	var it *storage.Iteration
	if resumeID != "" {
		it, err = a.Iteration(resumeID)
	} else {
		name := o.name
		if name == "" {
			name = a.project.AppName
		}
		it, err = a.Iterations().Create(name)
	}
	if err != nil {
		return err
	}
	a.logger.Info("Iteration", "id", it.ID, "name", it.Name, "ontology", a.rel(path))

	m := metrics.New()
	defer func() {
		path := o.metricsFile
		if path == "" {
			path = a.cfg.Metrics.Textfile
		}
		if err := m.WriteTextfile(path); err != nil {
			a.logger.Warn("Failed to write metrics", "path", path, "error", err)
		}
	}()

	addr := o.metricsAddr
	if addr == "" {
		addr = a.cfg.Metrics.Addr
	}
	if addr != "" {
		_, stop, err := serveMetrics(addr, m, a.logger)
		if err != nil {
			a.logger.Warn("Metrics endpoint disabled", "addr", addr, "error", err)
		} else {
			defer stop()
		}
	}

	rcfg := a.loopConfig(o, goal)
	opts := []loop.Option{
		loop.WithLogger(a.logger),
		loop.WithIteration(it),
		loop.WithMetrics(m),
		loop.WithSink(events.NewSlogSink(a.logger.With("iteration", it.ID))),
	}

	if a.cfg.Events.NATSURL != "" {
		mirror, err := events.ConnectNATS(a.cfg.Events.NATSURL, a.cfg.Events.Subject, it.ID, a.logger)
		if err != nil {
			a.logger.Warn("Event mirror disabled", "url", a.cfg.Events.NATSURL, "error", err)
		} else {
			defer func() { _ = mirror.Close() }()
			opts = append(opts, loop.WithSink(mirror))
			a.logger.Info("Mirroring events", "subject", mirror.Subject())
		}
	}

	if !o.noTrack {
		tracker, err := workspace.NewTracker(workspace.Config{
			Root:   a.workDir,
			Ignore: a.cfg.Workspace.Ignore,
			Logger: a.logger,
		})
		if err != nil {
			a.logger.Warn("Work-dir tracking disabled", "error", err)
		} else if err := tracker.Start(ctx); err != nil {
			_ = tracker.Close()
			a.logger.Warn("Work-dir tracking disabled", "error", err)
		} else {
			defer func() { _ = tracker.Close() }()
			opts = append(opts, loop.WithTracker(tracker))
		}
	}

	rt := loop.New(graph, a.Client(ui, m), ui, rcfg, opts...)
	if resumeID != "" {
		if err := rt.Resume(ctx); err != nil {
			return err
		}
	}
	err = rt.Run(ctx)

	_, _ = fmt.Fprintf(a.env.stdout, "Iteration %s %s after %d cycle(s); %d artifact(s) in %s\n",
		it.ID, rt.State(), rt.Cycles(), rt.Store().Len(), a.rel(it.ArtifactsPath()))
	return err
}

// loopConfig merges flags over the loaded config.
func (a *App) loopConfig(o runOptions, goal string) loop.Config {
	rcfg := loop.DefaultConfig()
	rcfg.Goal = goal
	rcfg.MaxIterations = a.cfg.Loop.MaxIterations
	if o.maxIterations > 0 {
		rcfg.MaxIterations = o.maxIterations
	}
	rcfg.Observations = a.cfg.Loop.Observations
	rcfg.Confirm = !o.yolo
	rcfg.CommitHook = a.cfg.Loop.CommitHook
	rcfg.ModelCategory = a.cfg.LLM.Category
	rcfg.Streaming = o.stream || a.cfg.LLM.Debug

	// Without a models section, llm.cli and llm.model pin every call of the
	// cli binding. A models section leaves the choice to its endpoints.
	if a.cfg.Models == nil && a.cfg.LLM.Binding != config.BindingHTTP {
		rcfg.CLI = a.cfg.LLM.CLI
		rcfg.Model = a.cfg.LLM.Model
	}
	return rcfg
}

// serveMetrics exposes m on addr until the returned stop func is called. It
// returns the bound address, which differs from addr for port 0.
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server stopped", "error", err)
		}
	}()
	logger.Info("Serving metrics", "addr", ln.Addr().String())

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}, nil
}
