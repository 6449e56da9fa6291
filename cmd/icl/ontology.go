package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/icl/config"
	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/ontology"
	"github.com/c360studio/icl/planner"
)

// defaultSimulationSteps bounds a dry run.
const defaultSimulationSteps = 200

func ontologyCmd(e *env, g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ontology",
		Short: "Inspect ontology documents",
	}
	cmd.AddCommand(ontologyValidateCmd(e, g), ontologySimulateCmd(e, g))
	return cmd
}

// ontologyConfig loads the layered config without touching the project
// layout, so the ontology commands work on any directory.
func ontologyConfig(e *env, g *globalOptions) (*config.Config, error) {
	loader := config.NewLoader(e.logger)
	loader.UserPath = e.userConfig
	cfg, err := loader.Load(g.workDir, g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func ontologyValidateCmd(e *env, g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Load an ontology and report problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ontologyConfig(e, g)
			if err != nil {
				return err
			}
			graph, report, err := loadOntology(cfg, args[0], e.logger)
			if err != nil {
				return err
			}

			var agents, artifacts int
			for _, ent := range graph.Entities() {
				switch ent.Class {
				case ontology.ClassAgent:
					agents++
				case ontology.ClassArtifact:
					artifacts++
				}
			}
			_, _ = fmt.Fprintf(e.stdout, "%s: %d agent(s), %d artifact kind(s), %d relation(s), root %s\n",
				args[0], agents, artifacts, len(graph.Relations()), graph.Root())
			for _, w := range report.Warnings {
				_, _ = fmt.Fprintf(e.stdout, "  warning: %s\n", w)
			}
			_, _ = fmt.Fprintln(e.stdout, "OK")
			return nil
		},
	}
}

func ontologySimulateCmd(e *env, g *globalOptions) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "simulate <file>",
		Short: "Dry-run the planner with placeholder artifacts",
		Long: `Dry-run the planner against an ontology.

Every creation or refinement yields a placeholder artifact and every
verification passes, so the output is the order actions would run in on a
perfect run, and whether the ontology can reach its done state at all.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ontologyConfig(e, g)
			if err != nil {
				return err
			}
			graph, _, err := loadOntology(cfg, args[0], e.logger)
			if err != nil {
				return err
			}

			sim := planner.Simulate(graph, steps)
			for i, a := range sim.Steps {
				_, _ = fmt.Fprintf(e.stdout, "%3d. %s %s %s (%s)\n", i+1, a.Source, a.Verb, a.Target, a.Category)
			}
			if sim.Done {
				_, _ = fmt.Fprintf(e.stdout, "Done after %d action(s).\n", len(sim.Steps))
				return nil
			}

			missing := strings.Join(sim.Pending, ", ")
			_, _ = fmt.Fprintf(e.stdout, "Not done after %d action(s); missing %s\n", len(sim.Steps), missing)
			if len(sim.Steps) >= steps {
				return failure.New(failure.Stuck, "simulation stopped at %d step(s)", steps).
					WithHint("Raise --steps, or look for a refinement loop that never settles.")
			}
			return failure.New(failure.Stuck, "no action produces %s", missing).
				WithHint(ontology.MissingCreatorHint)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", defaultSimulationSteps, "Maximum number of simulated actions")
	return cmd
}
