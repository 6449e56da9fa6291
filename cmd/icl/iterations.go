package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/icl/events"
	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/loop"
	"github.com/c360studio/icl/storage"
)

func iterationsCmd(e *env, g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "iterations",
		Short: "List the project's iterations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := NewApp(e, g)
			if err != nil {
				return err
			}
			all, err := app.Iterations().List()
			if err != nil {
				return failure.Wrap(failure.PersistenceError, err, "list iterations")
			}
			if len(all) == 0 {
				_, _ = fmt.Fprintln(e.stdout, "No iterations yet. Start one with `icl run`.")
				return nil
			}

			w := tabwriter.NewWriter(e.stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tSTARTED\tOUTCOME")
			for _, it := range all {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					it.ID, it.Name, it.Timestamp.Local().Format(time.DateTime), outcomeOf(it))
			}
			return w.Flush()
		},
	}
}

// outcomeOf reads the iteration_end outcome from the log; an iteration that
// never ended reports "open".
func outcomeOf(it *storage.Iteration) string {
	log, err := storage.ReadLog(it.LogPath())
	if err != nil {
		return "unreadable"
	}
	for i := len(log) - 1; i >= 0; i-- {
		if e := log[i]; e.Type == events.IterationEnd {
			if kind := e.String("kind"); kind != "" {
				return e.String("outcome") + " (" + kind + ")"
			}
			return e.String("outcome")
		}
	}
	return "open"
}

func replayCmd(e *env, g *globalOptions) *cobra.Command {
	var ontologyPath string
	cmd := &cobra.Command{
		Use:   "replay <id|latest>",
		Short: "Rebuild an iteration's artifacts from its log and compare with the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(e, g)
			if err != nil {
				return err
			}
			it, err := app.Iteration(args[0])
			if err != nil {
				return err
			}
			path, err := app.OntologyPath(cmd.Context(), ontologyPath, nil)
			if err != nil {
				return err
			}
			graph, _, err := app.LoadOntology(path)
			if err != nil {
				return err
			}

			log, err := storage.ReadLog(it.LogPath())
			if err != nil {
				return failure.Wrap(failure.PersistenceError, err, "read log of %s", it.ID)
			}
			h, err := loop.Replay(log, graph)
			if err != nil {
				return failure.Wrap(failure.PersistenceError, err, "replay %s", it.ID)
			}
			snapshot, err := it.LoadArtifacts(graph)
			if err != nil {
				return failure.Wrap(failure.PersistenceError, err, "load artifacts of %s", it.ID)
			}

			outcome := h.Outcome
			if outcome == "" {
				outcome = "open"
			}
			_, _ = fmt.Fprintf(e.stdout, "Iteration %s: %d event(s), %d cycle(s), outcome %s\n",
				it.ID, len(log), h.Cycles, outcome)
			_, _ = fmt.Fprintf(e.stdout, "Goal: %s\n", h.Goal)
			for _, kind := range h.Store.Kinds() {
				rec, _ := h.Store.Record(kind)
				_, _ = fmt.Fprintf(e.stdout, "  %-24s revision %d, %d verification(s)\n", kind, rec.Revision, len(rec.Verifications))
			}
			for _, note := range h.Observations {
				_, _ = fmt.Fprintf(e.stdout, "  ! %s\n", note)
			}

			if diff := loop.Diff(snapshot, h.Store); diff != "" {
				_, _ = fmt.Fprintf(e.stdout, "Snapshot differs from the log (-snapshot +log):\n%s", diff)
				return failure.New(failure.PersistenceError, "artifacts of %s do not match the log", it.ID).
					WithHint("The log is authoritative: remove the artifacts directory and resume to rebuild it from the log.")
			}
			_, _ = fmt.Fprintln(e.stdout, "Snapshot matches the log.")
			return nil
		},
	}
	cmd.Flags().StringVar(&ontologyPath, "ontology", "", "Ontology document the iteration ran with")
	return cmd
}
