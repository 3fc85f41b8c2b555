package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"smartplanning/internal/autocorrect"
)

func newCorrectCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct <snapshot-id>...",
		Short: "Run the auto-correction loop on one or more snapshots",
		Long: `Run the validation error auto-correction loop.

Several snapshots are corrected concurrently, at most --parallel at a time.
The exit code is the worst of the runs: 0 when every snapshot ends without
errors, 2 when errors remain or need manual intervention, 1 when a run aborts.

Examples:
  spctl correct 0f8e2a56-3c1d-4b7a-9e21-5d6c7b8a9f10
  spctl correct a b c --parallel 2 --max-iterations 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxIter, _ := cmd.Flags().GetInt("max-iterations")
			parallel, _ := cmd.Flags().GetInt("parallel")
			if maxIter < 0 {
				return fmt.Errorf("--max-iterations must not be negative")
			}

			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			results := comps.Engine.RunMany(cmd.Context(), args, parallel, maxIter)
			if err := c.print(cmd, results, func(w io.Writer) {
				for _, r := range results {
					printResult(w, r)
				}
			}); err != nil {
				return err
			}
			return resultsExit(results)
		},
	}
	cmd.Flags().Int("max-iterations", 0, "Iteration cap per snapshot (0 uses CORRECTION_MAX_ITERATIONS)")
	cmd.Flags().Int("parallel", 1, "Snapshots corrected at the same time")
	return cmd
}

func newPipelineCmd(c *cli) *cobra.Command {
	names := make([]string, 0, len(autocorrect.Pipelines()))
	for _, p := range autocorrect.Pipelines() {
		names = append(names, string(p))
	}
	return &cobra.Command{
		Use:   "pipeline <name> <snapshot-id>",
		Short: "Run a named step sequence on a snapshot",
		Long:  "Run a named step sequence on a snapshot. Pipelines: " + strings.Join(names, ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := autocorrect.ParsePipeline(args[0])
			if !ok {
				return fmt.Errorf("unknown pipeline %q (known: %s)", args[0], strings.Join(names, ", "))
			}
			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			res, err := comps.Engine.RunPipeline(cmd.Context(), p, autocorrect.Request{SnapshotID: args[1]})
			if err != nil {
				return err
			}
			return c.finish(cmd, res)
		},
	}
}

func newStepCmd(c *cli) *cobra.Command {
	names := make([]string, 0, len(autocorrect.Steps()))
	for _, st := range autocorrect.Steps() {
		names = append(names, string(st))
	}
	return &cobra.Command{
		Use:   "step <name> <snapshot-id>",
		Short: "Run a single loop step on a snapshot",
		Long:  "Run a single loop step on a snapshot. Steps: " + strings.Join(names, ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := autocorrect.ParseStep(args[0])
			if !ok {
				return fmt.Errorf("unknown step %q (known: %s)", args[0], strings.Join(names, ", "))
			}
			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			res, err := comps.Engine.RunStep(cmd.Context(), st, autocorrect.Request{SnapshotID: args[1]})
			if err != nil {
				return err
			}
			return c.finish(cmd, res)
		},
	}
}

func newReportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "report <snapshot-id>",
		Short: "Write the audit report of a corrected snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, _, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()

			stats, err := comps.Reporter.Generate(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("generate report: %w", err)
			}
			return c.print(cmd, stats, func(w io.Writer) {
				fmt.Fprintf(w, "Audit report written to %s (generator %s)\n", stats.ReportFile, stats.Generator)
			})
		},
	}
}

func (c *cli) finish(cmd *cobra.Command, res autocorrect.Result) error {
	if err := c.print(cmd, res, func(w io.Writer) { printResult(w, res) }); err != nil {
		return err
	}
	return resultsExit([]autocorrect.Result{res})
}

func printResult(w io.Writer, r autocorrect.Result) {
	fmt.Fprintf(w, "%s: %s after %d iteration(s), %d correction(s)", r.SnapshotID, r.Status, r.Iterations, r.Corrections)
	if len(r.ManualInterventions) > 0 {
		fmt.Fprintf(w, ", %d manual", len(r.ManualInterventions))
	}
	if r.Reason != "" {
		fmt.Fprintf(w, " (%s)", r.Reason)
	}
	fmt.Fprintln(w)
}

// resultsExit maps the worst result to the exit code. Abort (1) outranks
// partial success (2).
func resultsExit(results []autocorrect.Result) error {
	code := 0
	for _, r := range results {
		switch rc := r.ExitCode(); {
		case rc == 1:
			code = 1
		case rc == 2 && code == 0:
			code = 2
		}
	}
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}
