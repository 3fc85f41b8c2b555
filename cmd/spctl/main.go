package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smartplanning/internal/gateway/app"
	"smartplanning/internal/gateway/config"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// cli holds what every command shares. Tests swap the overrides and output.
type cli struct {
	out       io.Writer
	overrides app.Overrides
	loadCfg   func() (*config.Config, error)
	verbose   bool
}

func newCLI() *cli {
	return &cli{out: os.Stdout, loadCfg: config.FromEnv}
}

func main() {
	root := newRootCmd(newCLI())
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spctl",
		Short: "Smart Planning snapshot and correction tool",
		Long: `spctl manages planning snapshots and runs the validation error
auto-correction loop against the planning service.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.SetOut(c.out)

	rootCmd.AddCommand(
		newSnapshotCmd(c),
		newCorrectCmd(c),
		newPipelineCmd(c),
		newStepCmd(c),
		newReportCmd(c),
		newKnowledgeCmd(c),
		newServeCmd(c),
	)
	return rootCmd
}

// open wires the application for one command.
func (c *cli) open(ctx context.Context) (*app.Components, *zap.Logger, error) {
	cfg, err := c.loadCfg()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.verbose {
		cfg.LogLevel = "debug"
	}
	log, err := config.NewLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	comps, err := app.Build(ctx, cfg, log, c.overrides)
	if err != nil {
		return nil, nil, err
	}
	return comps, log, nil
}

func (c *cli) print(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	if jsonOut {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(c.out)
	return nil
}
