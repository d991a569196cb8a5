package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quarry-dev/quarry/internal/config"
	"github.com/quarry-dev/quarry/internal/engine"
	"github.com/quarry-dev/quarry/internal/pipeline"
	"github.com/quarry-dev/quarry/internal/state"
)

// runtimeParts is everything a subcommand needs after resolving the
// config and expanding the task set.
type runtimeParts struct {
	cfg   config.Config
	graph *engine.Graph
	arts  *engine.Artifacts
	eval  *engine.Evaluator
	store *state.Store
}

func (p *runtimeParts) close() {
	if p.store != nil {
		p.store.Close()
	}
}

// resolveParts loads config, registers the pipeline, expands generators
// and builds the graph. Any definition problem surfaces here, before
// anything executes.
func resolveParts(cmd *cobra.Command) (*runtimeParts, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	reg := engine.NewRegistry()
	if err := pipeline.Register(reg, cfg); err != nil {
		return nil, err
	}
	tasks, err := reg.Expand()
	if err != nil {
		return nil, err
	}
	graph, err := engine.BuildGraph(tasks)
	if err != nil {
		return nil, err
	}

	parts := &runtimeParts{cfg: cfg, graph: graph, arts: engine.NewArtifacts()}
	var manifest engine.Manifest
	if cfg.StateDB != "" {
		store, err := state.Open(cfg.StateDB)
		if err != nil {
			return nil, fmt.Errorf("open state db: %w", err)
		}
		parts.store = store
		manifest = store
	}
	parts.eval = engine.NewEvaluator(parts.arts, manifest)
	return parts, nil
}

func manifestOrNil(p *runtimeParts) engine.Manifest {
	if p.store == nil {
		return nil
	}
	return p.store
}

// Run tasks and their dependency closures
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [task ...]",
		Short: "Run all tasks, or the named tasks and their dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, _ := cmd.Flags().GetInt("jobs")
			verbose, _ := cmd.Flags().GetBool("verbose")

			parts, err := resolveParts(cmd)
			if err != nil {
				return err
			}
			defer parts.close()

			if jobs <= 0 {
				jobs = parts.cfg.Jobs
			}
			runner := &engine.Runner{Verbose: verbose, Log: log.Logger}
			exec := engine.NewExecutor(parts.graph, parts.arts, parts.eval, runner, manifestOrNil(parts),
				engine.Options{Workers: jobs, Grace: time.Duration(parts.cfg.GraceSec) * time.Second},
				log.Logger)

			report, err := exec.Run(cmd.Context(), args)
			if err != nil {
				return err
			}
			printReport(report)
			if report.Failed() {
				return errors.New("one or more tasks failed")
			}
			if report.Cancelled() {
				return errors.New("run interrupted")
			}
			return nil
		},
	}
	cmd.Flags().IntP("jobs", "j", 0, "number of parallel workers (default: number of CPUs)")
	cmd.Flags().BoolP("verbose", "v", false, "stream action output instead of capturing it")
	return cmd
}

func printReport(report *engine.RunReport) {
	for _, res := range report.Results {
		switch res.Status {
		case engine.StatusSkipped:
			fmt.Printf("-- %s (%s)\n", res.Name, res.Reason)
		case engine.StatusSucceeded:
			fmt.Printf("ok %s (%s)\n", res.Name, res.Duration.Round(time.Millisecond))
		case engine.StatusFailed:
			fmt.Printf("FAIL %s: %v\n", res.Name, res.Err)
			if res.Output != "" {
				fmt.Print(res.Output)
			}
		case engine.StatusFailedUpstream:
			fmt.Printf("SKIP %s: %v\n", res.Name, res.Err)
		case engine.StatusCancelled:
			fmt.Printf("CANCELLED %s\n", res.Name)
		}
	}
}

// Clean task targets
func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [task ...]",
		Short: "Remove the targets of all tasks, or of the named tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cascade, _ := cmd.Flags().GetBool("cascade")

			parts, err := resolveParts(cmd)
			if err != nil {
				return err
			}
			defer parts.close()

			cleaner := &engine.Cleaner{
				Graph:    parts.graph,
				Arts:     parts.arts,
				Runner:   &engine.Runner{Log: log.Logger},
				Manifest: manifestOrNil(parts),
				Log:      log.Logger,
			}
			return cleaner.Clean(cmd.Context(), args, cascade)
		},
	}
	cmd.Flags().Bool("cascade", false, "also clean tasks that depend on the named tasks")
	return cmd
}

// List the expanded task set with status
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the expanded task set with fresh/stale status",
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := resolveParts(cmd)
			if err != nil {
				return err
			}
			defer parts.close()

			for _, e := range engine.List(parts.graph, parts.eval) {
				status := "fresh"
				if e.Stale {
					status = "stale"
				}
				fmt.Printf("%-7s %-40s %s\n", status, e.Name, e.Doc)
			}
			return nil
		},
	}
}
