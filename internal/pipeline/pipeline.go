// Package pipeline declares the NYU call report processing tasks: pull
// the raw dataset, reshape it into standardized tables, aggregate by
// size quartiles, render charts, execute notebooks, and publish the
// pipeline site. The engine decides what is stale; this package only
// says what exists and how it is built.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quarry-dev/quarry/internal/config"
	"github.com/quarry-dev/quarry/internal/engine"
)

// Register adds every pipeline task to the registry.
func Register(reg *engine.Registry, cfg config.Config) error {
	rawParquet := filepath.Join(cfg.DataDir, "nyu_call_report.parquet")
	pullScript := filepath.Join(cfg.SrcDir, "pull_nyu_call_report.py")
	formatScript := filepath.Join(cfg.SrcDir, "create_ftsfr_datasets.py")
	aggregateScript := filepath.Join(cfg.SrcDir, "create_aggregated_leverage.py")
	chartScript := filepath.Join(cfg.SrcDir, "generate_chart.py")

	formatTargets := []string{
		filepath.Join(cfg.DataDir, "ftsfr_nyu_call_report_leverage.parquet"),
		filepath.Join(cfg.DataDir, "ftsfr_nyu_call_report_holding_company_leverage.parquet"),
		filepath.Join(cfg.DataDir, "ftsfr_nyu_call_report_cash_liquidity.parquet"),
		filepath.Join(cfg.DataDir, "ftsfr_nyu_call_report_holding_company_cash_liquidity.parquet"),
	}
	aggregateTargets := []string{
		filepath.Join(cfg.DataDir, "ftsfr_nyu_call_report_leverage_ew_quartile.parquet"),
		filepath.Join(cfg.DataDir, "ftsfr_nyu_call_report_leverage_vw_quartile.parquet"),
	}
	chartTargets := []string{
		filepath.Join(cfg.OutputDir, "bank_leverage_ew_quartile.html"),
		filepath.Join(cfg.OutputDir, "bank_leverage_vw_quartile.html"),
	}

	if err := reg.Add(engine.Task{
		Name: "config",
		Doc:  "Create the data and output directories",
		Actions: []engine.Action{
			engine.Func("create dirs", func(ctx context.Context) error {
				for _, dir := range []string{cfg.DataDir, cfg.OutputDir} {
					if err := os.MkdirAll(dir, 0755); err != nil {
						return err
					}
				}
				return nil
			}),
		},
		Targets: []string{cfg.DataDir, cfg.OutputDir},
	}); err != nil {
		return err
	}

	pull := engine.Task{
		Name:     "pull",
		Doc:      "Pull NYU Call Report data",
		Targets:  []string{rawParquet},
		TaskDeps: []string{"config"},
		Clean:    true,
	}
	if cfg.Pull.URL != "" {
		pull.Actions = []engine.Action{
			engine.Func("fetch nyu_call_report", func(ctx context.Context) error {
				return FetchDataset(ctx, cfg.Pull, rawParquet)
			}),
		}
	} else {
		pull.Actions = []engine.Action{engine.Shell("python", pullScript)}
		pull.FileDeps = []string{pullScript}
	}
	if err := reg.Add(pull); err != nil {
		return err
	}

	if err := reg.Add(engine.Task{
		Name:     "format",
		Doc:      "Format data into standardized FTSFR datasets",
		Actions:  []engine.Action{engine.Shell("python", formatScript)},
		Targets:  formatTargets,
		FileDeps: []string{formatScript, rawParquet},
		Clean:    true,
	}); err != nil {
		return err
	}

	if err := reg.Add(engine.Task{
		Name:     "aggregate",
		Doc:      "Create aggregated leverage datasets by size quartiles",
		Actions:  []engine.Action{engine.Shell("python", aggregateScript)},
		Targets:  aggregateTargets,
		FileDeps: []string{aggregateScript, rawParquet},
		Clean:    true,
	}); err != nil {
		return err
	}

	if err := reg.Add(engine.Task{
		Name:     "generate_charts",
		Doc:      "Generate aggregated leverage charts",
		Actions:  []engine.Action{engine.Shell("python", chartScript)},
		Targets:  chartTargets,
		FileDeps: append([]string{chartScript}, aggregateTargets...),
		Clean:    true,
	}); err != nil {
		return err
	}

	notebooks := defaultNotebooks(cfg)
	if err := reg.AddGenerator("run_notebooks", notebookGenerator(cfg, notebooks)); err != nil {
		return err
	}

	site, err := LoadSite(cfg.SiteConfig, cfg.DocsDir)
	if err != nil {
		return fmt.Errorf("site config: %w", err)
	}
	siteDeps := []string{cfg.SiteConfig}
	for _, nb := range notebooks {
		siteDeps = append(siteDeps, nb.Source)
	}
	siteDeps = append(siteDeps, chartTargets...)
	siteDeps = append(siteDeps, site.ExtraDeps...)
	if err := reg.Add(engine.Task{
		Name:     "generate_pipeline_site",
		Doc:      "Build the published pipeline site",
		Actions:  []engine.Action{engine.Shell("chartbook", "build", "-f")},
		Targets:  []string{site.Index},
		FileDeps: siteDeps,
		Clean:    true,
	}); err != nil {
		return err
	}

	return nil
}
