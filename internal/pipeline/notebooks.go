package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quarry-dev/quarry/internal/config"
	"github.com/quarry-dev/quarry/internal/engine"
)

// Notebook is one percent-format notebook source and its data inputs.
type Notebook struct {
	Name     string
	Source   string
	FileDeps []string
	Targets  []string
}

func defaultNotebooks(cfg config.Config) []Notebook {
	return []Notebook{
		{
			Name:   "summary_nyu_call_report_ipynb",
			Source: filepath.Join(cfg.SrcDir, "summary_nyu_call_report_ipynb.py"),
			FileDeps: []string{
				filepath.Join(cfg.DataDir, "ftsfr_nyu_call_report_leverage.parquet"),
			},
		},
	}
}

// notebookGenerator expands into one sub-task per notebook: convert the
// source to .ipynb, execute it, export HTML, and move the executed
// notebook into the output directory.
func notebookGenerator(cfg config.Config, notebooks []Notebook) engine.GeneratorFunc {
	return func() ([]engine.Task, error) {
		var tasks []engine.Task
		for _, nb := range notebooks {
			ipynb := strings.TrimSuffix(nb.Source, ".py") + ".ipynb"
			moved := filepath.Join(cfg.OutputDir, filepath.Base(ipynb))
			html := filepath.Join(cfg.OutputDir, nb.Name+".html")

			tasks = append(tasks, engine.Task{
				Name: nb.Name,
				Doc:  fmt.Sprintf("Execute and export notebook %s", nb.Name),
				Actions: []engine.Action{
					engine.Shell("jupytext", "--to", "notebook", "--output", ipynb, nb.Source),
					engine.Shell("jupyter", "nbconvert", "--execute", "--to", "notebook",
						"--ClearMetadataPreprocessor.enabled=True", "--inplace", ipynb),
					engine.Shell("jupyter", "nbconvert", "--to", "html",
						"--output-dir="+cfg.OutputDir, ipynb),
					moveAction(ipynb, moved),
				},
				FileDeps: append([]string{nb.Source}, nb.FileDeps...),
				Targets:  append([]string{html}, nb.Targets...),
				TaskDeps: []string{"config"},
				Clean:    true,
			})
		}
		return tasks, nil
	}
}

// moveAction relocates a produced file, creating the destination
// directory as needed. os.Rename keeps this portable where a shell mv
// would not be.
func moveAction(from, to string) engine.Action {
	return engine.Func(fmt.Sprintf("mv %s %s", from, to), func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
			return err
		}
		return os.Rename(from, to)
	})
}
