package pipeline

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Site describes the published pipeline site, read from the chartbook
// TOML config when present.
type Site struct {
	Title     string   `toml:"title"`
	OutputDir string   `toml:"output_dir"`
	ExtraDeps []string `toml:"extra_deps"`

	// Index is the published entry point, derived from OutputDir.
	Index string `toml:"-"`
}

// LoadSite reads the site configuration. A missing file yields defaults
// so the site task still has a well-defined target.
func LoadSite(path, docsDir string) (Site, error) {
	site := Site{OutputDir: docsDir}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &site); err != nil {
			return site, err
		}
	}
	if site.OutputDir == "" {
		site.OutputDir = docsDir
	}
	site.Index = filepath.Join(site.OutputDir, "index.html")
	return site, nil
}
