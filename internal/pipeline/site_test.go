package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSiteDefaults(t *testing.T) {
	site, err := LoadSite(filepath.Join(t.TempDir(), "chartbook.toml"), "docs")
	if err != nil {
		t.Fatalf("LoadSite failed: %v", err)
	}
	if site.Index != filepath.Join("docs", "index.html") {
		t.Errorf("unexpected index %q", site.Index)
	}
}

func TestLoadSiteFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chartbook.toml")
	content := `
title = "NYU Call Report"
output_dir = "public"
extra_deps = ["assets/style.css"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write toml: %v", err)
	}

	site, err := LoadSite(path, "docs")
	if err != nil {
		t.Fatalf("LoadSite failed: %v", err)
	}
	if site.Title != "NYU Call Report" {
		t.Errorf("title not parsed: %q", site.Title)
	}
	if site.Index != filepath.Join("public", "index.html") {
		t.Errorf("output_dir should move the index, got %q", site.Index)
	}
	if len(site.ExtraDeps) != 1 || site.ExtraDeps[0] != "assets/style.css" {
		t.Errorf("extra_deps not parsed: %v", site.ExtraDeps)
	}
}

func TestLoadSiteMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chartbook.toml")
	if err := os.WriteFile(path, []byte("title = [broken"), 0644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	if _, err := LoadSite(path, "docs"); err == nil {
		t.Fatal("malformed TOML should fail")
	}
}
