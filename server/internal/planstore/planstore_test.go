package planstore

import (
	"os"
	"path/filepath"
	"testing"
)

func writePlanFile(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		t.Fatalf("write plan file: %v", err)
	}
}

func TestLoad_EmptyDirNameYieldsEmptyStore(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if _, ok := s.Get("anything"); ok {
		t.Fatal("expected empty store to have no plans")
	}
}

func TestLoad_MissingDirYieldsEmptyStore(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Load of missing dir returned error: %v", err)
	}
	if _, ok := s.Get("anything"); ok {
		t.Fatal("expected empty store for missing dir")
	}
}

func TestLoad_ParsesYAMLPlanWithSteps(t *testing.T) {
	dir := t.TempDir()
	writePlanFile(t, dir, "deploy.yaml", `
name: deploy
steps:
  - name: build
    task: build
  - name: deploy
    task: deploy
    needs: ["build"]
`)

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	plan, ok := s.Get("deploy")
	if !ok {
		t.Fatal("expected plan \"deploy\" to be loaded")
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[1].Name != "deploy" || len(plan.Steps[1].Needs) != 1 || plan.Steps[1].Needs[0] != "build" {
		t.Errorf("unexpected second step: %+v", plan.Steps[1])
	}
}

func TestLoad_FallsBackToFilenameWhenNameMissing(t *testing.T) {
	dir := t.TempDir()
	writePlanFile(t, dir, "nightly.yml", `
steps:
  - name: run
    task: run
`)

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.Get("nightly"); !ok {
		t.Fatal("expected plan to be keyed by filename when name field is absent")
	}
}

func TestLoad_IgnoresNonYAMLFilesAndSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writePlanFile(t, dir, "readme.txt", "not a plan")
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writePlanFile(t, dir, "ok.yaml", "name: ok\nsteps: []\n")

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.Get("ok"); !ok {
		t.Fatal("expected the valid plan to load despite sibling non-plan entries")
	}
	if _, ok := s.Get("readme"); ok {
		t.Fatal("expected non-YAML file to be ignored")
	}
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	writePlanFile(t, dir, "broken.yaml", "name: [unterminated")

	if _, err := Load(dir); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
