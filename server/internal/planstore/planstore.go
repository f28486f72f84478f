// Package planstore resolves a plan name to its parsed PlanDef. YAML
// inspection of plan definition files is explicitly out of scope for the
// core (spec.md §1) — this package is the thin external-parser adapter the
// core consumes, not part of the execution engine itself.
package planstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	yaml "go.yaml.in/yaml/v2"

	"github.com/ccxuy/easyrun/shared/types"
)

// Store loads plan documents from a directory of YAML files, one plan per
// file, and resolves them by name.
type Store struct {
	mu    sync.RWMutex
	plans map[string]types.PlanDef
}

// Load reads every *.yaml/*.yml file under dir as a PlanDef. A missing or
// empty dir yields an empty Store rather than an error — plans are
// optional; task-only deployments never populate one.
func Load(dir string) (*Store, error) {
	s := &Store{plans: make(map[string]types.PlanDef)}
	if dir == "" {
		return s, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("planstore: reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("planstore: reading %s: %w", path, err)
		}
		var def types.PlanDef
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("planstore: parsing %s: %w", path, err)
		}
		if def.Name == "" {
			def.Name = trimExt(entry.Name())
		}
		s.plans[def.Name] = def
	}
	return s, nil
}

// Get returns the named plan and whether it exists.
func (s *Store) Get(name string) (types.PlanDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.plans[name]
	return def, ok
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
