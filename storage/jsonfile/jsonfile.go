// Package jsonfile 把每次运行写成目录 <dir>/<run_id>/ 下的 JSON 文件：
// run.json、scenarios.json、results.json、evaluations.json。
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"perp-mm-lab/optimizer"
	"perp-mm-lab/scenario"
	"perp-mm-lab/storage"
)

const (
	runFile         = "run.json"
	ScenariosFile   = "scenarios.json"
	ResultsFile     = "results.json"
	evaluationsFile = "evaluations.json"
)

// Store 单进程写入；文件先写临时文件再改名。
type Store struct {
	dir string
	mu  sync.Mutex
}

var _ storage.ResultStore = (*Store)(nil)

func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("jsonfile: %w: empty dir", storage.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// RunDir 某次运行的输出目录。
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.dir, runID)
}

func (s *Store) path(runID, name string) string {
	return filepath.Join(s.dir, runID, name)
}

func (s *Store) CreateRun(_ context.Context, run storage.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(run.ID, runFile)); err == nil {
		return fmt.Errorf("run %s: %w", run.ID, storage.ErrDuplicateKey)
	}
	if err := os.MkdirAll(s.RunDir(run.ID), 0o755); err != nil {
		return fmt.Errorf("jsonfile: create run dir: %w", err)
	}
	return writeJSON(s.path(run.ID, runFile), run)
}

func (s *Store) GetRun(_ context.Context, id string) (storage.Run, error) {
	var run storage.Run
	err := readJSON(s.path(id, runFile), &run)
	return run, err
}

func (s *Store) requireRun(runID string) error {
	if _, err := os.Stat(s.path(runID, runFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("run %s: %w", runID, storage.ErrNotFound)
		}
		return err
	}
	return nil
}

func (s *Store) SaveScenarios(_ context.Context, runID string, scenarios []scenario.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRun(runID); err != nil {
		return err
	}
	p := s.path(runID, ScenariosFile)
	if _, err := os.Stat(p); err == nil {
		return fmt.Errorf("scenarios for %s: %w", runID, storage.ErrDuplicateKey)
	}
	return writeJSON(p, scenarios)
}

func (s *Store) Scenarios(_ context.Context, runID string) ([]scenario.Params, error) {
	var out []scenario.Params
	err := readJSON(s.path(runID, ScenariosFile), &out)
	return out, err
}

// SaveResults 追加到 results.json，已存在的场景 ID 返回 ErrDuplicateKey。
func (s *Store) SaveResults(_ context.Context, runID string, results []scenario.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRun(runID); err != nil {
		return err
	}
	p := s.path(runID, ResultsFile)
	var existing []scenario.Result
	if err := readJSON(p, &existing); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r.ScenarioID] = struct{}{}
	}
	for _, r := range results {
		if _, ok := seen[r.ScenarioID]; ok {
			return fmt.Errorf("result %s: %w", r.ScenarioID, storage.ErrDuplicateKey)
		}
		seen[r.ScenarioID] = struct{}{}
	}
	return writeJSON(p, append(existing, results...))
}

func (s *Store) Results(_ context.Context, runID string) ([]scenario.Result, error) {
	if err := s.requireRun(runID); err != nil {
		return nil, err
	}
	var out []scenario.Result
	if err := readJSON(s.path(runID, ResultsFile), &out); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveEvaluations(_ context.Context, runID string, evals []optimizer.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRun(runID); err != nil {
		return err
	}
	p := s.path(runID, evaluationsFile)
	var existing []optimizer.Evaluation
	if err := readJSON(p, &existing); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return writeJSON(p, append(existing, evals...))
}

func (s *Store) Evaluations(_ context.Context, runID string) ([]optimizer.Evaluation, error) {
	if err := s.requireRun(runID); err != nil {
		return nil, err
	}
	var out []optimizer.Evaluation
	if err := readJSON(s.path(runID, evaluationsFile), &out); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

func writeJSON(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("jsonfile: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("jsonfile: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", filepath.Base(path), storage.ErrNotFound)
		}
		return fmt.Errorf("jsonfile: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("jsonfile: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
