package store

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/corpusd/internal/index"
)

const currentPointer = "CURRENT"

// SaveSnapshot writes one generation to disk as a gob file. The file is
// written to a temp name and renamed into place so readers never observe a
// partial snapshot. Saving does not change which generation is live.
func (s *Store) SaveSnapshot(snap *index.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is required")
	}
	dir := s.snapshotDir()
	if dir == "" {
		return fmt.Errorf("snapshot persistence requires a data directory")
	}

	tmp, err := os.CreateTemp(dir, "gen-*.tmp")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding snapshot generation %d: %w", snap.Generation, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot temp file: %w", err)
	}

	final := filepath.Join(dir, generationFile(snap.Generation))
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("installing snapshot generation %d: %w", snap.Generation, err)
	}
	return nil
}

// SetCurrent atomically points the CURRENT marker at the given generation.
// The generation's snapshot file must already exist.
func (s *Store) SetCurrent(generation uint64) error {
	dir := s.snapshotDir()
	if dir == "" {
		return fmt.Errorf("snapshot persistence requires a data directory")
	}
	if _, err := os.Stat(filepath.Join(dir, generationFile(generation))); err != nil {
		return fmt.Errorf("generation %d has no snapshot file: %w", generation, err)
	}

	tmp, err := os.CreateTemp(dir, "current-*.tmp")
	if err != nil {
		return fmt.Errorf("creating pointer temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := fmt.Fprintf(tmp, "%d\n", generation); err != nil {
		tmp.Close()
		return fmt.Errorf("writing pointer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing pointer temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, currentPointer)); err != nil {
		return fmt.Errorf("installing pointer: %w", err)
	}
	return nil
}

// LoadCurrent restores the live snapshot on cold start. Returns ErrNotFound
// when no generation has ever been promoted.
func (s *Store) LoadCurrent() (*index.Snapshot, error) {
	dir := s.snapshotDir()
	if dir == "" {
		return nil, fmt.Errorf("snapshot persistence requires a data directory")
	}

	generation, err := s.currentGeneration(dir)
	if err != nil {
		return nil, err
	}
	return s.LoadSnapshot(generation)
}

// LoadSnapshot reads one generation from disk.
func (s *Store) LoadSnapshot(generation uint64) (*index.Snapshot, error) {
	dir := s.snapshotDir()
	if dir == "" {
		return nil, fmt.Errorf("snapshot persistence requires a data directory")
	}

	f, err := os.Open(filepath.Join(dir, generationFile(generation)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening snapshot generation %d: %w", generation, err)
	}
	defer f.Close()

	var snap index.Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot generation %d: %w", generation, err)
	}
	return &snap, nil
}

// Generations lists the on-disk snapshot generations in ascending order.
func (s *Store) Generations() ([]uint64, error) {
	dir := s.snapshotDir()
	if dir == "" {
		return nil, fmt.Errorf("snapshot persistence requires a data directory")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var generations []uint64
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "gen-") || !strings.HasSuffix(name, ".gob") {
			continue
		}
		gen, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "gen-"), ".gob"), 10, 64)
		if err != nil {
			continue
		}
		generations = append(generations, gen)
	}
	sort.Slice(generations, func(i, j int) bool { return generations[i] < generations[j] })
	return generations, nil
}

// Prune removes old snapshot generations, keeping the configured number of
// most recent ones. The live generation is never removed regardless of age.
func (s *Store) Prune() error {
	generations, err := s.Generations()
	if err != nil {
		return err
	}
	if len(generations) <= s.keep {
		return nil
	}

	dir := s.snapshotDir()
	live, err := s.currentGeneration(dir)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	for _, gen := range generations[:len(generations)-s.keep] {
		if gen == live {
			continue
		}
		if err := os.Remove(filepath.Join(dir, generationFile(gen))); err != nil {
			return fmt.Errorf("removing snapshot generation %d: %w", gen, err)
		}
	}
	return nil
}

func (s *Store) currentGeneration(dir string) (uint64, error) {
	raw, err := os.ReadFile(filepath.Join(dir, currentPointer))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading pointer: %w", err)
	}
	generation, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing pointer %q: %w", strings.TrimSpace(string(raw)), err)
	}
	return generation, nil
}

func (s *Store) snapshotDir() string {
	if s.dataDir == ":memory:" {
		return ""
	}
	return filepath.Join(s.dataDir, "snapshots")
}

func generationFile(generation uint64) string {
	return fmt.Sprintf("gen-%d.gob", generation)
}
