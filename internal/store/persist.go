package store

import (
	"encoding/json"
	"fmt"
	"os"

	"hookscope/internal/cache"
)

// Artifact paths written by the save commands.
const (
	BranchTracePath = "/tmp/branches.json"
	BranchTrackPath = "/tmp/branch_data.json"
	TypeTracePath   = "/tmp/type_metadata_trace.json"
)

// BranchTrace is the on-disk layout of a branch capture.
type BranchTrace struct {
	Modules  []Module     `json:"modules"`
	Branches []BranchPair `json:"branches"`
}

// SaveBranches writes modules and the buffered pairs to path and empties the
// store. On failure the store keeps its contents. It returns the number of
// pairs written.
func SaveBranches(path string, modules []Module, s *Store[BranchPair]) (int, error) {
	if modules == nil {
		modules = []Module{}
	}
	var n int
	err := s.DrainWith(func(pairs []BranchPair) error {
		data, err := json.MarshalIndent(BranchTrace{Modules: modules, Branches: pairs}, "", "  ")
		if err != nil {
			return fmt.Errorf("encode branches: %w", err)
		}
		if err := cache.WriteFileAtomic(path, data); err != nil {
			return err
		}
		n = len(pairs)
		return nil
	})
	return n, err
}

// SaveTypes writes the buffered type records to path and empties the store.
func SaveTypes(path string, s *Store[TypeRecord]) (int, error) {
	var n int
	err := s.DrainWith(func(recs []TypeRecord) error {
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return fmt.Errorf("encode types: %w", err)
		}
		if err := cache.WriteFileAtomic(path, data); err != nil {
			return err
		}
		n = len(recs)
		return nil
	})
	return n, err
}

// LoadBranches reads a file written by SaveBranches.
func LoadBranches(path string) (*BranchTrace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bt BranchTrace
	if err := json.Unmarshal(data, &bt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &bt, nil
}

// LoadTypes reads a file written by SaveTypes.
func LoadTypes(path string) ([]TypeRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recs []TypeRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return recs, nil
}
