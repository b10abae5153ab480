package split

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/foldrun/foldrun/xval/internal/fsutil"
)

const manifestVersion = 1

// Manifest records a fold assignment together with the parameters and the
// dataset fingerprint it was computed from.
type Manifest struct {
	Version     int            `yaml:"version"`
	K           int            `yaml:"k"`
	Shuffle     bool           `yaml:"shuffle"`
	Seed        int64          `yaml:"seed"`
	NumRecords  int            `yaml:"num_records"`
	Fingerprint string         `yaml:"fingerprint"`
	Folds       []ManifestFold `yaml:"folds"`
}

// ManifestFold lists the groups held out for validation in one fold.
type ManifestFold struct {
	ID               int      `yaml:"id"`
	ValidationGroups []string `yaml:"validation_groups"`
}

// LoadManifest reads a manifest with strict field checking.
// A missing file is reported with an error wrapping fs.ErrNotExist.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// Save writes the manifest atomically.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

func (m *Manifest) matches(want Manifest) error {
	if m.Version != want.Version {
		return fmt.Errorf("version %d, want %d", m.Version, want.Version)
	}
	if m.K != want.K || m.Shuffle != want.Shuffle || m.Seed != want.Seed {
		return fmt.Errorf("created with k=%d shuffle=%v seed=%d, requested k=%d shuffle=%v seed=%d",
			m.K, m.Shuffle, m.Seed, want.K, want.Shuffle, want.Seed)
	}
	if m.NumRecords != want.NumRecords || m.Fingerprint != want.Fingerprint {
		return fmt.Errorf("created for a different dataset (%d records, fingerprint %s; now %d records, fingerprint %s)",
			m.NumRecords, m.Fingerprint, want.NumRecords, want.Fingerprint)
	}
	return nil
}

// validate checks that fold ids are contiguous and every group is held out
// by exactly one fold.
func (m *Manifest) validate(counts map[string]int) error {
	if len(m.Folds) != m.K {
		return fmt.Errorf("has %d folds, want %d", len(m.Folds), m.K)
	}
	seen := make(map[string]int)
	for i, f := range m.Folds {
		if f.ID != i {
			return fmt.Errorf("fold at position %d has id %d", i, f.ID)
		}
		for _, g := range f.ValidationGroups {
			if prev, dup := seen[g]; dup {
				return fmt.Errorf("group %q held out by folds %d and %d", g, prev, f.ID)
			}
			if _, ok := counts[g]; !ok {
				return fmt.Errorf("unknown group %q in fold %d", g, f.ID)
			}
			seen[g] = f.ID
		}
	}
	if len(seen) != len(counts) {
		return fmt.Errorf("covers %d of %d groups", len(seen), len(counts))
	}
	return nil
}

// fingerprint hashes the sorted group list with per-group record counts.
// Names are quoted so separators inside a name cannot alias another group set.
func fingerprint(counts map[string]int) string {
	h := fnv.New64a()
	for _, g := range sortedGroups(counts) {
		fmt.Fprintf(h, "%q:%d;", g, counts[g])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
