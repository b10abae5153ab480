// Package split assigns dataset records to k cross-validation folds so that
// every record of one group (one physical trial) lands on the same side of
// each fold, and persists the assignment so reruns see identical folds.
package split

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/foldrun/foldrun/xval"
	"github.com/foldrun/foldrun/xval/dataset"
)

// ManifestFileName is the name of the split manifest inside the split directory.
const ManifestFileName = "manifest.yaml"

// Fold is one train/validation partition pair.
type Fold struct {
	ID               int
	Train            *dataset.Subset
	Validation       *dataset.Subset
	ValidationGroups []string
}

// Splitter partitions a dataset into K group-disjoint folds.
type Splitter struct {
	k         int
	shuffle   bool
	seed      int64
	splitPath string
	groupKey  dataset.GroupKey
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithGroupKey overrides the grouping attribute (default dataset.ByGroup).
func WithGroupKey(key dataset.GroupKey) Option {
	return func(s *Splitter) { s.groupKey = key }
}

// WithSplitPath persists the assignment under dir. An empty dir disables persistence.
func WithSplitPath(dir string) Option {
	return func(s *Splitter) { s.splitPath = dir }
}

// New creates a Splitter. k must be at least 2.
func New(k int, shuffle bool, seed int64, opts ...Option) (*Splitter, error) {
	if k < 2 {
		return nil, xval.Configf("fold count must be >= 2, got %d", k)
	}
	s := &Splitter{k: k, shuffle: shuffle, seed: seed, groupKey: dataset.ByGroup}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Split returns the K folds of ds in fold-id order. Record order inside each
// subset is ascending dataset index.
func (s *Splitter) Split(ds dataset.Dataset) ([]Fold, error) {
	keys, err := dataset.GroupKeys(ds, s.groupKey)
	if err != nil {
		return nil, fmt.Errorf("reading group keys: %w", err)
	}
	counts := make(map[string]int)
	for _, k := range keys {
		counts[k]++
	}
	if s.k > len(counts) {
		return nil, xval.Configf("fold count %d exceeds the number of distinct groups %d", s.k, len(counts))
	}

	want := Manifest{
		Version:     manifestVersion,
		K:           s.k,
		Shuffle:     s.shuffle,
		Seed:        s.seed,
		NumRecords:  len(keys),
		Fingerprint: fingerprint(counts),
	}

	var m *Manifest
	if s.splitPath != "" {
		m, err = s.loadOrCreate(want, counts)
	} else {
		m = assign(want, counts)
	}
	if err != nil {
		return nil, err
	}
	return buildFolds(ds, keys, m), nil
}

func (s *Splitter) loadOrCreate(want Manifest, counts map[string]int) (*Manifest, error) {
	path := filepath.Join(s.splitPath, ManifestFileName)
	existing, err := LoadManifest(path)
	switch {
	case err == nil:
		if err := existing.matches(want); err != nil {
			return nil, xval.Configf("split manifest %s: %v; remove it or choose another split path", path, err)
		}
		if err := existing.validate(counts); err != nil {
			return nil, xval.Configf("split manifest %s: %v", path, err)
		}
		logrus.Infof("Reusing split manifest %s (k=%d, seed=%d)", path, want.K, want.Seed)
		return existing, nil
	case errors.Is(err, fs.ErrNotExist):
		m := assign(want, counts)
		if err := m.Save(path); err != nil {
			return nil, fmt.Errorf("writing split manifest %s: %w", path, err)
		}
		logrus.Infof("Wrote split manifest %s (k=%d, seed=%d, groups=%d)", path, want.K, want.Seed, len(counts))
		return m, nil
	default:
		return nil, xval.Configf("split manifest %s: %v", path, err)
	}
}

// assign cuts the sorted (optionally shuffled) group list into k contiguous
// chunks whose sizes differ by at most one, larger chunks first.
func assign(base Manifest, counts map[string]int) *Manifest {
	groups := sortedGroups(counts)
	if base.Shuffle {
		rng := xval.NewPartitionedRNG(xval.NewRunKey(base.Seed)).ForSubsystem(xval.SubsystemSplit)
		rng.Shuffle(len(groups), func(i, j int) { groups[i], groups[j] = groups[j], groups[i] })
	}

	m := base
	m.Folds = make([]ManifestFold, base.K)
	size, extra := len(groups)/base.K, len(groups)%base.K
	start := 0
	for f := 0; f < base.K; f++ {
		n := size
		if f < extra {
			n++
		}
		chunk := append([]string(nil), groups[start:start+n]...)
		sort.Strings(chunk)
		m.Folds[f] = ManifestFold{ID: f, ValidationGroups: chunk}
		start += n
	}
	return &m
}

func buildFolds(ds dataset.Dataset, keys []string, m *Manifest) []Fold {
	owner := make(map[string]int)
	for _, f := range m.Folds {
		for _, g := range f.ValidationGroups {
			owner[g] = f.ID
		}
	}
	folds := make([]Fold, len(m.Folds))
	for _, f := range m.Folds {
		var train, val []int
		for i, k := range keys {
			if owner[k] == f.ID {
				val = append(val, i)
			} else {
				train = append(train, i)
			}
		}
		folds[f.ID] = Fold{
			ID:               f.ID,
			Train:            dataset.NewSubset(ds, train),
			Validation:       dataset.NewSubset(ds, val),
			ValidationGroups: append([]string(nil), f.ValidationGroups...),
		}
	}
	return folds
}

func sortedGroups(counts map[string]int) []string {
	groups := make([]string, 0, len(counts))
	for g := range counts {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}
