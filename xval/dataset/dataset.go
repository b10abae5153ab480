// Package dataset defines the Dataset Provider contract consumed by the
// fold splitter and the fold trainer, plus an in-memory provider, index
// subsets and a batch loader.
package dataset

import "fmt"

// Record is one sample: a feature vector, its class label and the key of the
// physical trial it was cut from.
type Record struct {
	Features []float64
	Label    int
	Group    string
}

// Dataset is an indexable sequence of records. Feature semantics are opaque.
type Dataset interface {
	Len() int
	Record(i int) (Record, error)
}

// GroupKey extracts the grouping attribute used by the fold splitter.
type GroupKey func(Record) string

// ByGroup groups records by their Group field.
func ByGroup(r Record) string {
	return r.Group
}

// InMemory is a Dataset backed by a slice.
type InMemory struct {
	records    []Record
	numClasses int
	featureDim int
}

// NewInMemory wraps records. Class count is derived as max(label)+1.
func NewInMemory(records []Record) *InMemory {
	ds := &InMemory{records: records}
	for _, r := range records {
		if r.Label+1 > ds.numClasses {
			ds.numClasses = r.Label + 1
		}
		if len(r.Features) > ds.featureDim {
			ds.featureDim = len(r.Features)
		}
	}
	return ds
}

func (d *InMemory) Len() int { return len(d.records) }

func (d *InMemory) Record(i int) (Record, error) {
	if i < 0 || i >= len(d.records) {
		return Record{}, fmt.Errorf("record index %d out of range [0, %d)", i, len(d.records))
	}
	return d.records[i], nil
}

// NumClasses returns the number of distinct label slots (max label + 1).
func (d *InMemory) NumClasses() int { return d.numClasses }

// FeatureDim returns the width of the widest feature vector.
func (d *InMemory) FeatureDim() int { return d.featureDim }

// Subset is a view of a parent Dataset restricted to an ordered index list.
type Subset struct {
	parent  Dataset
	indices []int
}

// NewSubset creates a view over parent. indices are parent positions.
func NewSubset(parent Dataset, indices []int) *Subset {
	return &Subset{parent: parent, indices: indices}
}

func (s *Subset) Len() int { return len(s.indices) }

func (s *Subset) Record(i int) (Record, error) {
	if i < 0 || i >= len(s.indices) {
		return Record{}, fmt.Errorf("subset index %d out of range [0, %d)", i, len(s.indices))
	}
	return s.parent.Record(s.indices[i])
}

// Indices returns the parent positions covered by the subset, in order.
func (s *Subset) Indices() []int {
	out := make([]int, len(s.indices))
	copy(out, s.indices)
	return out
}

// GroupKeys returns key(record) for every record of ds, in index order.
func GroupKeys(ds Dataset, key GroupKey) ([]string, error) {
	keys := make([]string, ds.Len())
	for i := range keys {
		r, err := ds.Record(i)
		if err != nil {
			return nil, err
		}
		keys[i] = key(r)
	}
	return keys, nil
}
