package dataset

import (
	"context"
	"iter"
	"math/rand"
)

// Batch is a contiguous group of samples handed to the Learner.
type Batch struct {
	Features [][]float64
	Labels   []int
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int { return len(b.Labels) }

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithShuffle reorders samples with rng at the start of every pass.
func WithShuffle(rng *rand.Rand) LoaderOption {
	return func(l *Loader) { l.rng = rng }
}

// WithPrefetch assembles up to n batches ahead on a background goroutine.
// n <= 0 assembles batches on the consumer's goroutine.
func WithPrefetch(n int) LoaderOption {
	return func(l *Loader) { l.prefetch = n }
}

// Loader cuts a Dataset into batches of at most batchSize samples.
type Loader struct {
	ds        Dataset
	batchSize int
	rng       *rand.Rand
	prefetch  int
}

// NewLoader creates a Loader. batchSize must be positive.
func NewLoader(ds Dataset, batchSize int, opts ...LoaderOption) *Loader {
	if batchSize <= 0 {
		panic("dataset: batchSize must be positive")
	}
	l := &Loader{ds: ds, batchSize: batchSize}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NumBatches returns the number of batches in one pass.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

type batchResult struct {
	batch Batch
	err   error
}

// Batches yields one pass over the dataset. Iteration stops after the first
// error, which is yielded with an empty batch. A cancelled ctx yields ctx.Err().
func (l *Loader) Batches(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		order := l.order()
		if l.prefetch <= 0 {
			for start := 0; start < len(order); start += l.batchSize {
				if err := ctx.Err(); err != nil {
					yield(Batch{}, err)
					return
				}
				b, err := l.assemble(order[start:min(start+l.batchSize, len(order))])
				if !yield(b, err) || err != nil {
					return
				}
			}
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch := make(chan batchResult, l.prefetch)
		go func() {
			defer close(ch)
			for start := 0; start < len(order); start += l.batchSize {
				b, err := l.assemble(order[start:min(start+l.batchSize, len(order))])
				select {
				case ch <- batchResult{batch: b, err: err}:
				case <-ctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				yield(Batch{}, ctx.Err())
				return
			case r, ok := <-ch:
				if !ok {
					return
				}
				if !yield(r.batch, r.err) || r.err != nil {
					return
				}
			}
		}
	}
}

func (l *Loader) order() []int {
	n := l.ds.Len()
	if l.rng != nil {
		return l.rng.Perm(n)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

func (l *Loader) assemble(idx []int) (Batch, error) {
	b := Batch{
		Features: make([][]float64, 0, len(idx)),
		Labels:   make([]int, 0, len(idx)),
	}
	for _, i := range idx {
		r, err := l.ds.Record(i)
		if err != nil {
			return Batch{}, err
		}
		b.Features = append(b.Features, r.Features)
		b.Labels = append(b.Labels, r.Label)
	}
	return b, nil
}
