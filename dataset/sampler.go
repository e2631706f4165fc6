package dataset

import (
	"fmt"
	"math/rand"
)

// BatchSampler splits the indices [0, n) into batches.
type BatchSampler struct {
	n         int
	batchSize int
	dropLast  bool
	shuffle   bool
	rng       *rand.Rand
}

// NewBatchSampler creates a sampler over n items. With dropLast a trailing
// batch smaller than batchSize is skipped.
func NewBatchSampler(n, batchSize int, dropLast, shuffle bool, seed int64) (*BatchSampler, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("Invalid batch size: %v", batchSize)
	}
	if n < 0 {
		return nil, fmt.Errorf("Invalid number of items: %v", n)
	}
	return &BatchSampler{
		n:         n,
		batchSize: batchSize,
		dropLast:  dropLast,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// BatchSize returns the configured batch size.
func (s *BatchSampler) BatchSize() int {
	return s.batchSize
}

// Len returns the number of batches per epoch.
func (s *BatchSampler) Len() int {
	if s.dropLast {
		return s.n / s.batchSize
	}
	return (s.n + s.batchSize - 1) / s.batchSize
}

// Batches returns one epoch of index batches, shuffled if requested.
func (s *BatchSampler) Batches() [][]int {
	idx := make([]int, s.n)
	for i := range idx {
		idx[i] = i
	}
	if s.shuffle {
		s.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}

	var batches [][]int
	for start := 0; start < s.n; start += s.batchSize {
		end := start + s.batchSize
		if end > s.n {
			if s.dropLast {
				break
			}
			end = s.n
		}
		batches = append(batches, idx[start:end])
	}
	return batches
}
