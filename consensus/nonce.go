package consensus

import "iter"

// Partition is one worker's share of the nonce space: Start, Start+Stride,
// Start+2*Stride, ... while below Limit. A zero Limit means the whole uint64
// range. The sequence stops instead of wrapping around.
type Partition struct {
	Start  uint64
	Stride uint64
	Limit  uint64
}

// Nonces lazily yields the partition's nonces. It can be ranged over any
// number of times; every range restarts at Start.
func (p Partition) Nonces() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		stride := max(p.Stride, 1)
		unbounded := p.Limit == 0
		for n := p.Start; unbounded || n < p.Limit; {
			if !yield(n) {
				return
			}
			next := n + stride
			if next < n {
				return
			}
			n = next
		}
	}
}

// Partitions splits [start, limit) into workers interleaved strides so that
// no nonce is tried twice. Worker i starts at start+i.
func Partitions(workers int, start, limit uint64) []Partition {
	if workers < 1 {
		workers = 1
	}
	parts := make([]Partition, workers)
	for i := range parts {
		first, end := start+uint64(i), limit
		if first < start {
			// start+i overflow; biarkan partisi kosong
			first, end = 1, 1
		}
		parts[i] = Partition{Start: first, Stride: uint64(workers), Limit: end}
	}
	return parts
}
