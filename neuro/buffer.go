package neuro

import "sync"

// SampleBuffer is a fixed-capacity ring holding the most recent samples.
// Slot i always holds the sample whose sequence mod capacity equals i.
// There is exactly one writer (the acquisition producer); any number of
// readers may call the read methods concurrently. Readers always receive
// copies, never aliases into the ring, so a reader can never observe a
// torn record.
//
// Sequence numbers are monotonic for the lifetime of the buffer and never
// reset. Reset discards the retrievable history but keeps the sequence
// counter running, so samples from a previous stream can never be confused
// with samples from the current one.
type SampleBuffer struct {
	mu    sync.RWMutex
	slots []Sample
	next  uint64 // sequence of the next sample to be written
	base  uint64 // sequence where the current history begins
}

// NewSampleBuffer creates a buffer with the given slot count.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleBuffer{slots: make([]Sample, capacity)}
}

// Append writes the next sample into the ring, assigning it the next
// monotonic sequence number, and returns the stored sample.
func (b *SampleBuffer) Append(raw, filtered, timestamp float64) Sample {
	b.mu.Lock()
	s := Sample{
		Sequence:  b.next,
		Raw:       raw,
		Filtered:  filtered,
		Timestamp: timestamp,
	}
	b.slots[s.Sequence%uint64(len(b.slots))] = s
	b.next++
	b.mu.Unlock()
	return s
}

// Reset discards all retrievable samples without resetting the sequence
// counter.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	b.base = b.next
	b.mu.Unlock()
}

// Size returns how many samples are currently retrievable.
func (b *SampleBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.available()
}

// Total returns the number of samples ever written (the next sequence).
func (b *SampleBuffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.next
}

// Capacity returns the slot count.
func (b *SampleBuffer) Capacity() int {
	return len(b.slots)
}

// ReadWindow returns copies of the n most recent samples in chronological
// order (oldest first). Requests larger than the available history are
// clamped; samples older than capacity are gone, not stale.
func (b *SampleBuffer) ReadWindow(n int) []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	avail := b.available()
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return nil
	}

	out := make([]Sample, n)
	start := b.next - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = b.slots[(start+uint64(i))%uint64(len(b.slots))]
	}
	return out
}

// ReadFiltered returns the filtered values of the n most recent samples in
// chronological order. This is the detector's window read; it avoids
// copying the full sample records on the per-sample hot path.
func (b *SampleBuffer) ReadFiltered(n int) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	avail := b.available()
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return nil
	}

	out := make([]float64, n)
	start := b.next - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = b.slots[(start+uint64(i))%uint64(len(b.slots))].Filtered
	}
	return out
}

// ReadFilteredRange returns the filtered values of the samples with
// sequences in [start, end), oldest first, clamped to what is still
// retrievable. Samples that rotated out of the ring or were discarded by
// Reset are clamped away, never substituted with newer data.
func (b *SampleBuffer) ReadFilteredRange(start, end uint64) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if end > b.next {
		end = b.next
	}
	oldest := b.base
	if b.next-b.base > uint64(len(b.slots)) {
		oldest = b.next - uint64(len(b.slots))
	}
	if start < oldest {
		start = oldest
	}
	if start >= end {
		return nil
	}

	out := make([]float64, end-start)
	for i := range out {
		out[i] = b.slots[(start+uint64(i))%uint64(len(b.slots))].Filtered
	}
	return out
}

func (b *SampleBuffer) available() int {
	written := b.next - b.base
	if written < uint64(len(b.slots)) {
		return int(written)
	}
	return len(b.slots)
}
