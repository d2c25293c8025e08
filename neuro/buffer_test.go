package neuro

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillBuffer(b *SampleBuffer, n int) {
	for i := 0; i < n; i++ {
		b.Append(float64(i), float64(i)*2, float64(i)*0.004)
	}
}

func TestSampleBufferOrdering(t *testing.T) {
	b := NewSampleBuffer(10)
	fillBuffer(b, 5)

	assert.Equal(t, 5, b.Size())
	assert.Equal(t, uint64(5), b.Total())

	window := b.ReadWindow(5)
	require.Len(t, window, 5)
	for i, s := range window {
		assert.Equal(t, uint64(i), s.Sequence)
		assert.Equal(t, float64(i), s.Raw)
		assert.Equal(t, float64(i)*2, s.Filtered)
	}
}

func TestSampleBufferClampsOversizedReads(t *testing.T) {
	b := NewSampleBuffer(10)
	fillBuffer(b, 3)

	assert.Len(t, b.ReadWindow(100), 3)
	assert.Len(t, b.ReadFiltered(100), 3)
	assert.Nil(t, b.ReadWindow(0))

	empty := NewSampleBuffer(10)
	assert.Nil(t, empty.ReadWindow(5))
}

func TestSampleBufferWraparound(t *testing.T) {
	b := NewSampleBuffer(10)
	fillBuffer(b, 25)

	assert.Equal(t, 10, b.Size())
	assert.Equal(t, uint64(25), b.Total())

	// Only the 10 newest samples survive, oldest first.
	window := b.ReadWindow(10)
	require.Len(t, window, 10)
	assert.Equal(t, uint64(15), window[0].Sequence)
	assert.Equal(t, uint64(24), window[9].Sequence)

	filtered := b.ReadFiltered(3)
	assert.Equal(t, []float64{44, 46, 48}, filtered)
}

func TestSampleBufferResetKeepsSequences(t *testing.T) {
	b := NewSampleBuffer(10)
	fillBuffer(b, 7)

	b.Reset()
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, uint64(7), b.Total())
	assert.Nil(t, b.ReadWindow(5))

	// Sequences continue past the reset point.
	s := b.Append(1, 2, 3)
	assert.Equal(t, uint64(7), s.Sequence)
	assert.Equal(t, 1, b.Size())
}

func TestSampleBufferReadFilteredRange(t *testing.T) {
	b := NewSampleBuffer(10)
	fillBuffer(b, 8)

	assert.Equal(t, []float64{4, 6, 8, 10}, b.ReadFilteredRange(2, 6))

	// End past the write head clamps to what exists.
	assert.Len(t, b.ReadFilteredRange(5, 100), 3)
	assert.Nil(t, b.ReadFilteredRange(6, 6))
	assert.Nil(t, b.ReadFilteredRange(7, 3))

	// Sequences rotated out of the ring are clamped away, not replaced
	// with newer samples.
	wrapped := NewSampleBuffer(10)
	fillBuffer(wrapped, 25) // retains sequences 15..24
	vals := wrapped.ReadFilteredRange(0, 20)
	require.Len(t, vals, 5)
	assert.Equal(t, float64(30), vals[0]) // sequence 15
	assert.Equal(t, float64(38), vals[4]) // sequence 19

	// Reset discards the range entirely.
	wrapped.Reset()
	assert.Nil(t, wrapped.ReadFilteredRange(15, 25))
}

func TestSampleBufferConcurrentReaders(t *testing.T) {
	b := NewSampleBuffer(64)

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			b.Append(float64(i), float64(i), float64(i))
		}
		close(done)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				window := b.ReadWindow(32)
				for i := 1; i < len(window); i++ {
					// Readers must always see contiguous, untorn history.
					assert.Equal(t, window[i-1].Sequence+1, window[i].Sequence)
					assert.Equal(t, window[i].Raw, float64(window[i].Sequence))
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
}
