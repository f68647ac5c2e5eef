package image

import (
	"runtime"
	"sync"
)

const DefaultThreshold uint8 = 30

type PixelDiff struct {
	threshold uint8
}

func NewPixelDiff(threshold uint8) *PixelDiff {
	return &PixelDiff{
		threshold,
	}
}

// Calculate returns the absolute grayscale delta of every pixel in the pair.
// The pair's buffers must have the same length.
func (p *PixelDiff) Calculate(pair *NormalizedPair) *DiffMask {
	mask := &DiffMask{
		Width:     pair.Width,
		Height:    pair.Height,
		Threshold: p.threshold,
		Intensity: make([]uint8, pair.Width*pair.Height),
	}

	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	// https://tip.golang.org/doc/go1.25#container-aware-gomaxprocs
	numWorkers := runtime.GOMAXPROCS(0)

	rowsPerWorker := pair.Height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for i := 0; i < numWorkers; i++ {
		startY := i * rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = pair.Height
		}

		go func(startY int, endY int) {
			defer wg.Done()
			start := startY * pair.Width
			end := endY * pair.Width
			absDiff(pair.Before[start:end], pair.After[start:end], mask.Intensity[start:end])
		}(startY, endY)
	}

	wg.Wait()

	return mask
}

func absDiff(before []uint8, after []uint8, out []uint8) {
	for i := range out {
		b := before[i]
		a := after[i]
		if b > a {
			out[i] = b - a
		} else {
			out[i] = a - b
		}
	}
}
