package image

// NormalizedPair holds two grayscale buffers of identical size, ready for
// per-pixel comparison. Before and After are row-major, one byte per pixel.
type NormalizedPair struct {
	Width    int
	Height   int
	Before   []uint8
	After    []uint8
	Warnings []Warning
}

// DiffMask is the absolute grayscale delta per pixel. It is shared read-only
// by every consumer once Calculate returns.
type DiffMask struct {
	Width     int
	Height    int
	Threshold uint8
	Intensity []uint8
}

func (m *DiffMask) Changed(i int) bool {
	return m.Intensity[i] > m.Threshold
}

func (m *DiffMask) ChangedCount() int {
	count := 0
	for _, v := range m.Intensity {
		if v > m.Threshold {
			count++
		}
	}
	return count
}

type Differ interface {
	Calculate(pair *NormalizedPair) *DiffMask
}

type WarningCode string

const AspectRatioMismatch WarningCode = "aspect_ratio_mismatch"

// Warning is advisory. It is attached to a successful result and never
// aborts processing.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}
