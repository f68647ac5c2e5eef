package image

import (
	"change-detector/internal/failure"
	"context"
	"sort"
)

const (
	DefaultMinRegionArea = 100

	// RegionMergeGap is the largest gap in pixels between two regions that are
	// still reported as one.
	RegionMergeGap = 10
)

// Region is the bounding box of one or more clusters of changed pixels.
type Region struct {
	X                 int `json:"x"`
	Y                 int `json:"y"`
	Width             int `json:"width"`
	Height            int `json:"height"`
	ChangedPixelCount int `json:"changedPixelCount"`
}

// FindRegions groups changed pixels into 8-connected clusters, drops clusters
// with fewer than minArea changed pixels and merges boxes that overlap or lie
// within RegionMergeGap of each other. The result is ordered by changed pixel
// count descending, then by position. ctx is checked per scanned row and per
// merge pass.
func FindRegions(ctx context.Context, mask *DiffMask, minArea int) ([]Region, error) {
	visited := make([]bool, len(mask.Intensity))

	var regions []Region
	for y := 0; y < mask.Height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, failure.Wrap(failure.ProcessingTimeout, err, "region search stopped at row %d", y)
		}
		for x := 0; x < mask.Width; x++ {
			i := y*mask.Width + x
			if mask.Changed(i) && !visited[i] {
				region := findBoundingBox(mask, visited, x, y)
				if region.ChangedPixelCount >= minArea {
					regions = append(regions, region)
				}
			}
		}
	}

	regions, err := mergeRegions(ctx, regions)
	if err != nil {
		return nil, err
	}

	sort.Slice(regions, func(i, j int) bool {
		if regions[i].ChangedPixelCount != regions[j].ChangedPixelCount {
			return regions[i].ChangedPixelCount > regions[j].ChangedPixelCount
		}
		if regions[i].Y != regions[j].Y {
			return regions[i].Y < regions[j].Y
		}
		return regions[i].X < regions[j].X
	})

	return regions, nil
}

func findBoundingBox(mask *DiffMask, visited []bool, startX int, startY int) Region {
	minX := startX
	minY := startY
	maxX := startX
	maxY := startY
	count := 0

	start := startY*mask.Width + startX
	queue := []int{start}
	visited[start] = true

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		count++

		x := i % mask.Width
		y := i / mask.Width
		minX = min(minX, x)
		maxX = max(maxX, x)
		minY = min(minY, y)
		maxY = max(maxY, y)

		// Check 8 neighbors
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}

				nx := x + dx
				ny := y + dy
				if nx < 0 || nx >= mask.Width || ny < 0 || ny >= mask.Height {
					continue
				}
				n := ny*mask.Width + nx
				if mask.Changed(n) && !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}
	}

	return Region{
		X:                 minX,
		Y:                 minY,
		Width:             maxX - minX + 1,
		Height:            maxY - minY + 1,
		ChangedPixelCount: count,
	}
}

// mergeRegions unions every pair of close boxes, collapses each set into
// one box and repeats until a pass merges nothing, so a box grown by one pass
// is checked again. Boxes are indexed in regionBucketSize cells covering
// their RegionMergeGap margin; two close boxes always share a cell.
func mergeRegions(ctx context.Context, regions []Region) ([]Region, error) {
	for pass := 0; len(regions) > 1; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, failure.Wrap(failure.ProcessingTimeout, err, "region merge stopped at pass %d", pass)
		}

		sets := newDisjointSet(len(regions))
		buckets := make(map[[2]int][]int)
		mergedAny := false

		for i, r := range regions {
			if i%regionCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, failure.Wrap(failure.ProcessingTimeout, err, "region merge stopped at pass %d", pass)
				}
			}

			x0, y0, x1, y1 := bucketSpan(r)
			for by := y0; by <= y1; by++ {
				for bx := x0; bx <= x1; bx++ {
					key := [2]int{bx, by}
					for _, j := range buckets[key] {
						if regionsClose(r, regions[j], RegionMergeGap) && sets.union(i, j) {
							mergedAny = true
						}
					}
					buckets[key] = append(buckets[key], i)
				}
			}
		}

		if !mergedAny {
			return regions, nil
		}

		index := make(map[int]int, len(regions))
		merged := make([]Region, 0, len(regions))
		for i, r := range regions {
			root := sets.find(i)
			if k, ok := index[root]; ok {
				merged[k] = combineRegions(merged[k], r)
				continue
			}
			index[root] = len(merged)
			merged = append(merged, r)
		}
		regions = merged
	}
	return regions, nil
}

const (
	regionBucketSize    = 64
	regionCheckInterval = 4096
)

func bucketSpan(r Region) (int, int, int, int) {
	x0 := max(r.X-RegionMergeGap, 0) / regionBucketSize
	y0 := max(r.Y-RegionMergeGap, 0) / regionBucketSize
	x1 := (r.X + r.Width + RegionMergeGap) / regionBucketSize
	y1 := (r.Y + r.Height + RegionMergeGap) / regionBucketSize
	return x0, y0, x1, y1
}

type disjointSet struct {
	parent []int
}

func newDisjointSet(n int) *disjointSet {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &disjointSet{parent: parent}
}

func (s *disjointSet) find(i int) int {
	for s.parent[i] != i {
		s.parent[i] = s.parent[s.parent[i]]
		i = s.parent[i]
	}
	return i
}

// union reports whether i and j were in different sets.
func (s *disjointSet) union(i int, j int) bool {
	ri := s.find(i)
	rj := s.find(j)
	if ri == rj {
		return false
	}
	if ri < rj {
		s.parent[rj] = ri
	} else {
		s.parent[ri] = rj
	}
	return true
}

// regionsClose reports whether r2 overlaps r1 grown by gap on every side.
// Touching edges count as close.
func regionsClose(r1 Region, r2 Region, gap int) bool {
	return !(r1.X+r1.Width+gap < r2.X || r2.X+r2.Width+gap < r1.X ||
		r1.Y+r1.Height+gap < r2.Y || r2.Y+r2.Height+gap < r1.Y)
}

func combineRegions(r1 Region, r2 Region) Region {
	minX := min(r1.X, r2.X)
	minY := min(r1.Y, r2.Y)
	maxX := max(r1.X+r1.Width, r2.X+r2.Width)
	maxY := max(r1.Y+r1.Height, r2.Y+r2.Height)

	return Region{
		X:                 minX,
		Y:                 minY,
		Width:             maxX - minX,
		Height:            maxY - minY,
		ChangedPixelCount: r1.ChangedPixelCount + r2.ChangedPixelCount,
	}
}
