package image

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type comparison struct {
	report  *ChangeReport
	heatmap *HeatmapImage
	png     []byte
}

func compare(t *testing.T, before image.Image, after image.Image, threshold uint8, layout Layout) comparison {
	t.Helper()

	pair, err := Normalize(before, after)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	mask := NewPixelDiff(threshold).Calculate(pair)
	report, err := Aggregate(mask, layout)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	heatmap := NewHeatmap(DefaultHeatmapOptions()).Synthesize(mask)
	data, err := heatmap.EncodePNG()
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	return comparison{report, heatmap, data}
}

func TestScenario_IdenticalBlackImages(t *testing.T) {
	got := compare(t, createTestImage(100, 100, color.Black), createTestImage(100, 100, color.Black), 30, CardinalLayout())

	if got.report.ChangePercentage != 0 {
		t.Errorf("Expected 0%%, got %.2f%%", got.report.ChangePercentage)
	}
	for _, zone := range got.report.Zones {
		if zone.Percentage != 0 {
			t.Errorf("Expected zone %s at 0%%, got %.2f%%", zone.Label, zone.Percentage)
		}
	}
}

func TestScenario_BlackAgainstWhite(t *testing.T) {
	got := compare(t, createTestImage(100, 100, color.Black), createTestImage(100, 100, color.White), 30, CardinalLayout())

	if got.report.ChangePercentage != 100 {
		t.Errorf("Expected 100%%, got %.2f%%", got.report.ChangePercentage)
	}
	if got.report.Severity != SeverityCatastrophic {
		t.Errorf("Expected %s, got %s", SeverityCatastrophic, got.report.Severity)
	}
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if a := got.heatmap.RGBA.NRGBAAt(x, y).A; a != 180 {
				t.Fatalf("Expected every pixel at the overlay cap, got alpha %d at (%d, %d)", a, x, y)
			}
		}
	}
}

func TestScenario_TopLeftBlock(t *testing.T) {
	before := createTestImage(200, 100, color.Gray{Y: 20})
	after := createTestImage(200, 100, color.Gray{Y: 20})
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			after.Set(x, y, color.Gray{Y: 220})
		}
	}

	got := compare(t, before, after, 30, GridLayout(4, 2))

	if got.report.ChangePercentage != 12.5 {
		t.Errorf("Expected 12.5%%, got %.2f%%", got.report.ChangePercentage)
	}
	top := got.report.Zones[0]
	if top.Label != "R1C1" || top.Percentage != 100 {
		t.Errorf("Expected R1C1 to lead at 100%%, got %s at %.2f%%", top.Label, top.Percentage)
	}
	for _, zone := range got.report.Zones[1:] {
		if zone.Percentage != 0 {
			t.Errorf("Expected zone %s at 0%%, got %.2f%%", zone.Label, zone.Percentage)
		}
	}
}

func TestDimensionInvariant(t *testing.T) {
	tests := []struct {
		before, after image.Rectangle
		want          image.Rectangle
	}{
		{image.Rect(0, 0, 200, 100), image.Rect(0, 0, 150, 120), image.Rect(0, 0, 150, 100)},
		{image.Rect(0, 0, 64, 480), image.Rect(0, 0, 640, 64), image.Rect(0, 0, 64, 64)},
		{image.Rect(0, 0, 99, 51), image.Rect(0, 0, 99, 51), image.Rect(0, 0, 99, 51)},
	}

	for _, tt := range tests {
		got := compare(t,
			createTestImage(tt.before.Dx(), tt.before.Dy(), color.White),
			createTestImage(tt.after.Dx(), tt.after.Dy(), color.Black),
			30, CardinalLayout())

		if !got.heatmap.RGBA.Bounds().Eq(tt.want) {
			t.Errorf("%v vs %v: expected heatmap %v, got %v", tt.before, tt.after, tt.want, got.heatmap.RGBA.Bounds())
		}
	}
}

func TestDeterminism(t *testing.T) {
	before := createTestImage(160, 90, color.Black)
	after := createTestImage(120, 100, color.Black)
	for y := 0; y < 100; y++ {
		for x := 0; x < 120; x++ {
			after.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 2), B: uint8(x ^ y), A: 255})
		}
	}

	first := compare(t, before, after, 30, GridLayout(3, 2))
	second := compare(t, before, after, 30, GridLayout(3, 2))

	if diff := cmp.Diff(first.report, second.report); diff != "" {
		t.Errorf("(-first +second):\n%s", diff)
	}
	if !bytes.Equal(first.png, second.png) {
		t.Errorf("Expected byte-identical heatmaps")
	}
}
