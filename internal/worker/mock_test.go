package worker

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
)

func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestRenderPlaceholderWithoutReferences(t *testing.T) {
	data, err := renderPlaceholder(nil, "a cat on a roof", "Mock output")
	if err != nil {
		t.Fatalf("renderPlaceholder returned error: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a valid JPEG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != mockTileSize || bounds.Dy() != mockTileSize {
		t.Fatalf("canvas = %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), mockTileSize, mockTileSize)
	}
}

func TestRenderPlaceholderGridDimensions(t *testing.T) {
	refs := []image.Image{
		solidImage(100, 100, color.RGBA{R: 200, A: 255}),
		solidImage(640, 480, color.RGBA{G: 200, A: 255}),
		solidImage(50, 80, color.RGBA{B: 200, A: 255}),
		solidImage(300, 300, color.RGBA{R: 200, G: 200, A: 255}),
	}

	data, err := renderPlaceholder(refs, "portrait", "Mock output")
	if err != nil {
		t.Fatalf("renderPlaceholder returned error: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a valid JPEG: %v", err)
	}

	// 4枚なら3列2行
	bounds := img.Bounds()
	if bounds.Dx() != mockColumns*mockTileSize || bounds.Dy() != 2*mockTileSize {
		t.Fatalf("canvas = %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestWrapTextWrapsAtWordBoundaries(t *testing.T) {
	lines := wrapText("one two three four five", 9, 4)
	want := []string{"one two", "three", "four five"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %#v", lines)
	}
	for i, line := range want {
		if lines[i] != line {
			t.Fatalf("lines[%d] = %q, want %q", i, lines[i], line)
		}
	}
}

func TestWrapTextTruncatesToMaxLines(t *testing.T) {
	lines := wrapText(strings.Repeat("word ", 100), 10, 4)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
}

func TestWrapTextEmpty(t *testing.T) {
	if lines := wrapText("   ", 10, 4); lines != nil {
		t.Fatalf("expected nil for blank text, got %#v", lines)
	}
}
