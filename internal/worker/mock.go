package worker

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	mockTileSize = 512
	mockColumns  = 3

	captionBarHeight = 180
	captionWrapWidth = 80
	captionMaxLines  = 4
	captionMargin    = 18
	captionLineGap   = 20

	mockJPEGQuality = 92
)

var (
	gridBackground  = color.RGBA{R: 20, G: 20, B: 20, A: 255}
	emptyTileColor  = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	captionBarColor = color.RGBA{A: 170}
	captionTextFill = image.White
)

// renderPlaceholder は参照画像のタイルグリッドにキャプションバーを重ねた
// 代替生成物を作成し、JPEGバイト列として返します。バックエンド不在時の
// 決定的なフォールバックであり、同じ入力からは同じ構図が得られます。
func renderPlaceholder(refs []image.Image, prompt, headline string) ([]byte, error) {
	canvas := makeGrid(refs, mockTileSize, mockColumns)
	drawCaption(canvas, headline, prompt)

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, canvas, &jpeg.Options{Quality: mockJPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// makeGrid は参照画像を左上から列優先で並べたグリッドを作成します。
// 参照画像がない場合は単一タイルの無地キャンバスを返します。
func makeGrid(refs []image.Image, tile, cols int) *image.RGBA {
	if len(refs) == 0 {
		canvas := image.NewRGBA(image.Rect(0, 0, tile, tile))
		draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: emptyTileColor}, image.Point{}, draw.Src)
		return canvas
	}

	rows := (len(refs) + cols - 1) / cols
	canvas := image.NewRGBA(image.Rect(0, 0, cols*tile, rows*tile))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: gridBackground}, image.Point{}, draw.Src)

	for i, ref := range refs {
		row := i / cols
		col := i % cols
		dst := image.Rect(col*tile, row*tile, (col+1)*tile, (row+1)*tile)
		xdraw.ApproxBiLinear.Scale(canvas, dst, ref, ref.Bounds(), xdraw.Src, nil)
	}
	return canvas
}

// drawCaption は下端に半透明バーを敷き、見出しと折り返したプロンプトを描画します。
func drawCaption(canvas *image.RGBA, headline, prompt string) {
	bounds := canvas.Bounds()
	bar := image.Rect(bounds.Min.X, bounds.Max.Y-captionBarHeight, bounds.Max.X, bounds.Max.Y)
	draw.Draw(canvas, bar, &image.Uniform{C: captionBarColor}, image.Point{}, draw.Over)

	lines := append([]string{headline}, wrapText(prompt, captionWrapWidth, captionMaxLines)...)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  captionTextFill,
		Face: face,
	}
	y := bar.Min.Y + captionMargin + face.Ascent
	for _, line := range lines {
		drawer.Dot = fixed.P(bounds.Min.X+captionMargin, y)
		drawer.DrawString(line)
		y += captionLineGap
	}
}

// wrapText は単語境界でテキストを折り返し、最大 maxLines 行に切り詰めます。
func wrapText(text string, width, maxLines int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) <= width {
			current += " " + word
			continue
		}
		lines = append(lines, current)
		if len(lines) == maxLines {
			return lines
		}
		current = word
	}
	lines = append(lines, current)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
