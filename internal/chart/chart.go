// Package chart draws the top roles pie chart sent with the summary.
package chart

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lsm/rolewatch/internal/dataset"
)

const (
	// DefaultSize is the edge length of the encoded image.
	DefaultSize = 590
	// DefaultTop is the number of roles drawn.
	DefaultTop = 7

	// Drawing happens on a larger canvas which is then downscaled.
	canvas  = 820
	quality = 90
)

var (
	background = color.RGBA{0xb6, 0xdb, 0xeb, 0xff}
	plotArea   = color.RGBA{0xee, 0xe8, 0xd5, 0xff}
	ink        = color.RGBA{0x58, 0x6e, 0x75, 0xff}
	palette    = []color.RGBA{
		{0x26, 0x8b, 0xd2, 0xff},
		{0x2a, 0xa1, 0x98, 0xff},
		{0x85, 0x99, 0x00, 0xff},
		{0xb5, 0x89, 0x00, 0xff},
		{0xcb, 0x4b, 0x16, 0xff},
		{0xdc, 0x32, 0x2f, 0xff},
		{0xd3, 0x36, 0x82, 0xff},
		{0x6c, 0x71, 0xc4, 0xff},
	}
)

// Options controls chart rendering. Zero values select the defaults.
type Options struct {
	Title string
	Top   int
	Size  int
}

func (o Options) withDefaults() Options {
	if o.Top <= 0 {
		o.Top = DefaultTop
	}
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.Title == "" {
		o.Title = fmt.Sprintf("The Top %d most UPN assigned AAD Roles", o.Top)
	}
	return o
}

// Slice is one wedge of the pie.
type Slice struct {
	Label string
	Value int
	Share float64
}

// Slices returns the wedges for the top roles. counts must already be ordered
// by descending count, as dataset.RoleCounts returns them. Shares are relative
// to the drawn roles only.
func Slices(counts []dataset.RoleCount, top int) []Slice {
	if top > 0 && len(counts) > top {
		counts = counts[:top]
	}
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	out := make([]Slice, 0, len(counts))
	for _, c := range counts {
		if c.Count <= 0 {
			continue
		}
		out = append(out, Slice{Label: c.Role, Value: c.Count, Share: float64(c.Count) / float64(total)})
	}
	return out
}

// Render draws the chart at opts.Size × opts.Size.
func Render(counts []dataset.RoleCount, opts Options) image.Image {
	opts = opts.withDefaults()
	slices := Slices(counts, opts.Top)

	img := image.NewRGBA(image.Rect(0, 0, canvas, canvas))
	fill(img, img.Bounds(), background)
	fill(img, image.Rect(40, 60, canvas-40, canvas-40), plotArea)

	drawCentered(img, opts.Title, canvas/2, 40)
	if len(slices) == 0 {
		drawCentered(img, "No role members", canvas/2, canvas/2)
	} else {
		cx, cy, r := canvas/2, canvas/2-20, 280
		drawPie(img, slices, cx, cy, r)
		drawLabels(img, slices, cx, cy, r)
		drawLegend(img, slices, 60, canvas-60)
	}

	if opts.Size == canvas {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, opts.Size, opts.Size))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// Encode renders the chart and writes it to w as JPEG.
func Encode(w io.Writer, counts []dataset.RoleCount, opts Options) error {
	if err := jpeg.Encode(w, Render(counts, opts), &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode chart: %w", err)
	}
	return nil
}

// Pie renders the chart and returns the JPEG as standard base64.
func Pie(counts []dataset.RoleCount, opts Options) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, counts, opts); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	xdraw.Draw(img, r, image.NewUniform(c), image.Point{}, xdraw.Src)
}

// drawPie fills wedges counter-clockwise starting at twelve o'clock.
func drawPie(img *image.RGBA, slices []Slice, cx, cy, r int) {
	bounds := make([]float64, len(slices))
	acc := 0.0
	for i, s := range slices {
		acc += s.Share
		bounds[i] = acc
	}

	r2 := float64(r * r)
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := float64(x-cx), float64(cy-y)
			if dx*dx+dy*dy > r2 {
				continue
			}
			// Fraction of a turn, counter-clockwise from the top.
			turn := math.Atan2(-dx, dy) / (2 * math.Pi)
			if turn < 0 {
				turn++
			}
			i := 0
			for i < len(bounds)-1 && turn >= bounds[i] {
				i++
			}
			img.SetRGBA(x, y, palette[i%len(palette)])
		}
	}
}

func drawLabels(img *image.RGBA, slices []Slice, cx, cy, r int) {
	start := 0.0
	for _, s := range slices {
		mid := (start + s.Share/2) * 2 * math.Pi
		start += s.Share
		if s.Share < 0.03 {
			continue
		}
		x := cx + int(-math.Sin(mid)*float64(r)*0.65)
		y := cy - int(math.Cos(mid)*float64(r)*0.65)
		drawCenteredColor(img, fmt.Sprintf("%.1f%%", s.Share*100), x, y, color.RGBA{0xff, 0xff, 0xff, 0xff})
	}
}

func drawLegend(img *image.RGBA, slices []Slice, left, bottom int) {
	const lineHeight = 18
	top := bottom - lineHeight*len(slices)
	for i, s := range slices {
		y := top + i*lineHeight
		fill(img, image.Rect(left, y, left+12, y+12), palette[i%len(palette)])
		drawText(img, fmt.Sprintf("%s (%d)", s.Label, s.Value), left+18, y+10, ink)
	}
}

func drawCentered(img *image.RGBA, s string, x, y int) {
	drawCenteredColor(img, s, x, y, ink)
}

func drawCenteredColor(img *image.RGBA, s string, x, y int, c color.RGBA) {
	w := font.MeasureString(basicfont.Face7x13, s).Ceil()
	drawText(img, s, x-w/2, y+5, c)
}

func drawText(img *image.RGBA, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
