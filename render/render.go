// Package render composites a route line over a topo photo. The output is a
// pure function of its inputs: no animation state, so a saved snapshot is a
// faithful capture of what was rendered.
package render

import (
	"image"
	"image/color"

	"cragline/core"

	"github.com/fogleman/gg"
)

// Style controls how the line is stroked. The line is drawn twice along the
// same points: a wide high-contrast border first, then the narrower main
// stroke on top, both with round caps and joins and straight segments.
type Style struct {
	BorderColor color.Color
	BorderWidth float64

	LineColor color.Color
	LineWidth float64

	// MarkerRadius is the radius of the filled circle drawn at each point
	// while a line is still being drawn, as click-target feedback.
	MarkerRadius float64
	MarkerColor  color.Color
}

// DefaultStyle matches the production drawing: white border under a red line.
func DefaultStyle() Style {
	return Style{
		BorderColor:  color.White,
		BorderWidth:  8,
		LineColor:    color.RGBA{R: 0xe5, G: 0x39, B: 0x35, A: 0xff},
		LineWidth:    4,
		MarkerRadius: 5,
		MarkerColor:  color.White,
	}
}

// Options selects what to render on top of the base image.
type Options struct {
	Style Style

	// ShowLine toggles visibility of a finished line; when false the
	// stroke is omitted.
	ShowLine bool

	// InProgress marks a path still being drawn: it is always stroked
	// (ShowLine only hides finished lines) and gets the per-point markers.
	InProgress bool
}

// Composite renders the base image with the path stroked on top and returns
// the result. Paths below the two-point minimum are not stroked; markers are
// still drawn for an in-progress single point.
func Composite(base image.Image, path core.Path, opts Options) image.Image {
	dc := gg.NewContextForImage(base)

	style := opts.Style
	if path.Valid() && (opts.ShowLine || opts.InProgress) {
		strokePath(dc, path, style.BorderColor, style.BorderWidth)
		strokePath(dc, path, style.LineColor, style.LineWidth)
	}

	if opts.InProgress {
		dc.SetColor(style.MarkerColor)
		for _, p := range path {
			dc.DrawCircle(p.X, p.Y, style.MarkerRadius)
			dc.Fill()
		}
	}

	return dc.Image()
}

func strokePath(dc *gg.Context, path core.Path, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.SetLineCapRound()
	dc.SetLineJoinRound()
	dc.MoveTo(path[0].X, path[0].Y)
	for _, p := range path[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.Stroke()
}
