// Package tilediff compares two equally sized frames tile by tile.
package tilediff

import (
	"image"
	"image/color"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
)

const (
	DefaultTileSize  = 100
	DefaultThreshold = 10.0
	OutlineWidth     = 3
)

// OutlineColor marks exceeding tiles on the overlay.
var OutlineColor = color.RGBA{R: 255, A: 255}

// Tile is one cell of the comparison grid.
type Tile struct {
	Bounds  image.Rectangle
	Diff    float64
	Exceeds bool
}

// Result is the outcome of Compare.
type Result struct {
	Tiles               []Tile
	Cols, Rows          int
	AnyExceedsThreshold bool
	Overlay             *frame.Frame
}

// Exceeding returns the tiles above the threshold in row-major order.
func (r Result) Exceeding() []Tile {
	var out []Tile
	for _, t := range r.Tiles {
		if t.Exceeds {
			out = append(out, t)
		}
	}
	return out
}

// ChangedPercent returns the share of frame area covered by exceeding tiles, 0–100.
func (r Result) ChangedPercent() float64 {
	var total, changed int
	for _, t := range r.Tiles {
		area := t.Bounds.Dx() * t.Bounds.Dy()
		total += area
		if t.Exceeds {
			changed += area
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(changed) / float64(total)
}

// Grid partitions bounds into row-major tiles of tileSize, clipping the last
// row and column.
func Grid(bounds image.Rectangle, tileSize int) (tiles []image.Rectangle, cols, rows int) {
	for y := bounds.Min.Y; y < bounds.Max.Y; y += tileSize {
		rows++
		cols = 0
		for x := bounds.Min.X; x < bounds.Max.X; x += tileSize {
			cols++
			tiles = append(tiles, image.Rect(x, y, min(x+tileSize, bounds.Max.X), min(y+tileSize, bounds.Max.Y)))
		}
	}
	return tiles, cols, rows
}

// Compare diffs prior against current. The overlay is drawn on a copy of current.
func Compare(prior, current *frame.Frame, tileSize int, threshold float64) (Result, error) {
	if tileSize <= 0 {
		return Result{}, apperrors.Newf(apperrors.InvalidArgument, "tile size %d must be positive", tileSize)
	}
	if !prior.SameSize(current) {
		return Result{}, apperrors.Newf(apperrors.DimensionMismatch, "frame %dx%d vs %dx%d",
			prior.Width(), prior.Height(), current.Width(), current.Height())
	}

	rects, cols, rows := Grid(current.Bounds(), tileSize)
	res := Result{Tiles: make([]Tile, len(rects)), Cols: cols, Rows: rows}

	var overlay *image.RGBA
	for i, r := range rects {
		d := MeanAbsDiff(prior, current, r)
		exceeds := d > threshold
		res.Tiles[i] = Tile{Bounds: r, Diff: d, Exceeds: exceeds}
		if !exceeds {
			continue
		}
		if overlay == nil {
			overlay = current.Clone()
		}
		res.AnyExceedsThreshold = true
		frame.Outline(overlay, r, OutlineWidth, OutlineColor)
	}

	if overlay == nil {
		res.Overlay = current
	} else {
		res.Overlay = frame.FromRGBA(overlay)
	}
	return res, nil
}

// MeanAbsDiff is the mean absolute R,G,B difference over r. Both frames must
// contain r.
func MeanAbsDiff(a, b *frame.Frame, r image.Rectangle) float64 {
	if r.Empty() {
		return 0
	}
	pa, pb := a.Pix(), b.Pix()
	stride := 4 * a.Width()
	var sum uint64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := y*stride + 4*r.Min.X
		end := y*stride + 4*r.Max.X
		for off := row; off < end; off += 4 {
			sum += absDiff(pa[off], pb[off]) + absDiff(pa[off+1], pb[off+1]) + absDiff(pa[off+2], pb[off+2])
		}
	}
	return float64(sum) / float64(3*r.Dx()*r.Dy())
}

func absDiff(x, y uint8) uint64 {
	if x > y {
		return uint64(x - y)
	}
	return uint64(y - x)
}
