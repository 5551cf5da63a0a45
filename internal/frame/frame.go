// Package frame defines the immutable raster frames and regions shared by
// capture, diffing and alert composition.
package frame

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"strconv"
	"strings"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
)

// Region is a rectangle in frame or screen coordinates.
type Region struct {
	Left   int `json:"left" yaml:"left"`
	Top    int `json:"top" yaml:"top"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// RegionFromRect converts an image rectangle.
func RegionFromRect(r image.Rectangle) Region {
	r = r.Canon()
	return Region{Left: r.Min.X, Top: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// ParseRegion parses "left,top,width,height".
func ParseRegion(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, apperrors.Newf(apperrors.InvalidArgument, "region %q: want left,top,width,height", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Region{}, apperrors.Wrapf(err, apperrors.InvalidArgument, "region %q", s)
		}
		v[i] = n
	}
	r := Region{Left: v[0], Top: v[1], Width: v[2], Height: v[3]}
	if !r.Valid() {
		return Region{}, apperrors.Newf(apperrors.InvalidArgument, "region %q: width and height must be positive", s)
	}
	return r, nil
}

// Rect returns the region as an image rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
}

// Valid reports whether width and height are positive.
func (r Region) Valid() bool { return r.Width > 0 && r.Height > 0 }

// Clamp intersects the region with bounds. The result has non-negative
// coordinates relative to bounds' coordinate space; ok is false when nothing
// of the region remains.
func (r Region) Clamp(bounds image.Rectangle) (Region, bool) {
	c := r.Rect().Intersect(bounds)
	if c.Empty() {
		return Region{}, false
	}
	out := RegionFromRect(c)
	if out.Left < 0 || out.Top < 0 {
		return Region{}, false
	}
	return out, true
}

func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.Left, r.Top, r.Width, r.Height)
}

// Frame is an immutable RGB raster with its origin at (0,0).
// Pixels are stored as opaque RGBA; the alpha channel is ignored by diffing.
type Frame struct {
	img    *image.RGBA
	digest [md5.Size]byte
}

// New copies img into a new frame.
func New(img image.Image) *Frame {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return adopt(dst)
}

// FromRGBA takes ownership of img without copying when it is already at the
// origin with a tight stride; the caller must not modify img afterwards.
func FromRGBA(img *image.RGBA) *Frame {
	b := img.Bounds()
	if b.Min != (image.Point{}) || img.Stride != 4*b.Dx() {
		return New(img)
	}
	return adopt(img)
}

func adopt(img *image.RGBA) *Frame {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return &Frame{img: img, digest: md5.Sum(img.Pix)}
}

// Width returns the pixel width.
func (f *Frame) Width() int { return f.img.Rect.Dx() }

// Height returns the pixel height.
func (f *Frame) Height() int { return f.img.Rect.Dy() }

// Bounds returns the frame rectangle, always anchored at (0,0).
func (f *Frame) Bounds() image.Rectangle { return f.img.Rect }

// SameSize reports whether both frames have identical dimensions.
func (f *Frame) SameSize(o *Frame) bool { return f.Bounds() == o.Bounds() }

// Digest returns the MD5 of the pixel data.
func (f *Frame) Digest() [md5.Size]byte { return f.digest }

// RGB returns the color at (x, y).
func (f *Frame) RGB(x, y int) (r, g, b uint8) {
	off := f.img.PixOffset(x, y)
	return f.img.Pix[off], f.img.Pix[off+1], f.img.Pix[off+2]
}

// Pix exposes the backing pixels read-only; stride is 4*Width.
func (f *Frame) Pix() []uint8 { return f.img.Pix }

// Image returns the frame as an image.Image. Mutating the result through a
// type assertion breaks immutability; use Clone for a writable copy.
func (f *Frame) Image() image.Image { return f.img }

// Clone returns a writable copy of the pixels.
func (f *Frame) Clone() *image.RGBA {
	dst := image.NewRGBA(f.img.Rect)
	copy(dst.Pix, f.img.Pix)
	return dst
}

// Crop returns the sub-frame covered by r. The region is clamped to the frame.
func (f *Frame) Crop(r Region) (*Frame, error) {
	c, ok := r.Clamp(f.Bounds())
	if !ok {
		return nil, apperrors.Newf(apperrors.InvalidArgument, "region %s outside frame %dx%d", r, f.Width(), f.Height())
	}
	sub := f.img.SubImage(c.Rect())
	return New(sub), nil
}

// EncodePNG writes the frame as PNG.
func (f *Frame) EncodePNG(w io.Writer) error {
	return png.Encode(w, f.img)
}

// PNG returns the PNG encoding of the frame.
func (f *Frame) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Outline draws a rectangle border of the given width inside r, clipped to img.
func Outline(img *image.RGBA, r image.Rectangle, width int, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() || width <= 0 {
		return
	}
	src := image.NewUniform(c)
	w := min(width, r.Dx(), r.Dy())
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w),
		image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y),
		image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e, src, image.Point{}, draw.Src)
	}
}

// Paste copies src onto dst with src's origin at at.
func Paste(dst *image.RGBA, src *Frame, at image.Point) {
	r := image.Rectangle{Min: at, Max: at.Add(src.Bounds().Size())}
	draw.Draw(dst, r, src.Image(), image.Point{}, draw.Src)
}
