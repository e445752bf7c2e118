// Package framediff decides whether two screen captures differ enough to be
// worth a new analysis.
package framediff

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	DefaultThreshold     = 0.1
	DefaultMinDiffPixels = 1000
	// DefaultMaxPixels admits 5K captures.
	DefaultMaxPixels = 16 << 20
)

const (
	ReasonDimensions   = "dimensions"
	ReasonDecodeFailed = "decode_failed"
	ReasonTooLarge     = "too_large"
	ReasonPixels       = "pixels"
)

// ErrTooLarge is returned for images whose declared canvas exceeds the pixel cap.
var ErrTooLarge = errors.New("image exceeds pixel limit")

// Result of comparing two frames.
type Result struct {
	Different  bool   `json:"different"`
	DiffPixels int    `json:"diff_pixels"`
	Reason     string `json:"reason"`
}

// Differ compares frames pixel by pixel.
//
// Threshold is the per-channel delta, on a 0..1 scale, above which a pixel
// counts as changed. MinDiffPixels is an absolute pixel count and does not
// scale with resolution. MaxPixels caps the declared canvas of either frame;
// larger frames are reported as different without being decoded.
type Differ struct {
	Threshold     float64
	MinDiffPixels int
	MaxPixels     int
}

func New(threshold float64, minDiffPixels int) *Differ {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	if minDiffPixels <= 0 {
		minDiffPixels = DefaultMinDiffPixels
	}
	return &Differ{Threshold: threshold, MinDiffPixels: minDiffPixels, MaxPixels: DefaultMaxPixels}
}

// CheckSize reads only the image header and fails with ErrTooLarge when the
// declared canvas exceeds maxPixels. A non-positive maxPixels means
// DefaultMaxPixels.
func CheckSize(data []byte, maxPixels int) (image.Config, error) {
	if len(data) == 0 {
		return image.Config{}, fmt.Errorf("decode image header: empty input")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, fmt.Errorf("decode image header: %w", err)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return cfg, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	return cfg, nil
}

// Decode parses PNG, JPEG, GIF, BMP or WebP bytes.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode image: empty input")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Compare reads both headers first: oversized canvases and dimension changes
// are decided without a full decode. A frame that fails to decode is reported
// as different.
func (d *Differ) Compare(a, b []byte) Result {
	cfgA, errA := CheckSize(a, d.maxPixels())
	cfgB, errB := CheckSize(b, d.maxPixels())
	switch {
	case errors.Is(errA, ErrTooLarge), errors.Is(errB, ErrTooLarge):
		return Result{Different: true, Reason: ReasonTooLarge}
	case errA != nil, errB != nil:
		return Result{Different: true, Reason: ReasonDecodeFailed}
	case cfgA.Width != cfgB.Width || cfgA.Height != cfgB.Height:
		return Result{Different: true, Reason: ReasonDimensions}
	}

	imgA, err := Decode(a)
	if err != nil {
		return Result{Different: true, Reason: ReasonDecodeFailed}
	}
	imgB, err := Decode(b)
	if err != nil {
		return Result{Different: true, Reason: ReasonDecodeFailed}
	}
	return d.CompareImages(imgA, imgB)
}

func (d *Differ) CompareImages(a, b image.Image) Result {
	if a == nil || b == nil {
		return Result{Different: true, Reason: ReasonDecodeFailed}
	}
	ba, bb := a.Bounds(), b.Bounds()
	if ba.Dx() != bb.Dx() || ba.Dy() != bb.Dy() {
		return Result{Different: true, Reason: ReasonDimensions}
	}

	// Deltas are compared in 16-bit channel space.
	limit := uint32(d.threshold() * 0xffff)
	count := 0
	for y := 0; y < ba.Dy(); y++ {
		for x := 0; x < ba.Dx(); x++ {
			if pixelDiffers(a.At(ba.Min.X+x, ba.Min.Y+y), b.At(bb.Min.X+x, bb.Min.Y+y), limit) {
				count++
			}
		}
	}
	return Result{
		Different:  count >= d.minDiffPixels(),
		DiffPixels: count,
		Reason:     ReasonPixels,
	}
}

func (d *Differ) threshold() float64 {
	if d == nil || d.Threshold <= 0 || d.Threshold >= 1 {
		return DefaultThreshold
	}
	return d.Threshold
}

func (d *Differ) maxPixels() int {
	if d == nil || d.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return d.MaxPixels
}

func (d *Differ) minDiffPixels() int {
	if d == nil || d.MinDiffPixels <= 0 {
		return DefaultMinDiffPixels
	}
	return d.MinDiffPixels
}

func pixelDiffers(p, q color.Color, limit uint32) bool {
	r1, g1, b1, a1 := p.RGBA()
	r2, g2, b2, a2 := q.RGBA()
	return absDiff(r1, r2) > limit ||
		absDiff(g1, g2) > limit ||
		absDiff(b1, b2) > limit ||
		absDiff(a1, a2) > limit
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
