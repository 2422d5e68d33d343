// Package pipeline turns a captured editor canvas into the size-bounded WebP
// blob that gets persisted: decode, fill-fit resize to the original photo's
// resolution, then encode under one of two policies. Everything runs in
// memory; there are no temporary files to clean up on failure.
package pipeline

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/gen2brain/webp"
	"golang.org/x/image/draw"
)

var (
	// ErrEmptyData is returned when the image payload is empty.
	ErrEmptyData = errors.New("pipeline: empty image data")

	// ErrUnsupportedFormat is returned when the payload cannot be decoded
	// as any supported image format.
	ErrUnsupportedFormat = errors.New("pipeline: unsupported image format")
)

// ContentType is the MIME type of every pipeline output.
const ContentType = "image/webp"

// Result is one encoded candidate: the blob plus the dimensions and quality
// it was produced at.
type Result struct {
	Data    []byte
	Width   int
	Height  int
	Quality int
}

// Size returns the encoded byte length.
func (r *Result) Size() int { return len(r.Data) }

// EncodePolicy turns a normalized image into the final blob. The two
// implementations cover the two observed save paths: a single fixed-quality
// encode for line overlays, and the quality/size-budgeted loop for general
// image uploads.
type EncodePolicy interface {
	Encode(img image.Image) (*Result, error)
}

// FixedPolicy encodes once at a fixed quality and compression effort.
type FixedPolicy struct {
	Quality int
	Method  int // libwebp effort, 0 (fast) to 6 (slowest/smallest)
}

// DefaultFixedPolicy is the route-line save path: quality 80, effort 6.
func DefaultFixedPolicy() FixedPolicy {
	return FixedPolicy{Quality: 80, Method: 6}
}

func (p FixedPolicy) Encode(img image.Image) (*Result, error) {
	return encodeWebP(img, p.Quality, p.Method)
}

// BudgetPolicy iterates until the encoded size fits MaxBytes: quality drops
// from StartQuality by QualityStep down to MinQuality, then the dimensions
// shrink by ShrinkStep per iteration at RescueQuality. Shrinking stops at
// MinScale of the original in either axis; the last candidate is accepted
// even if still over budget.
type BudgetPolicy struct {
	MaxBytes      int
	StartQuality  int
	MinQuality    int
	QualityStep   int
	RescueQuality int
	ShrinkStep    float64
	MinScale      float64
	Method        int
}

// DefaultBudgetPolicy is the general upload path: 300 KiB budget, quality
// 80 down to 10 in steps of 10, then 10% shrinks at quality 60, never below
// half the original size.
func DefaultBudgetPolicy() BudgetPolicy {
	return BudgetPolicy{
		MaxBytes:      300 << 10,
		StartQuality:  80,
		MinQuality:    10,
		QualityStep:   10,
		RescueQuality: 60,
		ShrinkStep:    0.10,
		MinScale:      0.5,
		Method:        4,
	}
}

func (p BudgetPolicy) Encode(img image.Image) (*Result, error) {
	res, err := encodeWebP(img, p.StartQuality, p.Method)
	if err != nil {
		return nil, err
	}
	if res.Size() <= p.MaxBytes {
		return res, nil
	}

	// Quality ladder first.
	for q := p.StartQuality - p.QualityStep; q >= p.MinQuality; q -= p.QualityStep {
		res, err = encodeWebP(img, q, p.Method)
		if err != nil {
			return nil, err
		}
		if res.Size() <= p.MaxBytes {
			return res, nil
		}
	}

	// Quality exhausted: shrink dimensions at the rescue quality. The floor
	// is half the original size per axis, accepted over-budget if reached.
	// A non-positive step cannot make progress, so the shrink tier is
	// skipped entirely rather than looping on the same dimensions.
	if p.ShrinkStep <= 0 {
		return res, nil
	}
	origW := img.Bounds().Dx()
	origH := img.Bounds().Dy()
	w, h := origW, origH
	for res.Size() > p.MaxBytes {
		nextW := int(float64(w) * (1 - p.ShrinkStep))
		nextH := int(float64(h) * (1 - p.ShrinkStep))
		if float64(nextW) < float64(origW)*p.MinScale || float64(nextH) < float64(origH)*p.MinScale {
			break
		}
		w, h = nextW, nextH
		res, err = encodeWebP(FillFit(img, w, h), p.RescueQuality, p.Method)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func encodeWebP(img image.Image, quality, method int) (*Result, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: quality, Method: method}); err != nil {
		return nil, fmt.Errorf("pipeline: encode webp: %w", err)
	}
	b := img.Bounds()
	return &Result{
		Data:    buf.Bytes(),
		Width:   b.Dx(),
		Height:  b.Dy(),
		Quality: quality,
	}, nil
}

// DecodeDataURL decodes a base64 data URL (or bare base64) into an image.
// PNG, JPEG and WebP payloads are supported.
func DecodeDataURL(s string) (image.Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyData
	}
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed data url", ErrUnsupportedFormat)
		}
		s = s[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some encoders strip the padding.
		raw, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("pipeline: decode base64: %v", err)
		}
	}
	return DecodeBytes(raw)
}

// DecodeBytes decodes a raw encoded image buffer, auto-detecting the format.
func DecodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return img, nil
}

// FillFit resizes to exactly width x height, stretching rather than
// preserving aspect ratio. The captured canvas may differ in pixel ratio
// from the original photo, and the saved blob must match the photo's
// resolution exactly.
func FillFit(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Process runs the full pipeline on a client-captured payload: decode the
// data URL, normalize to the original photo's dimensions when supplied, and
// encode under the given policy.
func Process(imageData string, originalWidth, originalHeight int, policy EncodePolicy) (*Result, error) {
	img, err := DecodeDataURL(imageData)
	if err != nil {
		return nil, err
	}
	return ProcessImage(img, originalWidth, originalHeight, policy)
}

// ProcessImage is Process for an already decoded composite.
func ProcessImage(img image.Image, originalWidth, originalHeight int, policy EncodePolicy) (*Result, error) {
	if originalWidth > 0 && originalHeight > 0 {
		img = FillFit(img, originalWidth, originalHeight)
	}
	return policy.Encode(img)
}
