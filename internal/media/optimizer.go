package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"

	"golang.org/x/image/draw"

	"github.com/mediascribe/mediascribe/internal/core"
)

// EncodeFunc re-encodes an image at a quality level. Injectable for tests.
type EncodeFunc func(img image.Image, quality int) ([]byte, error)

// Optimizer brings a media payload under a provider's transport-encoded
// size ceiling by iterative downscaling and re-encoding.
type Optimizer struct {
	// MaxIterations bounds the downscale loop. Exhausting it is a
	// permanent input failure, never a retryable one.
	MaxIterations int
	// Margin shrinks the naive ceiling/expansion target to absorb encoding
	// and metadata overhead.
	Margin float64
	// StartQuality and MinQuality bound the JPEG quality ladder.
	StartQuality int
	MinQuality   int

	encode EncodeFunc
}

// NewOptimizer returns an optimizer with the default tuning.
func NewOptimizer() *Optimizer {
	return &Optimizer{
		MaxIterations: 8,
		Margin:        0.75,
		StartQuality:  85,
		MinQuality:    40,
		encode:        encodeJPEG,
	}
}

// WithEncoder overrides the encoder (for tests).
func (o *Optimizer) WithEncoder(fn EncodeFunc) *Optimizer {
	o.encode = fn
	return o
}

// TargetSize computes the effective raw-file target for a provider:
// ceiling divided by the transport expansion ratio, scaled by the safety
// margin. A 5 MB ceiling at 4/3 expansion and 0.75 margin targets ~2.8 MB;
// the margin keeps the encoded payload strictly below the ceiling even with
// headers and metadata on top.
func TargetSize(profile core.ProviderProfile, margin float64) int64 {
	expansion := profile.Expansion
	if expansion <= 1 {
		expansion = 1
	}
	return int64(float64(profile.Ceiling) / expansion * margin)
}

// Fit returns payload bytes for the file at path that clear the provider's
// ceiling once transport-encoded. Files already under target are returned
// unmodified. Oversized files are decoded, downscaled, and re-encoded until
// they fit or the iteration budget runs out.
func (o *Optimizer) Fit(path string, profile core.ProviderProfile) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the input scan
	if err != nil {
		return nil, core.ErrInput(core.CodeCorruptSource,
			fmt.Sprintf("cannot read %s", path)).WithCause(err)
	}

	target := TargetSize(profile, o.Margin)
	if int64(len(data)) <= target {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, core.ErrInput(core.CodeCorruptSource,
			fmt.Sprintf("cannot decode oversized file %s for downscaling", path)).WithCause(err)
	}

	quality := o.StartQuality
	current := img
	size := int64(len(data))

	for i := 0; i < o.MaxIterations; i++ {
		// Scale dimensions by the square root of the size ratio so pixel
		// count tracks the byte budget
		ratio := math.Sqrt(float64(target) / float64(size))
		if ratio < 1 {
			current = downscale(current, ratio)
		}

		encoded, err := o.encode(current, quality)
		if err != nil {
			return nil, core.ErrInput(core.CodeCorruptSource,
				fmt.Sprintf("re-encoding %s failed", path)).WithCause(err)
		}

		if int64(len(encoded)) <= target {
			return encoded, nil
		}

		size = int64(len(encoded))
		if quality > o.MinQuality {
			quality -= 10
			if quality < o.MinQuality {
				quality = o.MinQuality
			}
		}
	}

	return nil, core.ErrInput(core.CodePayloadTooLarge,
		fmt.Sprintf("%s cannot be reduced below %d bytes within %d iterations",
			path, target, o.MaxIterations))
}

func downscale(img image.Image, ratio float64) image.Image {
	bounds := img.Bounds()
	w := int(float64(bounds.Dx()) * ratio)
	h := int(float64(bounds.Dy()) * ratio)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
