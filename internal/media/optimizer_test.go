package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/mediascribe/mediascribe/internal/core"
	"github.com/mediascribe/mediascribe/internal/provider"
)

func cloudProfile() core.ProviderProfile {
	return core.ProviderProfile{
		Name:      "openai",
		Ceiling:   5 * 1024 * 1024,
		Expansion: provider.Base64Expansion,
	}
}

// writePNG writes a flat-colored test image of the given dimensions.
func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	path := filepath.Join(dir, "test.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTargetSize_StaysUnderCeiling(t *testing.T) {
	profile := cloudProfile()
	target := TargetSize(profile, 0.75)

	// The encoded payload must clear the ceiling: target * expansion < ceiling
	encoded := float64(target) * profile.Expansion
	if encoded >= float64(profile.Ceiling) {
		t.Errorf("target %d would encode to %.0f, above the %d ceiling", target, encoded, profile.Ceiling)
	}
	// Sanity: a 5 MB ceiling at 4/3 expansion and 0.75 margin is ~2.8 MB
	if target < 2_700_000 || target > 2_950_000 {
		t.Errorf("target = %d, expected ~2.8 MB", target)
	}
}

func TestOptimizer_SmallFilePassesThrough(t *testing.T) {
	path := writePNG(t, t.TempDir(), 32, 32)
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	payload, err := NewOptimizer().Fit(path, cloudProfile())
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(payload) != len(original) {
		t.Error("files under target must be returned unmodified")
	}
}

func TestOptimizer_OversizedFileGetsReduced(t *testing.T) {
	path := writePNG(t, t.TempDir(), 256, 256)

	// A tight 2 KB ceiling forces the downscale loop
	profile := core.ProviderProfile{Name: "tiny", Ceiling: 2 * 1024, Expansion: provider.Base64Expansion}
	target := TargetSize(profile, 0.75)

	// The injected encoder controls the shrink progression: two oversized
	// iterations, then one under target.
	sizes := []int{20000, 9000, int(target) - 100}
	call := 0
	opt := NewOptimizer().WithEncoder(func(_ image.Image, _ int) ([]byte, error) {
		data := make([]byte, sizes[call])
		if call < len(sizes)-1 {
			call++
		}
		return data, nil
	})

	payload, err := opt.Fit(path, profile)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if int64(len(payload)) > target {
		t.Errorf("payload %d exceeds target %d", len(payload), target)
	}
}

// writeNoisePNG writes a deterministic noise image. Noise defeats PNG
// compression, so the file size tracks pixel count closely.
func writeNoisePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255,
			})
		}
	}
	path := filepath.Join(dir, "noise.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOptimizer_RealEncoderConvergesUnderTarget(t *testing.T) {
	path := writeNoisePNG(t, t.TempDir(), 512, 512)

	profile := core.ProviderProfile{Name: "small", Ceiling: 256 * 1024, Expansion: provider.Base64Expansion}
	target := TargetSize(profile, 0.75)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() <= target {
		t.Fatalf("source file %d bytes does not exceed the %d target; nothing to reduce", info.Size(), target)
	}

	payload, err := NewOptimizer().Fit(path, profile)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if int64(len(payload)) > target {
		t.Errorf("payload %d exceeds target %d", len(payload), target)
	}
	if encoded := float64(len(payload)) * profile.Expansion; encoded >= float64(profile.Ceiling) {
		t.Errorf("payload would encode to %.0f bytes, above the %d ceiling", encoded, profile.Ceiling)
	}

	// The reduced payload must still be a decodable JPEG
	if _, format, err := image.Decode(bytes.NewReader(payload)); err != nil || format != "jpeg" {
		t.Errorf("payload should decode as jpeg, got format %q, err %v", format, err)
	}
}

func TestOptimizer_ExhaustionIsPermanentInputFailure(t *testing.T) {
	path := writePNG(t, t.TempDir(), 64, 64)
	profile := core.ProviderProfile{Name: "tiny", Ceiling: 1024, Expansion: provider.Base64Expansion}

	// An encoder that never shrinks exhausts the iteration budget
	opt := NewOptimizer().WithEncoder(func(_ image.Image, _ int) ([]byte, error) {
		return make([]byte, 100_000), nil
	})

	_, err := opt.Fit(path, profile)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if core.IsRetryable(err) {
		t.Error("payload exhaustion must be permanent, not retryable")
	}
	if !core.IsCategory(err, core.ErrCatInput) {
		t.Errorf("expected input category, got %v", core.GetCategory(err))
	}
}

func TestOptimizer_UnreadableFile(t *testing.T) {
	_, err := NewOptimizer().Fit(filepath.Join(t.TempDir(), "missing.png"), cloudProfile())
	if !core.IsCategory(err, core.ErrCatInput) {
		t.Errorf("expected input error for missing file, got %v", err)
	}
}
