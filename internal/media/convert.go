package media

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	// Decoders for the formats the scanner accepts
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/mediascribe/mediascribe/internal/core"
)

// IsJPEG reports whether the path already carries a JPEG extension.
func IsJPEG(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg"
}

// DecodeFile decodes any supported image file.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the input scan
	if err != nil {
		return nil, core.ErrInput(core.CodeCorruptSource,
			fmt.Sprintf("cannot open %s", path)).WithCause(err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, core.ErrInput(core.CodeCorruptSource,
			fmt.Sprintf("cannot decode %s", path)).WithCause(err)
	}
	return img, nil
}

// ToJPEG re-encodes the image at src as a JPEG at dst.
func ToJPEG(src, dst string, quality int) error {
	img, err := DecodeFile(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	out, err := os.Create(dst) // #nosec G304 -- dst is inside the run directory
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encoding %s: %w", dst, err)
	}
	return out.Sync()
}
