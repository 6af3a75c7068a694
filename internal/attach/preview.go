package attach

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/jpeg"
	_ "image/png"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"
)

const (
	DefaultPreviewMaxEdge = 480
	DefaultPreviewQuality = 80
)

// Preview is a locally held thumbnail for a staged image. It must be
// released exactly once, either on explicit removal or on stager clear.
type Preview struct {
	data     []byte
	MimeType string
	Width    int
	Height   int
	released atomic.Bool
}

// Data returns the encoded thumbnail, or nil after release.
func (p *Preview) Data() []byte {
	if p.released.Load() {
		return nil
	}
	return p.data
}

// Release frees the thumbnail buffer. Returns true on the call that
// actually released; false if the preview was already released.
func (p *Preview) Release() bool {
	if !p.released.CompareAndSwap(false, true) {
		return false
	}
	p.data = nil
	return true
}

func (p *Preview) Released() bool {
	return p.released.Load()
}

func generatePreview(data []byte, maxEdge, quality int) (*Preview, error) {
	if maxEdge <= 0 {
		maxEdge = DefaultPreviewMaxEdge
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultPreviewQuality
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("invalid image dimensions")
	}

	width, height := scaleDimensions(bounds.Dx(), bounds.Dy(), maxEdge)
	previewImg := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(previewImg, previewImg.Bounds(), img, bounds, xdraw.Over, nil)

	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, previewImg, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg preview: %w", err)
	}

	return &Preview{
		data:     buf.Bytes(),
		MimeType: "image/jpeg",
		Width:    width,
		Height:   height,
	}, nil
}

func scaleDimensions(width, height, maxEdge int) (int, int) {
	if width <= maxEdge && height <= maxEdge {
		return width, height
	}

	if width >= height {
		ratio := float64(maxEdge) / float64(width)
		scaledHeight := int(float64(height)*ratio + 0.5)
		if scaledHeight < 1 {
			scaledHeight = 1
		}
		return maxEdge, scaledHeight
	}

	ratio := float64(maxEdge) / float64(height)
	scaledWidth := int(float64(width)*ratio + 0.5)
	if scaledWidth < 1 {
		scaledWidth = 1
	}
	return scaledWidth, maxEdge
}
