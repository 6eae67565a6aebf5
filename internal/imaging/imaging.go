// Package imaging provides the host side of the custom-step engine: frames
// loaded through the native ImageMagick bindings and the transforms that can
// be named in instruction trees.
package imaging

import (
	"fmt"
	"sync"

	"starstep/internal/transform"

	"gopkg.in/gographics/imagick.v3/imagick"
)

var (
	initMu   sync.Mutex
	initRefs int
)

// Start initializes ImageMagick. Every Start must be paired with a Stop.
func Start() {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		imagick.Initialize()
	}
	initRefs++
}

// Stop releases ImageMagick once the last user is done.
func Stop() {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		return
	}
	initRefs--
	if initRefs == 0 {
		imagick.Terminate()
	}
}

// Image is a frame held in a MagickWand.
type Image struct {
	Path string
	wand *imagick.MagickWand
}

// Save writes the image to path; the format follows the extension.
func (im *Image) Save(path string) error {
	if err := im.wand.WriteImage(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Close releases the wand.
func (im *Image) Close() {
	if im.wand != nil {
		im.wand.Destroy()
		im.wand = nil
	}
}

// Wand exposes the underlying MagickWand.
func (im *Image) Wand() *imagick.MagickWand {
	return im.wand
}

func (im *Image) replace(w *imagick.MagickWand) {
	im.Close()
	im.wand = w
}

// Opener loads frames with ImageMagick.
type Opener struct{}

// Open reads path into a new Image.
func (Opener) Open(path string) (transform.Frame, error) {
	mw := imagick.NewMagickWand()
	if err := mw.ReadImage(path); err != nil {
		mw.Destroy()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &Image{Path: path, wand: mw}, nil
}

func asImage(f transform.Frame) (*Image, error) {
	im, ok := f.(*Image)
	if !ok || im.wand == nil {
		return nil, transform.ErrUnsupportedFrame
	}
	return im, nil
}

// Register adds the ImageMagick backed kinds to reg.
func Register(reg *transform.Registry) {
	reg.Register("IntegerResample", newIntegerResample)
	reg.Register("resample", newIntegerResample)
	reg.Register("level", newLevel)
	reg.Register("stretch", newStretch)
	reg.Register("saturation", newSaturation)
	reg.Register("command", newCommand)
}
