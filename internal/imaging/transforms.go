package imaging

import (
	"context"
	"fmt"

	"starstep/internal/transform"

	"gopkg.in/gographics/imagick.v3/imagick"
)

// IntegerResample downsamples a frame by an integer zoom factor.
type IntegerResample struct {
	Zoom int
}

func newIntegerResample(p transform.Params) (transform.Transform, error) {
	zoom, err := p.Int("zoom", 2)
	if err != nil {
		return nil, err
	}
	if zoom < 1 {
		return nil, fmt.Errorf("zoom must be >= 1, got %d", zoom)
	}
	return &IntegerResample{Zoom: zoom}, nil
}

func (r *IntegerResample) Name() string { return "IntegerResample" }

// SpaceFactor is 1/zoom² since both axes shrink.
func (r *IntegerResample) SpaceFactor() float64 {
	return 1 / float64(r.Zoom) / float64(r.Zoom)
}

func (r *IntegerResample) Apply(ctx context.Context, f transform.Frame) error {
	im, err := asImage(f)
	if err != nil {
		return err
	}
	mw := im.Wand()
	width := mw.GetImageWidth() / uint(r.Zoom)
	height := mw.GetImageHeight() / uint(r.Zoom)
	if width == 0 || height == 0 {
		return fmt.Errorf("zoom %d too large for %dx%d frame", r.Zoom, mw.GetImageWidth(), mw.GetImageHeight())
	}
	return mw.ResizeImage(width, height, imagick.FILTER_BOX)
}

// Level remaps the black point, gamma and white point. Points are given in
// the quantum range of the ImageMagick build.
type Level struct {
	Black, Gamma, White float64
}

func newLevel(p transform.Params) (transform.Transform, error) {
	l := &Level{}
	var err error
	if l.Black, err = p.Float("black", 0); err != nil {
		return nil, err
	}
	if l.Gamma, err = p.Float("gamma", 1); err != nil {
		return nil, err
	}
	if l.White, err = p.Float("white", 65535); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Level) Name() string { return "Level" }

func (l *Level) Apply(ctx context.Context, f transform.Frame) error {
	im, err := asImage(f)
	if err != nil {
		return err
	}
	return im.Wand().LevelImage(l.Black, l.Gamma, l.White)
}

// Stretch applies a sigmoidal contrast curve, a cheap non-linear stretch for
// previews of linear data.
type Stretch struct {
	Strength float64
	Midpoint float64
}

func newStretch(p transform.Params) (transform.Transform, error) {
	s := &Stretch{}
	var err error
	if s.Strength, err = p.Float("strength", 8); err != nil {
		return nil, err
	}
	if s.Midpoint, err = p.Float("midpoint", 6553); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stretch) Name() string { return "Stretch" }

func (s *Stretch) Apply(ctx context.Context, f transform.Frame) error {
	im, err := asImage(f)
	if err != nil {
		return err
	}
	return im.Wand().SigmoidalContrastImage(true, s.Strength, s.Midpoint)
}

// Saturation scales color saturation; 1.25 is +25%.
type Saturation struct {
	Amount float64
}

func newSaturation(p transform.Params) (transform.Transform, error) {
	amount, err := p.Float("amount", 1)
	if err != nil {
		return nil, err
	}
	return &Saturation{Amount: amount}, nil
}

func (s *Saturation) Name() string { return "Saturation" }

func (s *Saturation) Apply(ctx context.Context, f transform.Frame) error {
	im, err := asImage(f)
	if err != nil {
		return err
	}
	return im.Wand().ModulateImage(100, s.Amount*100, 100)
}
