package image

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Preprocessor transforms an image before it reaches the local engine.
type Preprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// PreprocessConfig selects the steps of the local engine's preprocessing
// chain. A zero value disables every step.
type PreprocessConfig struct {
	Grayscale       bool
	Contrast        float64
	Sharpen         bool
	SharpenStrength float64
	Denoise         bool
	DenoiseStrength float64
}

type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// ContrastProcessor adjusts contrast by percentage in [-100, 100].
type ContrastProcessor struct {
	percentage float64
}

func NewContrastProcessor(percentage float64) *ContrastProcessor {
	return &ContrastProcessor{percentage: percentage}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.percentage), nil
}

type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, p.strength), nil
}

// DenoiseProcessor smooths noise with a gaussian blur.
type DenoiseProcessor struct {
	strength float64
}

func NewDenoiseProcessor(strength float64) *DenoiseProcessor {
	return &DenoiseProcessor{strength: strength}
}

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Blur(img, p.strength), nil
}

// Chain applies preprocessors in order.
type Chain []Preprocessor

// NewChain builds the chain described by cfg. Denoise always precedes sharpen.
func NewChain(cfg *PreprocessConfig) Chain {
	if cfg == nil {
		return nil
	}
	var chain Chain
	if cfg.Grayscale {
		chain = append(chain, NewGrayscaleProcessor())
	}
	if cfg.Contrast != 0 {
		chain = append(chain, NewContrastProcessor(cfg.Contrast))
	}
	if cfg.Denoise && cfg.DenoiseStrength > 0 {
		chain = append(chain, NewDenoiseProcessor(cfg.DenoiseStrength))
	}
	if cfg.Sharpen && cfg.SharpenStrength > 0 {
		chain = append(chain, NewSharpenProcessor(cfg.SharpenStrength))
	}
	return chain
}

func (c Chain) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	var err error
	for _, p := range c {
		if img, err = p.Process(img); err != nil {
			return nil, fmt.Errorf("preprocess %T: %w", p, err)
		}
	}
	return img, nil
}
