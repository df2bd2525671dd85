// Package ocr recognizes text tokens in auction-sheet regions.
package ocr

import (
	"context"
	"image"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ocr/internal/config"
)

// Token is one recognized text fragment with its confidence in [0,1] and
// pixel bounding box in canonical-image coordinates.
type Token struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	BBox       image.Rectangle `json:"bbox"`
}

// Result is the output of one engine pass over a region.
type Result struct {
	Engine string  `json:"engine"`
	Tokens []Token `json:"tokens"`
}

// Engine recognizes text within a region of the canonical bitmap. Token
// bounding boxes are reported in full-image coordinates, not region-local
// ones.
type Engine interface {
	Recognize(ctx context.Context, img *image.Gray, region image.Rectangle) (Result, error)
}

// New creates an Engine based on config.
func New(cfg config.OCRConfig) (Engine, error) {
	switch cfg.Engine {
	case "tesseract", "":
		return NewTesseract(cfg.TesseractPath), nil
	case "vision":
		if cfg.AnthropicKey == "" {
			return nil, eris.New("ocr: vision engine requires anthropic_key")
		}
		return NewVision(cfg.AnthropicKey, cfg.VisionModel, cfg.RequestsPerSecond), nil
	default:
		return nil, eris.Errorf("ocr: unknown engine %q", cfg.Engine)
	}
}

// offset shifts region-local token boxes into full-image coordinates.
func offset(tokens []Token, region image.Rectangle) []Token {
	out := make([]Token, len(tokens))
	for i, tok := range tokens {
		tok.BBox = tok.BBox.Add(region.Min)
		out[i] = tok
	}
	return out
}
