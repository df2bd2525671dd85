package ocr

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Tesseract recognizes text using the tesseract CLI tool.
type Tesseract struct {
	binPath string
	langs   string
}

// NewTesseract creates a Tesseract engine. If binPath is empty, "tesseract"
// is used. Japanese and English models are both loaded: auction sheets mix
// the two scripts freely.
func NewTesseract(binPath string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	return &Tesseract{binPath: binPath, langs: "jpn+eng"}
}

// Recognize crops the region, runs tesseract in TSV mode, and parses word
// tokens out of the output.
func (t *Tesseract) Recognize(ctx context.Context, img *image.Gray, region image.Rectangle) (Result, error) {
	crop, ok := img.SubImage(region.Intersect(img.Bounds())).(*image.Gray)
	if !ok || crop.Bounds().Empty() {
		return Result{Engine: "tesseract"}, nil
	}

	tmp, err := os.CreateTemp("", "auction-ocr-*.png")
	if err != nil {
		return Result{}, eris.Wrap(err, "ocr: create temp image")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := png.Encode(tmp, crop); err != nil {
		tmp.Close()
		return Result{}, eris.Wrap(err, "ocr: encode crop")
	}
	if err := tmp.Close(); err != nil {
		return Result{}, eris.Wrap(err, "ocr: close temp image")
	}

	cmd := exec.CommandContext(ctx, t.binPath, filepath.Clean(tmpPath), "stdout", "-l", t.langs, "--psm", "6", "tsv")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, eris.Wrapf(err, "ocr: tesseract failed: %s", stderr.String())
	}

	tokens := parseTSV(stdout.String())
	return Result{Engine: "tesseract", Tokens: offset(tokens, region)}, nil
}

// parseTSV extracts word-level tokens from tesseract TSV output. Tesseract
// reports confidence 0-100 and -1 for structural rows; both the structural
// rows and empty text cells are dropped.
func parseTSV(out string) []Token {
	var tokens []Token
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue // header row
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		left, _ := strconv.Atoi(cols[6])
		top, _ := strconv.Atoi(cols[7])
		width, _ := strconv.Atoi(cols[8])
		height, _ := strconv.Atoi(cols[9])
		tokens = append(tokens, Token{
			Text:       text,
			Confidence: conf / 100,
			BBox:       image.Rect(left, top, left+width, top+height),
		})
	}
	return tokens
}
