package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/auction-ocr/internal/resilience"
)

const defaultVisionModel = "claude-sonnet-4-5-20250929"

// visionPrompt asks for a flat token list so the downstream extractors can
// run the same row-grouping logic regardless of engine.
const visionPrompt = `Read every piece of text in this auction sheet image. Respond with only a JSON array; each element is {"text": string, "confidence": number between 0 and 1, "bbox": [x0, y0, x1, y1]} with pixel coordinates relative to the image. Keep Japanese text as-is. No commentary.`

// Vision recognizes text using a vision-language model via the Anthropic
// API. Calls are rate-limited and retried on transient failures.
type Vision struct {
	client  sdk.Client
	model   string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewVision creates a Vision engine. If model is empty, the default is used.
func NewVision(apiKey, model string, requestsPerSecond float64) *Vision {
	if model == "" {
		model = defaultVisionModel
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "vision_ocr")
	return &Vision{
		client:  sdk.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		retry:   retry,
	}
}

// Recognize sends the PNG-encoded region crop to the model and parses the
// returned token list.
func (v *Vision) Recognize(ctx context.Context, img *image.Gray, region image.Rectangle) (Result, error) {
	crop, ok := img.SubImage(region.Intersect(img.Bounds())).(*image.Gray)
	if !ok || crop.Bounds().Empty() {
		return Result{Engine: "vision"}, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return Result{}, eris.Wrap(err, "ocr: encode crop")
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	if err := v.limiter.Wait(ctx); err != nil {
		return Result{}, eris.Wrap(err, "ocr: rate limit wait")
	}

	msg, err := resilience.DoVal(ctx, v.retry, func(ctx context.Context) (*sdk.Message, error) {
		m, callErr := v.client.Messages.New(ctx, sdk.MessageNewParams{
			Model:     sdk.Model(v.model),
			MaxTokens: 4096,
			Messages: []sdk.MessageParam{
				sdk.NewUserMessage(
					sdk.NewImageBlockBase64("image/png", encoded),
					sdk.NewTextBlock(visionPrompt),
				),
			},
		})
		if callErr != nil {
			return nil, eris.Wrap(classifyAPIError(callErr), "ocr: vision API call")
		}
		return m, nil
	})
	if err != nil {
		return Result{}, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	tokens, err := parseVisionTokens(text.String())
	if err != nil {
		return Result{}, err
	}

	// The crop keeps the parent image's coordinate space, so region-local
	// boxes from the model need shifting by the crop origin only.
	return Result{Engine: "vision", Tokens: offset(tokens, crop.Bounds())}, nil
}

// classifyAPIError tags rate limits and server-side failures as transient
// so the retry loop keeps trying them without retrying auth or validation
// errors.
func classifyAPIError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}

type visionToken struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
}

// parseVisionTokens reads the model's JSON array, tolerating a fenced code
// block around it.
func parseVisionTokens(raw string) ([]Token, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var parsed []visionToken
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, eris.Wrap(err, "ocr: parse vision response")
	}

	tokens := make([]Token, 0, len(parsed))
	for _, p := range parsed {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		conf := p.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		tokens = append(tokens, Token{
			Text:       p.Text,
			Confidence: conf,
			BBox:       image.Rect(p.BBox[0], p.BBox[1], p.BBox[2], p.BBox[3]),
		})
	}
	return tokens, nil
}
