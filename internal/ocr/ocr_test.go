package ocr

import (
	"image"
	"net/http"
	"net/url"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-ocr/internal/config"
	"github.com/sells-group/auction-ocr/internal/resilience"
)

func TestNewDefaultsToTesseract(t *testing.T) {
	eng, err := New(config.OCRConfig{})
	require.NoError(t, err)
	assert.IsType(t, &Tesseract{}, eng)
}

func TestNewVisionRequiresKey(t *testing.T) {
	_, err := New(config.OCRConfig{Engine: "vision"})
	assert.Error(t, err)

	eng, err := New(config.OCRConfig{Engine: "vision", AnthropicKey: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &Vision{}, eng)
}

func TestNewRejectsUnknownEngine(t *testing.T) {
	_, err := New(config.OCRConfig{Engine: "abbyy"})
	assert.Error(t, err)
}

func TestParseTSV(t *testing.T) {
	out := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
		"1\t1\t0\t0\t0\t0\t0\t0\t640\t480\t-1\t\n" +
		"5\t1\t1\t1\t1\t1\t10\t20\t50\t14\t96.5\t出品番号\n" +
		"5\t1\t1\t1\t1\t2\t70\t20\t40\t14\t91\t70345\n" +
		"5\t1\t1\t1\t2\t1\t10\t40\t30\t14\t88\t \n"

	tokens := parseTSV(out)
	require.Len(t, tokens, 2)
	assert.Equal(t, "出品番号", tokens[0].Text)
	assert.InDelta(t, 0.965, tokens[0].Confidence, 1e-9)
	assert.Equal(t, image.Rect(10, 20, 60, 34), tokens[0].BBox)
	assert.Equal(t, "70345", tokens[1].Text)
}

func TestParseTSVEmptyAndMalformed(t *testing.T) {
	assert.Empty(t, parseTSV(""))
	assert.Empty(t, parseTSV("header only\n"))
	assert.Empty(t, parseTSV("h\nnot\tenough\tcolumns\n"))
}

func TestParseVisionTokens(t *testing.T) {
	raw := "```json\n[{\"text\":\"評価点\",\"confidence\":0.92,\"bbox\":[5,5,40,20]},{\"text\":\"4.5\",\"confidence\":1.4,\"bbox\":[50,5,70,20]},{\"text\":\"  \",\"confidence\":0.9,\"bbox\":[0,0,1,1]}]\n```"

	tokens, err := parseVisionTokens(raw)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "評価点", tokens[0].Text)
	assert.Equal(t, image.Rect(5, 5, 40, 20), tokens[0].BBox)
	assert.Equal(t, 1.0, tokens[1].Confidence) // clamped
}

func TestParseVisionTokensRejectsGarbage(t *testing.T) {
	_, err := parseVisionTokens("the image shows an auction sheet")
	assert.Error(t, err)

	tokens, err := parseVisionTokens("")
	assert.NoError(t, err)
	assert.Empty(t, tokens)
}

// apiErr builds an sdk.Error with Request and Response populated, which
// its Error() method dereferences unconditionally.
func apiErr(status int) *sdk.Error {
	return &sdk.Error{
		StatusCode: status,
		Request:    &http.Request{Method: http.MethodPost, URL: &url.URL{Scheme: "https", Host: "api.example.com"}},
		Response:   &http.Response{StatusCode: status},
	}
}

func TestClassifyAPIError(t *testing.T) {
	// Overload and rate limits retry; auth failures do not.
	assert.True(t, resilience.IsTransient(classifyAPIError(apiErr(503))))
	assert.True(t, resilience.IsTransient(classifyAPIError(apiErr(429))))
	assert.False(t, resilience.IsTransient(classifyAPIError(apiErr(401))))

	plain := eris.New("decode failed")
	assert.Equal(t, plain, classifyAPIError(plain))
}

func TestOffset(t *testing.T) {
	tokens := offset(
		[]Token{{Text: "a", BBox: image.Rect(1, 2, 3, 4)}},
		image.Rect(100, 200, 300, 400),
	)
	assert.Equal(t, image.Rect(101, 202, 103, 204), tokens[0].BBox)
}
