package extract

import (
	"strings"

	"golang.org/x/text/width"
)

var punctReplacer = strings.NewReplacer(
	" ", "",
	"　", "",
	"：", ":",
	"／", "/",
	"ー", "-",
)

// Normalize folds full-width characters to their narrow forms and strips
// spacing and punctuation variants, so label matching and cross-source
// comparison behave the same for OCR output of either script width.
func Normalize(s string) string {
	return width.Narrow.String(punctReplacer.Replace(s))
}

// FoldSearch folds a free-text query the same way SearchText folds the
// haystack. Spaces stay in place so multi-word queries keep matching.
func FoldSearch(s string) string {
	return strings.ToLower(width.Narrow.String(s))
}

// SearchText builds the width-folded, lowercased haystack used for
// bilingual free-text matching over a record's key fields.
func SearchText(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.ToLower(width.Narrow.String(p)))
	}
	return b.String()
}
