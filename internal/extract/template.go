package extract

import (
	_ "embed"
	"os"
	"regexp"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/auction-ocr/internal/model"
	"github.com/sells-group/auction-ocr/internal/ocr"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Template describes one venue's header table layout: which label text
// anchors each field. Labels are regex patterns matched against normalized
// token text.
type Template struct {
	Venue  string              `yaml:"venue"`
	Labels map[string][]string `yaml:"labels"`

	compiled map[string][]*regexp.Regexp
}

// TemplateSet is the ordered collection of known venue templates. Order is
// fixed at load time so matching is deterministic.
type TemplateSet struct {
	templates []*Template
	byVenue   map[string]*Template
}

// LoadTemplates reads venue templates from path, or the embedded defaults
// when path is empty.
func LoadTemplates(path string) (*TemplateSet, error) {
	raw := defaultTemplates
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: read templates %s", path)
		}
		raw = b
	}

	var doc struct {
		Templates []*Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "extract: parse templates")
	}
	if len(doc.Templates) == 0 {
		return nil, eris.New("extract: no templates defined")
	}

	ts := &TemplateSet{byVenue: make(map[string]*Template, len(doc.Templates))}
	for _, tpl := range doc.Templates {
		tpl.compiled = make(map[string][]*regexp.Regexp, len(tpl.Labels))
		for field, patterns := range tpl.Labels {
			for _, pat := range patterns {
				re, err := regexp.Compile(pat)
				if err != nil {
					return nil, eris.Wrapf(err, "extract: template %s label %s", tpl.Venue, field)
				}
				tpl.compiled[field] = append(tpl.compiled[field], re)
			}
		}
		ts.templates = append(ts.templates, tpl)
		ts.byVenue[tpl.Venue] = tpl
	}
	sort.SliceStable(ts.templates, func(i, j int) bool {
		return ts.templates[i].Venue < ts.templates[j].Venue
	})
	return ts, nil
}

// ByVenue returns the template for a venue hint, or nil.
func (ts *TemplateSet) ByVenue(venue string) *Template {
	return ts.byVenue[venue]
}

// Venues lists the known venue names in match order.
func (ts *TemplateSet) Venues() []string {
	out := make([]string, len(ts.templates))
	for i, tpl := range ts.templates {
		out[i] = tpl.Venue
	}
	return out
}

// score counts the fraction of the template's labels found among the
// tokens. Used to pick a template when no venue hint is given and to
// reject regions that are not a header table at all.
func (tpl *Template) score(tokens []ocr.Token) float64 {
	if len(tpl.compiled) == 0 {
		return 0
	}
	hits := 0
	for _, patterns := range tpl.compiled {
		for _, tok := range tokens {
			if matchAny(patterns, Normalize(tok.Text)) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(tpl.compiled))
}

// Match selects the template for a header region. The hinted venue is
// tried first; otherwise every template is scored and the best one wins,
// ties broken by venue name order. Returns ErrTableNotFound when no
// template clears the floor; the caller treats that as terminal for the
// record.
func (ts *TemplateSet) Match(tokens []ocr.Token, venueHint string, floor float64) (*Template, error) {
	if venueHint != "" {
		if tpl := ts.byVenue[venueHint]; tpl != nil && tpl.score(tokens) >= floor {
			return tpl, nil
		}
	}

	var best *Template
	bestScore := 0.0
	for _, tpl := range ts.templates {
		if s := tpl.score(tokens); s > bestScore {
			best = tpl
			bestScore = s
		}
	}
	if best == nil || bestScore < floor {
		return nil, ErrTableNotFound
	}
	return best, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// labelPatterns returns the compiled patterns for a field, or nil.
func (tpl *Template) labelPatterns(field string) []*regexp.Regexp {
	return tpl.compiled[field]
}

// fieldOrder fixes the iteration order over template fields so extraction
// output is deterministic.
var fieldOrder = []string{
	model.FieldAuctionDate,
	model.FieldVenue,
	model.FieldVenueRound,
	model.FieldLot,
	model.FieldMakeModel,
	model.FieldGrade,
	model.FieldModelYear,
	model.FieldShiftEngine,
	model.FieldMileage,
	model.FieldInspection,
	model.FieldColor,
	model.FieldModelCode,
	model.FieldResult,
	model.FieldStartingBid,
	model.FieldFinalBid,
	model.FieldScore,
}
