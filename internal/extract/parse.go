package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	numberRe    = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?`)
	dateRe      = regexp.MustCompile(`(\d{2,4})[./-](\d{1,2})[./-](\d{1,2})`)
	scoreRe     = regexp.MustCompile(`\d(?:\.\d)?`)
	transRe     = regexp.MustCompile(`(?i)(AT|FA|CA|CVT|MT)`)
	engineRe    = regexp.MustCompile(`\d{3,4}`)
	chassisRe   = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{2,17}(?:-[A-HJ-NPR-Z0-9]{4,10})?$`)
	digitsRe    = regexp.MustCompile(`\D`)
	roundRe     = regexp.MustCompile(`^\d+回$`)
	lotVenueRe  = regexp.MustCompile(`^(\d{3,8})?([^\d]+)?(\d+回)?`)
	venueSplit  = regexp.MustCompile(`(.+?)(\d+回)`)
	kmSuffixRe  = regexp.MustCompile(`(?i)km`)
	equipCodes  = []string{"AAC", "ナビ", "SR", "AW", "革", "PS", "PW", "DR"}
	reiwaRe     = regexp.MustCompile(`R?(\d{1,2})`)
	reiwaYMRe   = regexp.MustCompile(`R?(\d{1,2})[年/.-](\d{1,2})`)
	resultSold  = "落札"
	resultUnsld = "流札"
)

// Mileage is a parsed odometer reading. Confidence reflects how sure the
// multiplier inference is: a comma-grouped or 4+ digit value is near
// certain, a bare value under 300 is probably thousands of km, anything
// else is a guess.
type Mileage struct {
	KM         int
	Multiplier int
	Confidence float64
	Raw        string
}

// ParseMileageHeader interprets the header table's mileage cell, which by
// venue convention omits the thousands unit for low readings.
func ParseMileageHeader(text string) (Mileage, bool) {
	if text == "" {
		return Mileage{}, false
	}
	cleaned := Normalize(text)
	digits := digitsRe.ReplaceAllString(cleaned, "")
	if digits == "" {
		return Mileage{Raw: text}, false
	}
	if strings.Contains(cleaned, ",") || len(digits) >= 4 {
		km, err := strconv.Atoi(digits)
		if err != nil {
			return Mileage{Raw: text}, false
		}
		return Mileage{KM: km, Multiplier: 1, Confidence: 0.95, Raw: text}, true
	}
	value, err := strconv.Atoi(digits)
	if err != nil {
		return Mileage{Raw: text}, false
	}
	if value <= 300 {
		return Mileage{KM: value * 1000, Multiplier: 1000, Confidence: 0.7, Raw: text}, true
	}
	return Mileage{KM: value, Multiplier: 1, Confidence: 0.3, Raw: text}, true
}

// ParseMileageSheet interprets a free-form sheet mileage token ("7,496 km").
func ParseMileageSheet(text string) (Mileage, bool) {
	if text == "" {
		return Mileage{}, false
	}
	cleaned := Normalize(text)
	m := numberRe.FindString(cleaned)
	if m == "" {
		return Mileage{Raw: text}, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return Mileage{Raw: text}, false
	}
	multiplier := 1
	if value < 1000 {
		multiplier = 1000
	}
	return Mileage{KM: int(value * float64(multiplier)), Multiplier: multiplier, Confidence: 0.8, Raw: m}, true
}

// Score is a parsed auction grade: numeric (3.5, 4, 5) or letter (R, RA).
type Score struct {
	Grade   string
	Numeric float64
	IsNum   bool
}

// ParseScore reads the grade cell. R and RA (repair history) outrank any
// digit that may also appear in the cell.
func ParseScore(text string) (Score, bool) {
	if text == "" {
		return Score{}, false
	}
	cleaned := strings.ToUpper(Normalize(text))
	if strings.Contains(cleaned, "RA") {
		return Score{Grade: "RA"}, true
	}
	if strings.Contains(cleaned, "R") {
		return Score{Grade: "R"}, true
	}
	m := scoreRe.FindString(cleaned)
	if m == "" {
		return Score{Grade: cleaned}, true
	}
	n, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return Score{Grade: m}, true
	}
	return Score{Grade: m, Numeric: n, IsNum: true}, true
}

// ParseYen reads a price cell. Values under 100,000 are written in 万円
// (ten-thousands) by venue convention and scaled up.
func ParseYen(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	m := numberRe.FindString(Normalize(text))
	if m == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if value < 100000 {
		value *= 10000
	}
	return int(value), true
}

// ParseAuctionDate reads dates like "2024.3.15" or "24/03/15".
func ParseAuctionDate(text string) (time.Time, bool) {
	m := dateRe.FindStringSubmatch(Normalize(text))
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	if year < 100 {
		year += 2000
	}
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// ParseReiwaYear converts a Reiwa model-year cell ("R5") to a Gregorian year.
func ParseReiwaYear(text string) (int, bool) {
	m := reiwaRe.FindStringSubmatch(Normalize(text))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n + 2018, true
}

// ParseReiwaYearMonth converts an inspection-expiry cell ("R7年3") to a month.
func ParseReiwaYearMonth(text string) (time.Time, bool) {
	m := reiwaYMRe.FindStringSubmatch(Normalize(text))
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year+2018, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}

// ParseShiftEngine splits the combined transmission/displacement cell
// ("AT/1500").
func ParseShiftEngine(text string) (transmission string, engineCC int) {
	cleaned := Normalize(text)
	if m := transRe.FindString(cleaned); m != "" {
		transmission = strings.ToUpper(m)
	}
	if m := engineRe.FindString(cleaned); m != "" {
		engineCC, _ = strconv.Atoi(m)
	}
	return transmission, engineCC
}

// ParseEquipment extracts known equipment codes from the make/model cell.
func ParseEquipment(text string) string {
	var found []string
	for _, code := range equipCodes {
		if strings.Contains(text, code) {
			found = append(found, code)
		}
	}
	return strings.Join(found, " ")
}

// ParseResult maps the auction result cell to sold/unsold.
func ParseResult(text string) string {
	switch {
	case strings.Contains(text, resultSold):
		return "sold"
	case strings.Contains(text, resultUnsld):
		return "unsold"
	default:
		return text
	}
}

// ValidChassis reports whether text looks like a chassis/VIN code:
// uppercase alphanumerics without I, O, Q, optionally split model-serial
// by a hyphen, 8 to 17 characters total.
func ValidChassis(text string) bool {
	cleaned := strings.ToUpper(Normalize(text))
	bare := strings.ReplaceAll(cleaned, "-", "")
	if len(bare) < 8 || len(bare) > 17 {
		return false
	}
	return chassisRe.MatchString(cleaned)
}

// SplitVenueRound separates "名古屋 1234回" style venue cells into the
// venue name and round number.
func SplitVenueRound(text string) (venue, round string) {
	cleaned := strings.TrimSpace(text)
	if m := venueSplit.FindStringSubmatch(Normalize(cleaned)); m != nil {
		return strings.TrimSpace(m[1]), m[2]
	}
	return cleaned, ""
}

// SplitLotVenueRound recovers lot, venue, and round from a single mangled
// cell when OCR merged adjacent header cells.
func SplitLotVenueRound(text string) (lot, venue, round string) {
	if text == "" {
		return "", "", ""
	}
	m := lotVenueRe.FindStringSubmatch(Normalize(text))
	if m == nil {
		return "", "", ""
	}
	lot, venue, round = m[1], m[2], m[3]
	if venue != "" {
		venue = strings.TrimSpace(strings.NewReplacer("会場", "", "開催回", "").Replace(venue))
	}
	return lot, venue, round
}

// CleanRound reports whether a round cell is already well formed ("12回").
func CleanRound(text string) bool {
	return roundRe.MatchString(Normalize(text))
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func mentionsKM(s string) bool {
	return kmSuffixRe.MatchString(Normalize(s))
}
