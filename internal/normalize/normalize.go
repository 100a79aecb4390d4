// Package normalize converts raw source fields into canonical form:
// price strings to decimals, currencies to the base currency, free text
// to category slugs, and URLs stripped of tracking parameters.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice turns a scraped price string into a decimal. It strips
// currency symbols and thousands separators and accepts both "1.234,56"
// and "1,234.56" layouts. Negative results are rejected.
func ParsePrice(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Decimal{}, errors.New("empty price string")
	}

	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" {
		return decimal.Decimal{}, fmt.Errorf("no digits in price %q", raw)
	}

	normalized := normalizeSeparators(cleaned)
	price, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative price %q", raw)
	}
	return price, nil
}

// normalizeSeparators rewrites cleaned digit runs into dot-decimal form.
// When both separators appear the last one is the decimal point. A lone
// separator followed by exactly three digits is read as a thousands
// separator; anything else is the decimal point.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || len(s)-lastComma-1 == 3 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

var ratesToEUR = map[string]decimal.Decimal{
	"EUR": decimal.NewFromInt(1),
	"USD": decimal.RequireFromString("0.92"),
	"GBP": decimal.RequireFromString("1.17"),
	"CHF": decimal.RequireFromString("1.06"),
	"PLN": decimal.RequireFromString("0.23"),
	"SEK": decimal.RequireFromString("0.088"),
	"CZK": decimal.RequireFromString("0.041"),
}

// Convert translates amount between currencies using the static rate
// table. Codes are case-insensitive ISO 4217.
func Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	fromRate, ok := ratesToEUR[strings.ToUpper(strings.TrimSpace(from))]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unknown currency %q", from)
	}
	toRate, ok := ratesToEUR[strings.ToUpper(strings.TrimSpace(to))]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unknown currency %q", to)
	}
	return amount.Mul(fromRate).Div(toRate), nil
}

// CategorySet pairs a category slug with the keywords that identify it.
// Declaration order matters: earlier sets win ties.
type CategorySet struct {
	Slug     string
	Keywords []string
}

// ClassifyCategory matches free text against ordered keyword sets and
// returns the best slug with a confidence of matched/total keywords.
// Ties go to the earliest declared set; no match returns ("", 0).
func ClassifyCategory(text string, sets []CategorySet) (string, float64) {
	lowered := strings.ToLower(text)

	bestSlug := ""
	bestHits := 0
	bestConfidence := 0.0
	for _, set := range sets {
		if len(set.Keywords) == 0 {
			continue
		}
		hits := 0
		for _, kw := range set.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lowered, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			bestSlug = set.Slug
			bestConfidence = float64(hits) / float64(len(set.Keywords))
		}
	}
	return bestSlug, bestConfidence
}

var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"msclkid": true,
	"ref":     true,
	"tag":     true,
}

// CleanURL strips known tracking query parameters (utm_*, click IDs,
// affiliate tags). Unparseable input is returned unchanged.
func CleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	changed := false
	for key := range q {
		if trackingParams[key] || strings.HasPrefix(key, "utm_") {
			q.Del(key)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}
