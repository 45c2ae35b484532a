package html

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	yearPattern = regexp.MustCompile(`\b(19[5-9]\d|20\d{2})\b`)
	// "150 juta", "1,2 M", "1.25 miliar"
	scaledPrice = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(juta|jt|miliar|milyar|m)\b`)
	digitRun    = regexp.MustCompile(`\d[\d.,]*`)
)

// ParsePrice converts an Indonesian price label into whole rupiah.
// It understands "Rp 150.000.000", "Rp150jt" and "Rp 1,2 M".
func ParsePrice(label string) (int64, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, errors.New("empty price")
	}
	if m := scaledPrice.FindStringSubmatch(label); m != nil {
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			return 0, err
		}
		multiplier := 1_000_000.0
		if unit := strings.ToLower(m[2]); unit == "miliar" || unit == "milyar" || unit == "m" {
			multiplier = 1_000_000_000
		}
		return int64(value*multiplier + 0.5), nil
	}
	run := digitRun.FindString(label)
	if run == "" {
		return 0, errors.New("no digits in price")
	}
	// Thousands separators only; rupiah listings never carry cents.
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, run)
	return strconv.ParseInt(digits, 10, 64)
}

// ParseYear returns the first plausible model year in text, or 0.
func ParseYear(text string) int {
	m := yearPattern.FindString(text)
	if m == "" {
		return 0
	}
	year, _ := strconv.Atoi(m)
	return year
}

// SplitTitle breaks an advert title such as "Toyota Avanza Veloz 1.5 AT 2021"
// into make, model and variant. The make is the first word, the model runs
// until the first token that carries a digit, the rest is the variant.
func SplitTitle(title string) (vehicleMake, model, variant string) {
	fields := strings.Fields(yearPattern.ReplaceAllString(title, " "))
	if len(fields) == 0 {
		return "", "", ""
	}
	vehicleMake = fields[0]
	rest := fields[1:]
	i := 0
	for i < len(rest) && !strings.ContainsFunc(rest[i], unicode.IsDigit) {
		i++
	}
	model = strings.Join(rest[:i], " ")
	variant = strings.Join(rest[i:], " ")
	return vehicleMake, model, variant
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
