// Package dedupe scores scraped listings against the canonical catalog.
package dedupe

import (
	"math"
	"strings"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
	"github.com/JakeFAU/vehicle-scraper/internal/similarity"
)

// Factor weights. No single factor reaches the default threshold alone.
const (
	makeWeight  = 40.0
	modelWeight = 30.0
	yearWeight  = 20.0
	priceWeight = 10.0

	// priceTolerance is the allowed distance from a band midpoint, as a fraction of it.
	priceTolerance = 0.10
)

// Verdict is the outcome of scoring one listing.
type Verdict struct {
	IsDuplicate      bool    `json:"is_duplicate"`
	Confidence       int     `json:"confidence"`
	MatchedVehicleID string  `json:"matched_vehicle_id,omitempty"`
	Score            float64 `json:"score"`
}

// Detector decides whether a listing is already in the catalog.
type Detector struct {
	strategy string
}

// New builds a Detector for the given strategy (scraper.MatchFirst or scraper.MatchBest).
// Unknown strategies fall back to first-match.
func New(strategy string) *Detector {
	if strategy != scraper.MatchBest {
		strategy = scraper.MatchFirst
	}
	return &Detector{strategy: strategy}
}

// Strategy returns the effective match strategy.
func (d *Detector) Strategy() string {
	return d.strategy
}

// Detect scores listing against candidates in catalog order. With first-match
// the first candidate at or above threshold wins even if a later one scores
// higher; best-match keeps scanning and takes the highest score.
func (d *Detector) Detect(listing scraper.RawListing, candidates []scraper.CanonicalVehicle, threshold int) Verdict {
	var best Verdict
	for _, candidate := range candidates {
		if !sameMake(listing.Make, candidate.Make) {
			continue
		}
		score := Score(listing, candidate)
		if score < float64(threshold) {
			continue
		}
		verdict := Verdict{
			IsDuplicate:      true,
			Confidence:       confidence(score),
			MatchedVehicleID: candidate.ID,
			Score:            score,
		}
		if d.strategy == scraper.MatchFirst {
			return verdict
		}
		if !best.IsDuplicate || score > best.Score {
			best = verdict
		}
	}
	return best
}

// Score sums the independent factors for one candidate.
func Score(listing scraper.RawListing, candidate scraper.CanonicalVehicle) float64 {
	score := 0.0
	if sameMake(listing.Make, candidate.Make) {
		score += makeWeight
	}
	score += modelWeight * similarity.Ratio(
		strings.ToLower(strings.TrimSpace(listing.Model)),
		strings.ToLower(strings.TrimSpace(candidate.Model)),
	)
	if listing.Year > 0 && candidate.HasYear(listing.Year) {
		score += yearWeight
	}
	if band, ok := candidate.PriceFor(listing.Year); ok && withinTolerance(listing.Price, band.Midpoint()) {
		score += priceWeight
	}
	return score
}

func sameMake(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func withinTolerance(price, midpoint int64) bool {
	diff := math.Abs(float64(price - midpoint))
	return diff <= priceTolerance*math.Abs(float64(midpoint))
}

func confidence(score float64) int {
	c := int(math.Round(score))
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}
