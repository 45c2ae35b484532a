package dedupe

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

func avanza() scraper.CanonicalVehicle {
	return scraper.CanonicalVehicle{
		ID:              "veh-avanza",
		Make:            "Toyota",
		Model:           "Avanza",
		ProductionYears: []int{2019, 2020, 2021},
		UsedCarPrices: map[int]scraper.PriceBand{
			2020: {Min: 140000000, Max: 160000000},
		},
	}
}

func TestDetect_ExactMatchScoresHundred(t *testing.T) {
	t.Parallel()

	listing := scraper.RawListing{Make: "Toyota", Model: "Avanza", Year: 2020, Price: 150000000}
	got := New(scraper.MatchFirst).Detect(listing, []scraper.CanonicalVehicle{avanza()}, 80)

	require.True(t, got.IsDuplicate)
	require.Equal(t, 100, got.Confidence)
	require.Equal(t, "veh-avanza", got.MatchedVehicleID)
}

func TestDetect_PartialModelStillDuplicate(t *testing.T) {
	t.Parallel()

	listing := scraper.RawListing{Make: "toyota", Model: "Avanza Veloz", Year: 2020, Price: 150000000}
	got := New(scraper.MatchFirst).Detect(listing, []scraper.CanonicalVehicle{avanza()}, 80)

	// 40 + 30*(12-6)/12 + 20 + 10
	require.True(t, got.IsDuplicate)
	require.InDelta(t, 85.0, got.Score, 1e-9)
	require.Equal(t, 85, got.Confidence)
}

func TestDetect_MakeFilterSkipsOtherMakes(t *testing.T) {
	t.Parallel()

	candidate := avanza()
	candidate.Make = "Daihatsu"
	listing := scraper.RawListing{Make: "Toyota", Model: "Avanza", Year: 2020, Price: 150000000}
	got := New(scraper.MatchFirst).Detect(listing, []scraper.CanonicalVehicle{candidate}, 80)

	require.False(t, got.IsDuplicate)
	require.Zero(t, got.Confidence)
	require.Empty(t, got.MatchedVehicleID)
}

func TestDetect_BelowThresholdIsNotDuplicate(t *testing.T) {
	t.Parallel()

	// make + exact model = 70, year outside production, no band.
	listing := scraper.RawListing{Make: "Toyota", Model: "Avanza", Year: 2010, Price: 90000000}
	got := New(scraper.MatchFirst).Detect(listing, []scraper.CanonicalVehicle{avanza()}, 80)

	require.False(t, got.IsDuplicate)
	require.Zero(t, got.Confidence)
}

func TestDetect_PriceOutsideToleranceDropsPriceFactor(t *testing.T) {
	t.Parallel()

	listing := scraper.RawListing{Make: "Toyota", Model: "Avanza", Year: 2020, Price: 200000000}
	require.InDelta(t, 90.0, Score(listing, avanza()), 1e-9)

	listing.Price = 165000000 // exactly 10% above the midpoint
	require.InDelta(t, 100.0, Score(listing, avanza()), 1e-9)
}

func TestDetect_YearZeroNeverMatchesYear(t *testing.T) {
	t.Parallel()

	candidate := avanza()
	candidate.ProductionYears = append(candidate.ProductionYears, 0)
	listing := scraper.RawListing{Make: "Toyota", Model: "Avanza"}
	require.InDelta(t, 70.0, Score(listing, candidate), 1e-9)
}

func TestDetect_FirstMatchWinsOverBetterLaterCandidate(t *testing.T) {
	t.Parallel()

	weaker := avanza()
	weaker.ID = "veh-weak"
	weaker.UsedCarPrices = nil // 90 points
	stronger := avanza()
	stronger.ID = "veh-strong" // 100 points
	listing := scraper.RawListing{Make: "Toyota", Model: "Avanza", Year: 2020, Price: 150000000}
	candidates := []scraper.CanonicalVehicle{weaker, stronger}

	first := New(scraper.MatchFirst).Detect(listing, candidates, 80)
	require.Equal(t, "veh-weak", first.MatchedVehicleID)
	require.Equal(t, 90, first.Confidence)

	best := New(scraper.MatchBest).Detect(listing, candidates, 80)
	require.Equal(t, "veh-strong", best.MatchedVehicleID)
	require.Equal(t, 100, best.Confidence)
}

func TestNew_UnknownStrategyFallsBackToFirst(t *testing.T) {
	t.Parallel()

	require.Equal(t, scraper.MatchFirst, New("").Strategy())
	require.Equal(t, scraper.MatchFirst, New("nope").Strategy())
	require.Equal(t, scraper.MatchBest, New(scraper.MatchBest).Strategy())
}

func TestDetectProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	detector := New(scraper.MatchFirst)

	properties.Property("verdict agrees with threshold", prop.ForAll(
		func(model string, year int, price int64, threshold int) bool {
			listing := scraper.RawListing{Make: "Toyota", Model: model, Year: year, Price: price}
			v := detector.Detect(listing, []scraper.CanonicalVehicle{avanza()}, threshold)
			if v.IsDuplicate {
				return v.Confidence >= threshold
			}
			return v.Confidence == 0
		},
		gen.AlphaString(),
		gen.IntRange(2015, 2024),
		gen.Int64Range(100000000, 200000000),
		gen.IntRange(1, 100),
	))

	properties.Property("a matching year never lowers the score", prop.ForAll(
		func(model string, price int64) bool {
			listing := scraper.RawListing{Make: "Toyota", Model: model, Year: 2018, Price: price}
			without := Score(listing, avanza())
			listing.Year = 2021
			with := Score(listing, avanza())
			return with >= without
		},
		gen.AlphaString(),
		gen.Int64Range(0, 300000000),
	))

	properties.Property("an exact make never lowers the score", prop.ForAll(
		func(model string) bool {
			listing := scraper.RawListing{Make: "Honda", Model: model, Year: 2020, Price: 150000000}
			without := Score(listing, avanza())
			listing.Make = "TOYOTA"
			return Score(listing, avanza()) >= without
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
