package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

type stubAdapter struct{ src scraper.Source }

func (s stubAdapter) Source() scraper.Source { return s.src }

func (s stubAdapter) Scrape(context.Context, int, bool) ([]scraper.RawListing, error) {
	return nil, nil
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Resolve(scraper.SourceAll)
	require.ErrorIs(t, err, scraper.ErrUnknownSource)

	for _, src := range []scraper.Source{scraper.SourceMobil123, scraper.SourceOLX, scraper.SourceCarmudi} {
		require.NoError(t, r.Register(stubAdapter{src: src}))
	}
	require.Error(t, r.Register(stubAdapter{src: scraper.SourceOLX}))
	require.Error(t, r.Register(stubAdapter{src: scraper.SourceAll}))

	all, err := r.Resolve(scraper.SourceAll)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, scraper.SourceMobil123, all[0].Source())
	require.Equal(t, scraper.SourceCarmudi, all[2].Source())

	one, err := r.Resolve(scraper.SourceOLX)
	require.NoError(t, err)
	require.Len(t, one, 1)

	_, err = r.Resolve("autotrader")
	require.ErrorIs(t, err, scraper.ErrUnknownSource)
	require.Equal(t, []scraper.Source{"mobil123", "olx", "carmudi"}, r.Sources())
}
