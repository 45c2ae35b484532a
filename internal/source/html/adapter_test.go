package html

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (scraper.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return scraper.Page{}, err
	}
	body, ok := f.pages[url]
	if !ok {
		return scraper.Page{URL: url, StatusCode: 200, Body: []byte("<html><body></body></html>")}, nil
	}
	return scraper.Page{URL: url, StatusCode: 200, Body: []byte(body)}, nil
}

func card(title, price, href string) string {
	return fmt.Sprintf(`<article class="ad"><h2><a href="%s">%s</a></h2><span class="price">%s</span><span class="loc">Jakarta Selatan</span></article>`, href, title, price)
}

func testConfig() Config {
	return Config{
		Source:   scraper.SourceMobil123,
		ListURL:  "https://cars.example/list?page=%d",
		MaxPages: 3,
		Selectors: Selectors{
			Card:         "article.ad",
			Title:        "h2 a",
			Price:        ".price",
			Location:     ".loc",
			Link:         "h2 a",
			Transmission: ".spec-transmission",
			FuelType:     ".spec-fuel",
			Features:     "ul.features li",
			Description:  ".desc",
		},
	}
}

func newAdapter(t *testing.T, cfg Config, fetcher, renderer scraper.Fetcher) *Adapter {
	t.Helper()
	a, err := New(cfg, fetcher, renderer, ratelimit.New(ratelimit.Config{}), zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestAdapterScrapesPagesUntilLimit(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://cars.example/list?page=1": "<html><body>" +
			card("Toyota Avanza G 1.3 2020", "Rp 150.000.000", "/ad/1") +
			card("Honda Jazz RS 2019", "Rp 210 Juta", "/ad/2") +
			card("Toyota Avanza G 1.3 2020", "Rp 150.000.000", "/ad/1") +
			"</body></html>",
		"https://cars.example/list?page=2": "<html><body>" +
			card("Suzuki Ertiga GX 2018", "Rp 160jt", "https://other.example/ad/3") +
			card("Daihatsu Xenia 2017", "Rp 120.000.000", "/ad/4") +
			"</body></html>",
	}}
	a := newAdapter(t, testConfig(), fetcher, nil)
	require.Equal(t, scraper.SourceMobil123, a.Source())

	listings, err := a.Scrape(context.Background(), 3, false)
	require.NoError(t, err)
	require.Len(t, listings, 3)

	first := listings[0]
	require.Equal(t, scraper.SourceMobil123, first.Source)
	require.Equal(t, "Toyota", first.Make)
	require.Equal(t, "Avanza G", first.Model)
	require.Equal(t, "1.3", first.Variant)
	require.Equal(t, 2020, first.Year)
	require.Equal(t, int64(150_000_000), first.Price)
	require.Equal(t, "Rp 150.000.000", first.PriceDisplay)
	require.Equal(t, "Jakarta Selatan", first.Location)
	require.Equal(t, "https://cars.example/ad/1", first.URL)

	require.Equal(t, "Honda", listings[1].Make)
	require.Equal(t, int64(210_000_000), listings[1].Price)
	require.Equal(t, "https://other.example/ad/3", listings[2].URL)
	require.Equal(t, []string{"https://cars.example/list?page=1", "https://cars.example/list?page=2"}, fetcher.calls)
}

func TestAdapterStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://cars.example/list?page=1": card("Honda Brio Satya 2021", "Rp 140.000.000", "/ad/9"),
	}}
	a := newAdapter(t, testConfig(), fetcher, nil)

	listings, err := a.Scrape(context.Background(), 50, false)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Len(t, fetcher.calls, 2)
}

func TestAdapterFetchDetails(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[string]string{
			"https://cars.example/list?page=1": card("Toyota Rush 2022", "Rp 250.000.000", "/ad/1") +
				card("Toyota Raize 2023", "Rp 240.000.000", "/ad/2"),
			"https://cars.example/ad/1": `<div class="spec-transmission"> Automatic </div><div class="spec-fuel">Bensin</div>
				<ul class="features"><li>ABS</li><li> Airbag </li></ul><p class="desc">Tangan pertama</p>`,
		},
		errs: map[string]error{"https://cars.example/ad/2": errors.New("503")},
	}
	a := newAdapter(t, testConfig(), fetcher, nil)

	listings, err := a.Scrape(context.Background(), 2, true)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, "Automatic", listings[0].Transmission)
	require.Equal(t, "Bensin", listings[0].FuelType)
	require.Equal(t, []string{"ABS", "Airbag"}, listings[0].Features)
	require.Equal(t, "Tangan pertama", listings[0].Description)
	require.Empty(t, listings[1].Transmission, "failed detail pages leave the card data intact")
}

func TestAdapterListPageFailureIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{errs: map[string]error{"https://cars.example/list?page=1": errors.New("connection refused")}}
	a := newAdapter(t, testConfig(), fetcher, nil)

	_, err := a.Scrape(context.Background(), 5, false)
	require.ErrorContains(t, err, "connection refused")
}

func TestAdapterRendersWhenStaticMarkupIsEmpty(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Render = true
	cfg.MaxPages = 1
	static := &fakeFetcher{pages: map[string]string{"https://cars.example/list?page=1": `<div id="app"></div>`}}
	rendered := &fakeFetcher{pages: map[string]string{
		"https://cars.example/list?page=1": card("Wuling Almaz 2021", "Rp 230 jt", "/ad/7"),
	}}
	a := newAdapter(t, cfg, static, rendered)

	listings, err := a.Scrape(context.Background(), 5, false)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, "Wuling", listings[0].Make)
	require.Len(t, rendered.calls, 1)
}

func TestAdapterSkipsRenderForPlainEmptyPage(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Render = true
	static := &fakeFetcher{}
	rendered := &fakeFetcher{}
	a := newAdapter(t, cfg, static, rendered)

	listings, err := a.Scrape(context.Background(), 5, false)
	require.NoError(t, err)
	require.Empty(t, listings)
	require.Len(t, static.calls, 1)
	require.Empty(t, rendered.calls)
}

func TestAdapterDedupesCanonicalLinks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ListURL = "https://cars.example/list"
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://cars.example/list": "<html><body>" +
			card("Toyota Rush S 2021", "Rp 250 jt", "/ad/9?b=2&a=1") +
			card("Toyota Rush S 2021", "Rp 250 jt", "HTTPS://Cars.Example:443/ad/9?a=1&utm_source=feed&b=2#photos") +
			"</body></html>",
	}}
	a := newAdapter(t, cfg, fetcher, nil)

	listings, err := a.Scrape(context.Background(), 5, false)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, "https://cars.example/ad/9?a=1&b=2", listings[0].URL)
}

func TestAdapterZeroLimit(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	a := newAdapter(t, testConfig(), fetcher, nil)
	listings, err := a.Scrape(context.Background(), 0, false)
	require.NoError(t, err)
	require.Empty(t, listings)
	require.Empty(t, fetcher.calls)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, &fakeFetcher{}, nil, nil, nil)
	require.Error(t, err)

	cfg := testConfig()
	cfg.Selectors.Card = ""
	_, err = New(cfg, &fakeFetcher{}, nil, nil, nil)
	require.Error(t, err)

	_, err = New(testConfig(), nil, nil, nil, nil)
	require.Error(t, err)
}

func TestPresetsAreValid(t *testing.T) {
	t.Parallel()

	for src, cfg := range Presets() {
		require.Equal(t, src, cfg.Source)
		require.True(t, strings.Contains(cfg.ListURL, "%d"), src)
		_, err := New(cfg, &fakeFetcher{}, nil, nil, nil)
		require.NoError(t, err, src)
	}
}
