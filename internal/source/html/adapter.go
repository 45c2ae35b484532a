// Package html implements a selector-driven marketplace adapter.
package html

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/headless/detector"
	"github.com/JakeFAU/vehicle-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// Selectors are CSS selectors for list cards and detail pages.
type Selectors struct {
	Card     string `mapstructure:"card"`
	Title    string `mapstructure:"title"`
	Price    string `mapstructure:"price"`
	Location string `mapstructure:"location"`
	Year     string `mapstructure:"year"`
	Link     string `mapstructure:"link"`

	Variant      string `mapstructure:"variant"`
	Transmission string `mapstructure:"transmission"`
	FuelType     string `mapstructure:"fuel_type"`
	BodyType     string `mapstructure:"body_type"`
	Features     string `mapstructure:"features"`
	Description  string `mapstructure:"description"`
}

// Config describes one marketplace.
type Config struct {
	Source scraper.Source `mapstructure:"source"`
	// ListURL is the search results URL; a %d verb receives the 1-based page number.
	ListURL  string `mapstructure:"list_url"`
	MaxPages int    `mapstructure:"max_pages"`
	// Render retries a page with the headless fetcher when no cards were found.
	Render    bool      `mapstructure:"render"`
	Selectors Selectors `mapstructure:"selectors"`
}

// Adapter scrapes one marketplace using CSS selectors.
type Adapter struct {
	cfg      Config
	fetcher  scraper.Fetcher
	renderer scraper.Fetcher
	limiter  *ratelimit.Limiter
	shells   *detector.Heuristic
	logger   *zap.Logger
}

// New builds an adapter. renderer may be nil when headless rendering is disabled.
func New(cfg Config, fetcher, renderer scraper.Fetcher, limiter *ratelimit.Limiter, logger *zap.Logger) (*Adapter, error) {
	if cfg.Source == "" {
		return nil, errors.New("source is required")
	}
	if cfg.ListURL == "" {
		return nil, fmt.Errorf("%s: list_url is required", cfg.Source)
	}
	if cfg.Selectors.Card == "" || cfg.Selectors.Title == "" {
		return nil, fmt.Errorf("%s: card and title selectors are required", cfg.Source)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%s: fetcher is required", cfg.Source)
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:      cfg,
		fetcher:  fetcher,
		renderer: renderer,
		limiter:  limiter,
		shells:   detector.NewHeuristic(0),
		logger:   logger.With(zap.String("source", string(cfg.Source))),
	}, nil
}

// Source implements scraper.Adapter.
func (a *Adapter) Source() scraper.Source {
	return a.cfg.Source
}

// Scrape walks result pages until limit listings were collected, the page
// budget is spent, or a page yields no cards.
func (a *Adapter) Scrape(ctx context.Context, limit int, fetchDetails bool) ([]scraper.RawListing, error) {
	if limit <= 0 {
		return []scraper.RawListing{}, nil
	}
	out := make([]scraper.RawListing, 0, limit)
	seen := make(map[string]struct{})
	for page := 1; page <= a.cfg.MaxPages && len(out) < limit; page++ {
		pageURL := a.pageURL(page)
		doc, err := a.load(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		cards := doc.Find(a.cfg.Selectors.Card)
		if cards.Length() == 0 {
			break
		}
		cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
			listing, ok := a.parseCard(card, pageURL)
			if !ok {
				return true
			}
			if _, dup := seen[listing.URL]; dup && listing.URL != "" {
				return true
			}
			seen[listing.URL] = struct{}{}
			out = append(out, listing)
			return len(out) < limit
		})
		if !strings.Contains(a.cfg.ListURL, "%d") {
			break
		}
	}
	if fetchDetails {
		for i := range out {
			if err := a.enrich(ctx, &out[i]); err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("%s details: %w", a.cfg.Source, ctx.Err())
				}
				a.logger.Warn("detail page failed", zap.String("url", out[i].URL), zap.Error(err))
			}
		}
	}
	a.logger.Debug("scrape finished", zap.Int("listings", len(out)), zap.Int("limit", limit))
	return out, nil
}

func (a *Adapter) pageURL(page int) string {
	if strings.Contains(a.cfg.ListURL, "%d") {
		return fmt.Sprintf(a.cfg.ListURL, page)
	}
	return a.cfg.ListURL
}

// load fetches and parses a page. When the static markup has no cards and
// looks like a client-rendered shell, the page is fetched again through the
// headless renderer. A genuinely empty result page is returned as is.
func (a *Adapter) load(ctx context.Context, pageURL string) (*goquery.Document, error) {
	doc, page, err := a.fetchDocument(ctx, a.fetcher, pageURL)
	if err != nil {
		return nil, err
	}
	if doc.Find(a.cfg.Selectors.Card).Length() > 0 || !a.cfg.Render || a.renderer == nil {
		return doc, nil
	}
	if !a.shells.NeedsRender(page.StatusCode, page.Body) {
		return doc, nil
	}
	a.logger.Debug("client-rendered page, fetching headless", zap.String("url", pageURL))
	doc, _, err = a.fetchDocument(ctx, a.renderer, pageURL)
	return doc, err
}

func (a *Adapter) fetchDocument(
	ctx context.Context,
	fetcher scraper.Fetcher,
	pageURL string,
) (*goquery.Document, scraper.Page, error) {
	if err := a.limiter.Wait(ctx, pageURL); err != nil {
		return nil, scraper.Page{}, err
	}
	page, err := fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, scraper.Page{}, fmt.Errorf("%s: %w", a.cfg.Source, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, scraper.Page{}, fmt.Errorf("%s: parse %s: %w", a.cfg.Source, pageURL, err)
	}
	if u, err := url.Parse(page.URL); err == nil && page.URL != "" {
		doc.Url = u
	}
	return doc, page, nil
}

func (a *Adapter) parseCard(card *goquery.Selection, pageURL string) (scraper.RawListing, bool) {
	sel := a.cfg.Selectors
	title := text(card, sel.Title)
	vehicleMake, model, variant := SplitTitle(title)
	if vehicleMake == "" || model == "" {
		return scraper.RawListing{}, false
	}
	listing := scraper.RawListing{
		Source:   a.cfg.Source,
		Make:     vehicleMake,
		Model:    model,
		Variant:  variant,
		Location: text(card, sel.Location),
		URL:      resolveLink(card, sel.Link, pageURL),
	}
	listing.Year = ParseYear(title)
	if listing.Year == 0 && sel.Year != "" {
		listing.Year = ParseYear(text(card, sel.Year))
	}
	listing.PriceDisplay = text(card, sel.Price)
	if price, err := ParsePrice(listing.PriceDisplay); err == nil {
		listing.Price = price
	}
	return listing, true
}

func (a *Adapter) enrich(ctx context.Context, listing *scraper.RawListing) error {
	if listing.URL == "" {
		return nil
	}
	doc, _, err := a.fetchDocument(ctx, a.fetcher, listing.URL)
	if err != nil {
		return err
	}
	sel := a.cfg.Selectors
	root := doc.Selection
	if v := text(root, sel.Variant); v != "" {
		listing.Variant = v
	}
	listing.Transmission = text(root, sel.Transmission)
	listing.FuelType = text(root, sel.FuelType)
	listing.BodyType = text(root, sel.BodyType)
	listing.Description = text(root, sel.Description)
	if sel.Features != "" {
		root.Find(sel.Features).Each(func(_ int, s *goquery.Selection) {
			if f := normalizeSpace(s.Text()); f != "" {
				listing.Features = append(listing.Features, f)
			}
		})
	}
	return nil
}

func text(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return normalizeSpace(s.Find(selector).First().Text())
}

func resolveLink(card *goquery.Selection, selector, pageURL string) string {
	link := card
	if selector != "" {
		link = card.Find(selector).First()
	}
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return canonicalLink(base.ResolveReference(ref))
}

// canonicalLink drops fragments, default ports, and tracking parameters and
// sorts the query so the same ad reached via different links dedupes.
func canonicalLink(u *url.URL) string {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && u.Port() == "80") || (u.Scheme == "https" && u.Port() == "443") {
		u.Host = u.Hostname()
	}
	u.Fragment = ""
	q := u.Query()
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
