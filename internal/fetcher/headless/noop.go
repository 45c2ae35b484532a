package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// ErrDisabled is returned when rendering is requested but headless Chrome is off.
var ErrDisabled = errors.New("headless fetcher not configured")

// Noop stands in for the headless fetcher when it is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, _ string) (scraper.Page, error) {
	return scraper.Page{}, ErrDisabled
}
