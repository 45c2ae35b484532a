package html

import "github.com/JakeFAU/vehicle-scraper/internal/scraper"

// Presets are starting selectors for the supported marketplaces. Deployments
// override them under sources.<name> when a site changes its markup.
func Presets() map[scraper.Source]Config {
	return map[scraper.Source]Config{
		scraper.SourceOLX: {
			Source:   scraper.SourceOLX,
			ListURL:  "https://www.olx.co.id/mobil-bekas_c198?page=%d",
			MaxPages: 10,
			Render:   true,
			Selectors: Selectors{
				Card:        `li[data-aut-id="itemBox"]`,
				Title:       `[data-aut-id="itemTitle"]`,
				Price:       `[data-aut-id="itemPrice"]`,
				Location:    `[data-aut-id="item-location"]`,
				Year:        `[data-aut-id="itemSubTitle"]`,
				Link:        `a`,
				Description: `[data-aut-id="itemDescriptionContent"]`,
				Features:    `[data-aut-id="itemParams"] span`,
			},
		},
		scraper.SourceMobil123: {
			Source:   scraper.SourceMobil123,
			ListURL:  "https://www.mobil123.com/mobil-dijual/indonesia?page_number=%d",
			MaxPages: 10,
			Selectors: Selectors{
				Card:         `article.listing`,
				Title:        `.listing__title a`,
				Price:        `.listing__price`,
				Location:     `.listing__location`,
				Year:         `.listing__title`,
				Link:         `.listing__title a`,
				Transmission: `[data-type="transmission"]`,
				Description:  `.listing__description`,
				Features:     `.listing__specs li`,
			},
		},
		scraper.SourceCarmudi: {
			Source:   scraper.SourceCarmudi,
			ListURL:  "https://www.carmudi.co.id/mobil-dijual/indonesia?page_number=%d",
			MaxPages: 10,
			Selectors: Selectors{
				Card:         `article.listing`,
				Title:        `.listing__title a`,
				Price:        `.listing__price`,
				Location:     `.listing__location`,
				Year:         `.listing__title`,
				Link:         `.listing__title a`,
				Transmission: `[data-type="transmission"]`,
				FuelType:     `[data-type="fuel"]`,
				BodyType:     `[data-type="body"]`,
				Description:  `.listing__description`,
				Features:     `.listing__specs li`,
			},
		},
	}
}
