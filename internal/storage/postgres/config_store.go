package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// GetConfig reads one ScraperConfig value.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM scraper_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("config %s: %w", key, scraper.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get config: %w", err)
	}
	return value, nil
}

// SetConfig validates and upserts one ScraperConfig value.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	if err := scraper.ValidateConfigValue(key, value); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO scraper_config (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, key, value)
	if err != nil {
		return fmt.Errorf("set config: %w", err)
	}
	return nil
}
