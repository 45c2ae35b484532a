package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

const vehicleColumns = `id, make, model, category, body_type, variants, production_years, used_car_prices, created_at, updated_at`

// ListByMake returns entries with a case-insensitively equal make in catalog order.
func (s *Store) ListByMake(ctx context.Context, vehicleMake string) ([]scraper.CanonicalVehicle, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+vehicleColumns+`
FROM canonical_vehicles WHERE lower(trim(make)) = lower(trim($1::text)) ORDER BY seq`, vehicleMake)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()
	out := []scraper.CanonicalVehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	return out, nil
}

// GetVehicle fetches one catalog entry.
func (s *Store) GetVehicle(ctx context.Context, vehicleID string) (scraper.CanonicalVehicle, error) {
	v, err := scanVehicle(s.pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM canonical_vehicles WHERE id = $1`, vehicleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.CanonicalVehicle{}, fmt.Errorf("vehicle %s: %w", vehicleID, scraper.ErrNotFound)
	}
	if err != nil {
		return scraper.CanonicalVehicle{}, fmt.Errorf("get vehicle: %w", err)
	}
	return v, nil
}

// CreateVehicle inserts a catalog entry.
func (s *Store) CreateVehicle(ctx context.Context, v scraper.CanonicalVehicle) error {
	variants, years, prices, err := marshalVehicle(v)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO canonical_vehicles (
	id, make, model, category, body_type, variants, production_years, used_car_prices, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		v.ID, v.Make, v.Model, v.Category, v.BodyType, variants, years, prices, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert vehicle: %w", err)
	}
	return nil
}

// MutateVehicle locks the row for the duration of fn.
func (s *Store) MutateVehicle(ctx context.Context, vehicleID string, fn scraper.VehicleMutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) // nolint:errcheck // best effort after failure
		}
	}()

	v, err := scanVehicle(tx.QueryRow(ctx, `SELECT `+vehicleColumns+`
FROM canonical_vehicles WHERE id = $1 FOR UPDATE`, vehicleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("vehicle %s: %w", vehicleID, scraper.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock vehicle: %w", err)
	}
	changed, err := fn(&v)
	if err != nil {
		return err
	}
	if changed {
		variants, years, prices, err := marshalVehicle(v)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
UPDATE canonical_vehicles
SET category = $2, body_type = $3, variants = $4, production_years = $5, used_car_prices = $6, updated_at = $7
WHERE id = $1`, vehicleID, v.Category, v.BodyType, variants, years, prices, v.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update vehicle: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// CountVehicles returns the catalog size.
func (s *Store) CountVehicles(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM canonical_vehicles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vehicles: %w", err)
	}
	return n, nil
}

func scanVehicle(row pgx.Row) (scraper.CanonicalVehicle, error) {
	var (
		v                         scraper.CanonicalVehicle
		variants, years, pricesJS []byte
	)
	err := row.Scan(&v.ID, &v.Make, &v.Model, &v.Category, &v.BodyType,
		&variants, &years, &pricesJS, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return scraper.CanonicalVehicle{}, err
	}
	if err := unmarshalIfSet(variants, &v.Variants); err != nil {
		return scraper.CanonicalVehicle{}, fmt.Errorf("unmarshal variants: %w", err)
	}
	if err := unmarshalIfSet(years, &v.ProductionYears); err != nil {
		return scraper.CanonicalVehicle{}, fmt.Errorf("unmarshal production years: %w", err)
	}
	if err := unmarshalIfSet(pricesJS, &v.UsedCarPrices); err != nil {
		return scraper.CanonicalVehicle{}, fmt.Errorf("unmarshal used car prices: %w", err)
	}
	return v, nil
}

func marshalVehicle(v scraper.CanonicalVehicle) (variants, years, prices []byte, err error) {
	variants, err = marshalStrings(v.Variants)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal variants: %w", err)
	}
	py := v.ProductionYears
	if py == nil {
		py = []int{}
	}
	if years, err = json.Marshal(py); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal production years: %w", err)
	}
	bands := v.UsedCarPrices
	if bands == nil {
		bands = map[int]scraper.PriceBand{}
	}
	if prices, err = json.Marshal(bands); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal used car prices: %w", err)
	}
	return variants, years, prices, nil
}

func unmarshalIfSet(data []byte, dest any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
