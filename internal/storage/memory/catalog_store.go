package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

// ListByMake returns catalog entries for a make in insertion order.
func (s *Store) ListByMake(_ context.Context, vehicleMake string) ([]scraper.CanonicalVehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []scraper.CanonicalVehicle{}
	for _, id := range s.vehicleOrder {
		v := s.vehicles[id]
		if foldEqual(v.Make, vehicleMake) {
			out = append(out, copyVehicle(v))
		}
	}
	return out, nil
}

// GetVehicle fetches one catalog entry.
func (s *Store) GetVehicle(_ context.Context, vehicleID string) (scraper.CanonicalVehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return scraper.CanonicalVehicle{}, fmt.Errorf("vehicle %s: %w", vehicleID, scraper.ErrNotFound)
	}
	return copyVehicle(v), nil
}

// CreateVehicle appends a catalog entry.
func (s *Store) CreateVehicle(_ context.Context, vehicle scraper.CanonicalVehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.vehicles[vehicle.ID]; exists {
		return errors.New("vehicle already exists")
	}
	s.vehicles[vehicle.ID] = copyVehicle(vehicle)
	s.vehicleOrder = append(s.vehicleOrder, vehicle.ID)
	return nil
}

// MutateVehicle applies fn under the store lock.
func (s *Store) MutateVehicle(_ context.Context, vehicleID string, fn scraper.VehicleMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return fmt.Errorf("vehicle %s: %w", vehicleID, scraper.ErrNotFound)
	}
	working := copyVehicle(v)
	changed, err := fn(&working)
	if err != nil {
		return err
	}
	if changed {
		working.ID = vehicleID
		s.vehicles[vehicleID] = working
	}
	return nil
}

// CountVehicles returns the catalog size.
func (s *Store) CountVehicles(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles), nil
}

func copyVehicle(v scraper.CanonicalVehicle) scraper.CanonicalVehicle {
	v.Variants = slices.Clone(v.Variants)
	v.ProductionYears = slices.Clone(v.ProductionYears)
	if v.UsedCarPrices != nil {
		v.UsedCarPrices = maps.Clone(v.UsedCarPrices)
	}
	return v
}
