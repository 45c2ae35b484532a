package postgres

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vehicle-scraper/internal/scraper"
)

var ts = time.Unix(1700000000, 0).UTC()

var listingRowColumns = []string{
	"id", "job_id", "status", "source", "make", "model", "year", "price", "price_display", "location", "url",
	"variant", "transmission", "fuel_type", "body_type", "features", "description",
	"matched_vehicle_id", "confidence", "created_at", "reviewed_at", "reviewed_by", "imported_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil)
	require.Error(t, err)
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	job := scraper.Job{
		ID:          "job-1",
		Status:      scraper.JobStatusRunning,
		Source:      scraper.SourceAll,
		TargetCount: 50,
		ExecutedBy:  "ops",
		StartedAt:   ts,
	}
	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs("job-1", "running", "all", 50, "ops", ts, []byte(`[]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobMapsRowsAndMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cols := []string{
		"id", "status", "source", "target_count", "executed_by", "started_at", "completed_at",
		"vehicles_found", "vehicles_new", "duplicates", "vehicles_updated", "duration_seconds", "errors",
	}
	mock.ExpectQuery("FROM scrape_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"job-1", "running", "olx", 10, "ops", ts, nil, 0, 0, 0, 0, 0, []byte(`["Toyota Avanza (u): boom"]`),
		))
	mock.ExpectQuery("FROM scrape_jobs WHERE id").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(cols))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusRunning, job.Status)
	require.Equal(t, scraper.SourceOLX, job.Source)
	require.Equal(t, []string{"Toyota Avanza (u): boom"}, job.Errors)

	_, err = store.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobOnlyTouchesRunningJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	completion := scraper.JobCompletion{
		Status:          scraper.JobStatusFailed,
		CompletedAt:     ts,
		DurationSeconds: 3,
		Errors:          []string{"olx: timeout"},
	}
	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-1", "failed", ts, 3, 0, 0, 0, []byte(`["olx: timeout"]`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.CompleteJob(context.Background(), "job-1", completion))

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs("job-2", "failed", ts, 3, 0, 0, 0, []byte(`["olx: timeout"]`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("FROM scrape_jobs WHERE id").
		WithArgs("job-2").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "source", "target_count", "executed_by", "started_at", "completed_at",
			"vehicles_found", "vehicles_new", "duplicates", "vehicles_updated", "duration_seconds", "errors",
		}).AddRow("job-2", "completed", "olx", 10, "ops", ts, ts, 1, 1, 0, 0, 2, []byte(`[]`)))
	err := store.CompleteJob(context.Background(), "job-2", completion)
	require.Error(t, err)
	require.NotErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewListingMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scraped_listings SET status").
		WithArgs("l-1", "approved", "rev-1", ts).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scraped_listings SET status").
		WithArgs("l-2", "rejected", "rev-1", ts).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.ReviewListing(context.Background(), "l-1", scraper.ListingApproved, "rev-1", ts))
	err := store.ReviewListing(context.Background(), "l-2", scraper.ListingRejected, "rev-1", ts)
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListListingsRequiresJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.ListListings(context.Background(), "missing", scraper.ListingFilter{})
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListListingsMatchesMakeLiterally(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("strpos(lower(make), lower($3::text)) > 0")).
		WithArgs("job-1", "", "%").
		WillReturnRows(pgxmock.NewRows(listingRowColumns))

	listings, err := store.ListListings(context.Background(), "job-1", scraper.ListingFilter{Make: "%"})
	require.NoError(t, err)
	require.Empty(t, listings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunningJobsSelectsRunningRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'running' ORDER BY started_at, id")).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "source", "target_count", "executed_by", "started_at", "completed_at",
			"vehicles_found", "vehicles_new", "duplicates", "vehicles_updated", "duration_seconds", "errors",
		}).AddRow("job-1", "running", "olx", 10, "ops", ts, nil, 0, 0, 0, 0, 0, []byte(`[]`)))

	jobs, err := store.RunningJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-1", jobs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO scraper_config").
		WithArgs("duplicate_threshold", "85").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT value FROM scraper_config").
		WithArgs("duplicate_threshold").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("85"))
	mock.ExpectQuery("SELECT value FROM scraper_config").
		WithArgs("unknown").
		WillReturnRows(pgxmock.NewRows([]string{"value"}))

	ctx := context.Background()
	require.ErrorIs(t, store.SetConfig(ctx, "duplicate_threshold", "101"), scraper.ErrInvalidConfig)
	require.NoError(t, store.SetConfig(ctx, "duplicate_threshold", "85"))
	value, err := store.GetConfig(ctx, "duplicate_threshold")
	require.NoError(t, err)
	require.Equal(t, "85", value)
	_, err = store.GetConfig(ctx, "unknown")
	require.ErrorIs(t, err, scraper.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func vehicleRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "make", "model", "category", "body_type", "variants", "production_years", "used_car_prices",
		"created_at", "updated_at",
	}).AddRow(
		"v1", "Toyota", "Avanza", "MPV", "MPV",
		[]byte(`["G"]`), []byte(`[2019,2020]`), []byte(`{"2020":{"min":140000000,"max":160000000}}`),
		ts, ts,
	)
}

func TestMutateVehicleLocksAndUpdates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("v1").WillReturnRows(vehicleRows())
	mock.ExpectExec("UPDATE canonical_vehicles").
		WithArgs("v1", "MPV", "MPV", []byte(`["G"]`), []byte(`[2019,2020,2021]`), pgxmock.AnyArg(), ts.Add(time.Hour)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.MutateVehicle(context.Background(), "v1", func(v *scraper.CanonicalVehicle) (bool, error) {
		require.Equal(t, int64(150000000), v.UsedCarPrices[2020].Midpoint())
		v.ProductionYears = append(v.ProductionYears, 2021)
		v.UpdatedAt = ts.Add(time.Hour)
		return true, nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutateVehicleRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("v1").WillReturnRows(vehicleRows())
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.MutateVehicle(context.Background(), "v1", func(*scraper.CanonicalVehicle) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountVehicles(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM canonical_vehicles")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.CountVehicles(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pgx5://u:p@db:5432/cars", migrationURL("postgres://u:p@db:5432/cars"))
	require.Equal(t, "pgx5://db/cars", migrationURL("postgresql://db/cars"))
	require.Equal(t, "pgx5://db/cars", migrationURL("pgx5://db/cars"))
}

func TestInitMigrationReferencesCatalog(t *testing.T) {
	t.Parallel()

	up, err := migrationFiles.ReadFile("migrations/000001_init.up.sql")
	require.NoError(t, err)
	schema := string(up)
	catalog := strings.Index(schema, "CREATE TABLE IF NOT EXISTS canonical_vehicles")
	listings := strings.Index(schema, "CREATE TABLE IF NOT EXISTS scraped_listings")
	require.Positive(t, catalog)
	require.Greater(t, listings, catalog)
	require.Contains(t, schema, "matched_vehicle_id TEXT        REFERENCES canonical_vehicles (id)")
	require.Contains(t, schema, "ON canonical_vehicles (lower(trim(make)), seq)")

	down, err := migrationFiles.ReadFile("migrations/000001_init.down.sql")
	require.NoError(t, err)
	drops := string(down)
	require.Less(t, strings.Index(drops, "scraped_listings"), strings.Index(drops, "canonical_vehicles"))
}
