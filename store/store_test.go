package store

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/use-agent/paywatch/models"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func success(site string, n int) models.ParseResult {
	return models.NewSuccess(site, "https://"+site+".example/", "", []models.PaymentMethod{
		{Name: fmt.Sprintf("Method %d", n), MinAmount: int64(100 * n)},
	}, t0.Add(time.Duration(n)*time.Hour))
}

// checkLatestInvariant saves N results per site and verifies that exactly
// one row per site is latest and that it is the last one saved.
func checkLatestInvariant(t *testing.T, s Store) {
	ctx := context.Background()

	var lastPinco, lastMartin int64
	for i := 1; i <= 5; i++ {
		id, err := s.Save(ctx, success("pinco", i))
		require.NoError(t, err)
		lastPinco = id
		if i%2 == 0 {
			id, err := s.Save(ctx, models.NewFailure("martin", "", models.NewScrapeError(models.ErrCodeTimeout, "navigation", nil), t0))
			require.NoError(t, err)
			lastMartin = id
		}
	}

	latest, err := s.LatestAll(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "martin", latest[0].SiteID)
	require.Equal(t, lastMartin, latest[0].ID)
	require.Equal(t, models.StatusError, latest[0].Status)
	require.Equal(t, "Timeout: navigation", latest[0].ErrorMessage)
	require.Empty(t, latest[0].PaymentMethods)

	require.Equal(t, "pinco", latest[1].SiteID)
	require.Equal(t, lastPinco, latest[1].ID)
	require.Equal(t, []models.PaymentMethod{{Name: "Method 5", MinAmount: 500}}, latest[1].PaymentMethods)
	require.True(t, latest[1].IsLatest)

	rec, err := s.LatestBySite(ctx, "pinco")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, lastPinco, rec.ID)
	require.True(t, rec.ParsedAt.Equal(t0.Add(5*time.Hour)))

	missing, err := s.LatestBySite(ctx, "onx")
	require.NoError(t, err)
	require.Nil(t, missing)

	// Pinco rows 1..4 are stale; rows 1 and 2 are older than the cutoff.
	removed, err := s.Prune(ctx, t0.Add(2*time.Hour+time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 3, removed, "two stale pinco rows and one stale martin row")

	rec, err = s.LatestBySite(ctx, "martin")
	require.NoError(t, err)
	require.Equal(t, lastMartin, rec.ID, "pruning never removes the latest row")
}

func TestMemoryLatestInvariant(t *testing.T) {
	checkLatestInvariant(t, NewMemory())
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	_, err := m.Save(context.Background(), success("pinco", 1))
	require.NoError(t, err)

	rec, _ := m.LatestBySite(context.Background(), "pinco")
	rec.PaymentMethods[0].Name = "mutated"

	again, _ := m.LatestBySite(context.Background(), "pinco")
	require.Equal(t, "Method 1", again.PaymentMethods[0].Name)
}

func TestPostgresLatestInvariant(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a postgres container")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	testcontainers.Logger = log.New(io.Discard, "", 0)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "parser_db",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/parser_db?sslmode=disable", host, port.Port())
	pg, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	require.NoError(t, pg.Migrate(ctx))
	require.NoError(t, pg.Migrate(ctx), "migration is repeatable")

	checkLatestInvariant(t, pg)
}
