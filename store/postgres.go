package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/use-agent/paywatch/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS parse_results (
	id              BIGSERIAL PRIMARY KEY,
	site_id         VARCHAR(50)  NOT NULL,
	status          VARCHAR(20)  NOT NULL,
	payment_methods JSONB        NOT NULL DEFAULT '[]'::jsonb,
	site_url        TEXT,
	screenshot_path VARCHAR(255),
	is_latest       BOOLEAN      NOT NULL DEFAULT TRUE,
	parsed_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
	error_message   TEXT
);
CREATE INDEX IF NOT EXISTS ix_parse_results_site_id   ON parse_results (site_id);
CREATE INDEX IF NOT EXISTS ix_parse_results_is_latest ON parse_results (is_latest);
CREATE INDEX IF NOT EXISTS ix_parse_results_parsed_at ON parse_results (parsed_at);
CREATE INDEX IF NOT EXISTS ix_site_latest ON parse_results (site_id, is_latest);
CREATE INDEX IF NOT EXISTS ix_site_date   ON parse_results (site_id, parsed_at);
CREATE UNIQUE INDEX IF NOT EXISTS ux_site_one_latest ON parse_results (site_id) WHERE is_latest;
`

// Postgres is the pgx-backed Store.
type Postgres struct {
	db *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Migrate creates the table and its indexes if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	slog.Info("database schema ready")
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Postgres) Close() {
	s.db.Close()
}

// Save demotes the previous latest row and inserts r within one
// transaction. A per-site advisory lock serializes concurrent saves for the
// same site.
func (s *Postgres) Save(ctx context.Context, r models.ParseResult) (int64, error) {
	methods := r.PaymentMethods
	if methods == nil {
		methods = []models.PaymentMethod{}
	}
	payload, err := json.Marshal(methods)
	if err != nil {
		return 0, fmt.Errorf("encode payment methods: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.SiteID); err != nil {
		return 0, fmt.Errorf("lock site %s: %w", r.SiteID, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE parse_results SET is_latest = FALSE WHERE site_id = $1 AND is_latest`,
		r.SiteID,
	); err != nil {
		return 0, fmt.Errorf("demote latest for %s: %w", r.SiteID, err)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO parse_results
		   (site_id, status, payment_methods, site_url, screenshot_path, is_latest, parsed_at, error_message)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7)
		 RETURNING id`,
		r.SiteID, string(r.Status), payload,
		nullString(r.SiteURL), nullString(r.ScreenshotPath),
		r.ParsedAt, nullString(r.ErrorMessage),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert result for %s: %w", r.SiteID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	slog.Info("result saved", "site", r.SiteID, "id", id, "status", r.Status)
	return id, nil
}

const selectColumns = `id, site_id, status, payment_methods, site_url, screenshot_path, is_latest, parsed_at, error_message`

func (s *Postgres) LatestAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+selectColumns+` FROM parse_results WHERE is_latest ORDER BY site_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) LatestBySite(ctx context.Context, siteID string) (*Record, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM parse_results WHERE site_id = $1 AND is_latest`, siteID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Postgres) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM parse_results WHERE NOT is_latest AND parsed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune results: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec                             Record
		status                          string
		payload                         []byte
		siteURL, screenshot, errMessage *string
	)
	err := row.Scan(&rec.ID, &rec.SiteID, &status, &payload, &siteURL, &screenshot,
		&rec.IsLatest, &rec.ParsedAt, &errMessage)
	if err != nil {
		return Record{}, err
	}
	rec.Status = models.Status(status)
	rec.SiteURL = deref(siteURL)
	rec.ScreenshotPath = deref(screenshot)
	rec.ErrorMessage = deref(errMessage)

	rec.PaymentMethods = []models.PaymentMethod{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec.PaymentMethods); err != nil {
			return Record{}, fmt.Errorf("decode payment methods of row %d: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
