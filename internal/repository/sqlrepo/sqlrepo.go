// Package sqlrepo is the production persistence adapter, backed by
// modernc.org/sqlite (a pure-Go driver, so the binary stays CGO-free
// like the rest of the teacher's stack). Implements repository.Sites,
// repository.Events and settings.Repository against the logical schema
// spec §6 "Persistence layout" describes.
package sqlrepo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skytower/alignments/internal/domain"
	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/repository"
	"github.com/skytower/alignments/internal/settings"
)

var logger = log.Logger()

const schema = `
CREATE TABLE IF NOT EXISTS sites (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	prefecture TEXT,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	elevation REAL NOT NULL,
	azimuth_to_apex REAL,
	elevation_to_apex REAL,
	distance_to_apex REAL,
	notes TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS location_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	site_fk INTEGER NOT NULL REFERENCES sites(id),
	event_date DATE NOT NULL,
	event_time TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	azimuth REAL NOT NULL,
	altitude REAL NOT NULL,
	quality_score INTEGER NOT NULL,
	accuracy TEXT NOT NULL,
	moon_phase REAL,
	moon_illumination REAL,
	calculation_year INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_date ON location_events(event_date);
CREATE INDEX IF NOT EXISTS idx_events_site_year_time ON location_events(site_fk, calculation_year, event_time);
CREATE INDEX IF NOT EXISTS idx_events_time ON location_events(event_time);

CREATE TABLE IF NOT EXISTS system_settings (
	key TEXT PRIMARY KEY,
	category TEXT,
	setting_type TEXT NOT NULL,
	number_value REAL,
	string_value TEXT,
	boolean_value INTEGER,
	description TEXT,
	editable INTEGER NOT NULL DEFAULT 1,
	updated_at TIMESTAMP NOT NULL
);
`

// DB wraps a *sql.DB open against a modernc.org/sqlite file or :memory:.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and
// applies the schema idempotently.
func Open(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.InfoContext(ctx, "sqlite repository opened", "path", path)
	return &DB{conn: conn}, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// --- Sites ---

func (d *DB) Create(ctx context.Context, site domain.Site) (domain.Site, error) {
	now := time.Now()
	res, err := d.conn.ExecContext(ctx,
		`INSERT INTO sites (name, prefecture, latitude, longitude, elevation, azimuth_to_apex, elevation_to_apex, distance_to_apex, notes, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		site.Name, site.Prefecture, site.Latitude, site.Longitude, site.ElevationMeters,
		site.AzimuthToApexDeg, site.ElevationToApexDeg, site.DistanceToApexM,
		site.Notes, string(site.Status), now, now,
	)
	if err != nil {
		return domain.Site{}, fmt.Errorf("insert site: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Site{}, fmt.Errorf("insert site id: %w", err)
	}
	site.ID = id
	site.CreatedAt, site.UpdatedAt = now, now
	return site, nil
}

func (d *DB) Update(ctx context.Context, site domain.Site) (domain.Site, error) {
	now := time.Now()
	res, err := d.conn.ExecContext(ctx,
		`UPDATE sites SET name=?, prefecture=?, latitude=?, longitude=?, elevation=?,
		 azimuth_to_apex=?, elevation_to_apex=?, distance_to_apex=?, notes=?, status=?, updated_at=?
		 WHERE id=?`,
		site.Name, site.Prefecture, site.Latitude, site.Longitude, site.ElevationMeters,
		site.AzimuthToApexDeg, site.ElevationToApexDeg, site.DistanceToApexM,
		site.Notes, string(site.Status), now, site.ID,
	)
	if err != nil {
		return domain.Site{}, fmt.Errorf("update site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Site{}, repository.ErrNotFound
	}
	site.UpdatedAt = now
	return site, nil
}

func (d *DB) Delete(ctx context.Context, id int64) error {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM sites WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	_, err = d.conn.ExecContext(ctx, `DELETE FROM location_events WHERE site_fk=?`, id)
	return err
}

func (d *DB) Get(ctx context.Context, id int64) (*domain.Site, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT id, name, prefecture, latitude, longitude, elevation, azimuth_to_apex, elevation_to_apex, distance_to_apex, notes, status, created_at, updated_at
		 FROM sites WHERE id=?`, id)
	site, err := scanSite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return site, err
}

func (d *DB) List(ctx context.Context) ([]domain.Site, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, name, prefecture, latitude, longitude, elevation, azimuth_to_apex, elevation_to_apex, distance_to_apex, notes, status, created_at, updated_at
		 FROM sites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var out []domain.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *site)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (*domain.Site, error) {
	var s domain.Site
	var status string
	if err := row.Scan(&s.ID, &s.Name, &s.Prefecture, &s.Latitude, &s.Longitude, &s.ElevationMeters,
		&s.AzimuthToApexDeg, &s.ElevationToApexDeg, &s.DistanceToApexM, &s.Notes, &status,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = domain.SiteStatus(status)
	return &s, nil
}

// --- Events ---

func (d *DB) ReplaceScope(ctx context.Context, scope repository.EventScope, events []domain.Event) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	deleteQuery, args := deleteQueryForScope(scope)
	if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
		return fmt.Errorf("delete scope: %w", err)
	}

	const batchSize = 100
	for start := 0; start < len(events); start += batchSize {
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}
		for _, ev := range events[start:end] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO location_events (site_fk, event_date, event_time, event_type, azimuth, altitude, quality_score, accuracy, moon_phase, moon_illumination, calculation_year)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				ev.SiteID, ev.EventDate, ev.EventTime, string(ev.EventType), ev.CelestialAzimuth, ev.ApexElevation,
				ev.QualityScore, string(ev.Accuracy), ev.MoonPhaseDegrees, ev.MoonIllumination, ev.CalculationYear,
			); err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		}
	}

	return tx.Commit()
}

func deleteQueryForScope(scope repository.EventScope) (string, []any) {
	switch {
	case !scope.Day.IsZero():
		return `DELETE FROM location_events WHERE site_fk=? AND event_date=?`, []any{scope.SiteID, scope.Day}
	case scope.Month != 0:
		return `DELETE FROM location_events WHERE site_fk=? AND calculation_year=? AND strftime('%m', event_date)=?`,
			[]any{scope.SiteID, scope.Year, fmt.Sprintf("%02d", scope.Month)}
	default:
		return `DELETE FROM location_events WHERE site_fk=? AND calculation_year=?`, []any{scope.SiteID, scope.Year}
	}
}

func (d *DB) ByMonth(ctx context.Context, year, month int) ([]domain.Event, error) {
	return d.queryEvents(ctx,
		`SELECT id, site_fk, event_date, event_time, event_type, azimuth, altitude, quality_score, accuracy, moon_phase, moon_illumination, calculation_year
		 FROM location_events WHERE calculation_year=? AND strftime('%m', event_date)=? ORDER BY event_time`,
		year, fmt.Sprintf("%02d", month))
}

func (d *DB) ByDay(ctx context.Context, day time.Time) ([]domain.Event, error) {
	return d.queryEvents(ctx,
		`SELECT id, site_fk, event_date, event_time, event_type, azimuth, altitude, quality_score, accuracy, moon_phase, moon_illumination, calculation_year
		 FROM location_events WHERE event_date=? ORDER BY event_time`,
		day.Format("2006-01-02"))
}

func (d *DB) Upcoming(ctx context.Context, from time.Time, limit int) ([]domain.Event, error) {
	return d.queryEvents(ctx,
		`SELECT id, site_fk, event_date, event_time, event_type, azimuth, altitude, quality_score, accuracy, moon_phase, moon_illumination, calculation_year
		 FROM location_events WHERE event_time>=? ORDER BY event_time LIMIT ?`,
		from, limit)
}

func (d *DB) BySiteYear(ctx context.Context, siteID int64, year int) ([]domain.Event, error) {
	return d.queryEvents(ctx,
		`SELECT id, site_fk, event_date, event_time, event_type, azimuth, altitude, quality_score, accuracy, moon_phase, moon_illumination, calculation_year
		 FROM location_events WHERE site_fk=? AND calculation_year=? ORDER BY event_time`,
		siteID, year)
}

func (d *DB) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var eventType, accuracy string
		if err := rows.Scan(&ev.ID, &ev.SiteID, &ev.EventDate, &ev.EventTime, &eventType, &ev.CelestialAzimuth,
			&ev.ApexElevation, &ev.QualityScore, &accuracy, &ev.MoonPhaseDegrees, &ev.MoonIllumination, &ev.CalculationYear); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.EventType = domain.EventType(eventType)
		ev.Accuracy = domain.Accuracy(accuracy)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (d *DB) YearStats(ctx context.Context, year int) (repository.YearStats, error) {
	stats := repository.YearStats{Year: year}
	row := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*),
		 SUM(CASE WHEN event_type LIKE 'diamond%' THEN 1 ELSE 0 END),
		 SUM(CASE WHEN event_type LIKE 'pearl%' THEN 1 ELSE 0 END),
		 COUNT(DISTINCT site_fk)
		 FROM location_events WHERE calculation_year=?`, year)

	var diamond, pearl sql.NullInt64
	if err := row.Scan(&stats.TotalEvents, &diamond, &pearl, &stats.ActiveLocations); err != nil {
		return stats, fmt.Errorf("year stats: %w", err)
	}
	stats.DiamondEvents = int(diamond.Int64)
	stats.PearlEvents = int(pearl.Int64)
	return stats, nil
}

func (d *DB) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM location_events WHERE event_date < ?`, cutoff.Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("delete older than: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (d *DB) HasYear(ctx context.Context, siteID int64, year int) (bool, error) {
	var count int
	row := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM location_events WHERE site_fk=? AND calculation_year=?`, siteID, year)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("has year: %w", err)
	}
	return count > 0, nil
}

// --- Settings ---

func (d *DB) GetSetting(ctx context.Context, key string) (*settings.Setting, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT key, category, setting_type, number_value, string_value, boolean_value, description, editable, updated_at
		 FROM system_settings WHERE key=?`, key)
	st, err := scanSetting(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

func (d *DB) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT key, category, setting_type, number_value, string_value, boolean_value, description, editable, updated_at
		 FROM system_settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []settings.Setting
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (d *DB) UpsertSetting(ctx context.Context, st settings.Setting) error {
	var numberValue, booleanValue sql.NullFloat64
	var stringValue sql.NullString
	switch st.ValueType {
	case settings.TypeNumber:
		numberValue = sql.NullFloat64{Float64: st.NumberValue, Valid: true}
	case settings.TypeString:
		stringValue = sql.NullString{String: st.StringValue, Valid: true}
	case settings.TypeBoolean:
		v := 0.0
		if st.BooleanValue {
			v = 1.0
		}
		booleanValue = sql.NullFloat64{Float64: v, Valid: true}
	}

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO system_settings (key, category, setting_type, number_value, string_value, boolean_value, description, editable, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET category=excluded.category, setting_type=excluded.setting_type,
		   number_value=excluded.number_value, string_value=excluded.string_value, boolean_value=excluded.boolean_value,
		   description=excluded.description, editable=excluded.editable, updated_at=excluded.updated_at`,
		st.Key, st.Category, string(st.ValueType), numberValue, stringValue, booleanValue, st.Description, st.Editable, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

func scanSetting(row rowScanner) (*settings.Setting, error) {
	var st settings.Setting
	var valueType string
	var numberValue, booleanValue sql.NullFloat64
	var stringValue sql.NullString
	if err := row.Scan(&st.Key, &st.Category, &valueType, &numberValue, &stringValue, &booleanValue, &st.Description, &st.Editable, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.ValueType = settings.ValueType(valueType)
	st.NumberValue = numberValue.Float64
	st.StringValue = stringValue.String
	st.BooleanValue = booleanValue.Float64 != 0
	return &st, nil
}
