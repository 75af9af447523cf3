package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/metrics"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := runSQLiteMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func runSQLiteMigrations(db *sql.DB) error {
	src, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func observeQuery(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
}

func observeWrite(start time.Time) {
	metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Milliseconds()))
}

// InsertSample implements Writer.
func (s *SQLiteStore) InsertSample(ctx context.Context, smp model.LocationSample) error {
	defer observeWrite(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO location_samples (id, user_id, latitude, longitude, accuracy, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		smp.ID, smp.UserID, smp.Latitude, smp.Longitude, smp.AccuracyMeters, smp.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

const sampleColumns = `id, user_id, latitude, longitude, accuracy, recorded_at`

func scanSample(row interface{ Scan(...any) error }) (model.LocationSample, error) {
	var (
		smp model.LocationSample
		ts  int64
	)
	if err := row.Scan(&smp.ID, &smp.UserID, &smp.Latitude, &smp.Longitude, &smp.AccuracyMeters, &ts); err != nil {
		return smp, err
	}
	smp.RecordedAt = fromMillis(ts)
	return smp, nil
}

func (s *SQLiteStore) querySamples(ctx context.Context, query string, args ...any) ([]model.LocationSample, error) {
	defer observeQuery(time.Now())
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LocationSample
	for rows.Next() {
		smp, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// LatestSample implements Reader.
func (s *SQLiteStore) LatestSample(ctx context.Context, userID string) (*model.LocationSample, error) {
	defer observeQuery(time.Now())
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sampleColumns+` FROM location_samples WHERE user_id = ? ORDER BY recorded_at DESC LIMIT 1`, userID)
	smp, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest sample: %w", err)
	}
	return &smp, nil
}

// LatestSamples implements Reader.
func (s *SQLiteStore) LatestSamples(ctx context.Context, since time.Time) ([]model.LocationSample, error) {
	out, err := s.querySamples(ctx, `
		SELECT s.id, s.user_id, s.latitude, s.longitude, s.accuracy, s.recorded_at
		FROM location_samples s
		JOIN (
			SELECT user_id, MAX(recorded_at) AS latest
			FROM location_samples
			WHERE recorded_at >= ?
			GROUP BY user_id
		) l ON s.user_id = l.user_id AND s.recorded_at = l.latest
		ORDER BY s.user_id`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("latest samples: %w", err)
	}
	return out, nil
}

// SamplesBetween implements Reader.
func (s *SQLiteStore) SamplesBetween(ctx context.Context, userID string, from, to time.Time) ([]model.LocationSample, error) {
	out, err := s.querySamples(ctx,
		`SELECT `+sampleColumns+` FROM location_samples
		 WHERE user_id = ? AND recorded_at >= ? AND recorded_at < ?
		 ORDER BY recorded_at`,
		userID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("samples between: %w", err)
	}
	return out, nil
}

const attendanceColumns = `id, user_id, attendance_date,
	check_in_time, check_in_lat, check_in_lng, check_in_place, check_in_area,
	check_out_time, check_out_lat, check_out_lng, check_out_place, check_out_area,
	total_minutes`

func scanAttendance(row interface{ Scan(...any) error }) (*model.AttendanceDay, error) {
	var (
		d        model.AttendanceDay
		inTS     int64
		outTS    sql.NullInt64
		outLat   sql.NullFloat64
		outLng   sql.NullFloat64
		outPlace sql.NullString
		outArea  sql.NullString
		total    sql.NullInt64
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Date,
		&inTS, &d.CheckIn.Lat, &d.CheckIn.Lng, &d.CheckIn.Place, &d.CheckIn.Area,
		&outTS, &outLat, &outLng, &outPlace, &outArea, &total)
	if err != nil {
		return nil, err
	}
	d.CheckIn.Time = fromMillis(inTS)
	if outTS.Valid {
		d.CheckOut = &model.CheckPoint{
			Time:  fromMillis(outTS.Int64),
			Lat:   outLat.Float64,
			Lng:   outLng.Float64,
			Place: outPlace.String,
			Area:  outArea.String,
		}
	}
	if total.Valid {
		m := int(total.Int64)
		d.TotalMinutes = &m
	}
	return &d, nil
}

func (s *SQLiteStore) queryOneAttendance(ctx context.Context, query string, args ...any) (*model.AttendanceDay, error) {
	defer observeQuery(time.Now())
	d, err := scanAttendance(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("attendance: %w", err)
	}
	return d, nil
}

// Attendance implements Reader.
func (s *SQLiteStore) Attendance(ctx context.Context, userID, date string) (*model.AttendanceDay, error) {
	return s.queryOneAttendance(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE user_id = ? AND attendance_date = ?`, userID, date)
}

// OpenAttendance implements Reader.
func (s *SQLiteStore) OpenAttendance(ctx context.Context, userID string) (*model.AttendanceDay, error) {
	return s.queryOneAttendance(ctx,
		`SELECT `+attendanceColumns+` FROM attendance
		 WHERE user_id = ? AND check_out_time IS NULL
		 ORDER BY check_in_time DESC LIMIT 1`, userID)
}

// OpenAttendanceOn implements Reader.
func (s *SQLiteStore) OpenAttendanceOn(ctx context.Context, date string) ([]model.AttendanceDay, error) {
	defer observeQuery(time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance
		 WHERE attendance_date = ? AND check_out_time IS NULL
		 ORDER BY user_id`, date)
	if err != nil {
		return nil, fmt.Errorf("open attendance: %w", err)
	}
	defer rows.Close()

	var out []model.AttendanceDay
	for rows.Next() {
		d, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("open attendance: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// CreateAttendance implements Writer.
func (s *SQLiteStore) CreateAttendance(ctx context.Context, d model.AttendanceDay) error {
	defer observeWrite(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attendance (id, user_id, attendance_date,
			check_in_time, check_in_lat, check_in_lng, check_in_place, check_in_area)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.Date,
		d.CheckIn.Time.UnixMilli(), d.CheckIn.Lat, d.CheckIn.Lng, d.CheckIn.Place, d.CheckIn.Area,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyCheckedIn
		}
		return fmt.Errorf("create attendance: %w", err)
	}
	return nil
}

// CloseAttendance implements Writer.
func (s *SQLiteStore) CloseAttendance(ctx context.Context, id string, out model.CheckPoint, totalMinutes int) error {
	defer observeWrite(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE attendance
		 SET check_out_time = ?, check_out_lat = ?, check_out_lng = ?,
		     check_out_place = ?, check_out_area = ?, total_minutes = ?
		 WHERE id = ? AND check_out_time IS NULL`,
		out.Time.UnixMilli(), out.Lat, out.Lng, out.Place, out.Area, totalMinutes, id,
	)
	if err != nil {
		return fmt.Errorf("close attendance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM attendance WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("close attendance: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrNotCheckedIn
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
