package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/logger"
)

// locationLog is the gorm row for a sample.
type locationLog struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)"`
	UserID     string    `gorm:"type:varchar(64);not null;index:idx_location_logs_user_time,priority:1"`
	Latitude   float64   `gorm:"not null"`
	Longitude  float64   `gorm:"not null"`
	Accuracy   float64   `gorm:"not null;default:0"`
	RecordedAt time.Time `gorm:"not null;index:idx_location_logs_user_time,priority:2;index"`
}

func (locationLog) TableName() string { return "location_logs" }

// attendanceRow is the gorm row for an attendance day.
type attendanceRow struct {
	ID             string `gorm:"primaryKey;type:varchar(64)"`
	UserID         string `gorm:"type:varchar(64);not null;uniqueIndex:idx_attendance_user_date,priority:1"`
	AttendanceDate string `gorm:"type:varchar(10);not null;uniqueIndex:idx_attendance_user_date,priority:2;index"`

	CheckInTime  time.Time `gorm:"not null"`
	CheckInLat   float64   `gorm:"not null"`
	CheckInLng   float64   `gorm:"not null"`
	CheckInPlace string
	CheckInArea  string

	CheckOutTime  *time.Time
	CheckOutLat   *float64
	CheckOutLng   *float64
	CheckOutPlace *string
	CheckOutArea  *string
	TotalMinutes  *int
}

func (attendanceRow) TableName() string { return "attendance" }

func sampleRow(s model.LocationSample) locationLog {
	return locationLog{
		ID:         s.ID,
		UserID:     s.UserID,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Accuracy:   s.AccuracyMeters,
		RecordedAt: s.RecordedAt.UTC(),
	}
}

func (r locationLog) toModel() model.LocationSample {
	return model.LocationSample{
		ID:             r.ID,
		UserID:         r.UserID,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		AccuracyMeters: r.Accuracy,
		RecordedAt:     r.RecordedAt.UTC(),
	}
}

func attendanceFromModel(d model.AttendanceDay) attendanceRow {
	row := attendanceRow{
		ID:             d.ID,
		UserID:         d.UserID,
		AttendanceDate: d.Date,
		CheckInTime:    d.CheckIn.Time.UTC(),
		CheckInLat:     d.CheckIn.Lat,
		CheckInLng:     d.CheckIn.Lng,
		CheckInPlace:   d.CheckIn.Place,
		CheckInArea:    d.CheckIn.Area,
		TotalMinutes:   d.TotalMinutes,
	}
	if out := d.CheckOut; out != nil {
		t := out.Time.UTC()
		row.CheckOutTime = &t
		row.CheckOutLat = &out.Lat
		row.CheckOutLng = &out.Lng
		row.CheckOutPlace = &out.Place
		row.CheckOutArea = &out.Area
	}
	return row
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (r attendanceRow) toModel() model.AttendanceDay {
	d := model.AttendanceDay{
		ID:     r.ID,
		UserID: r.UserID,
		Date:   r.AttendanceDate,
		CheckIn: model.CheckPoint{
			Time:  r.CheckInTime.UTC(),
			Lat:   r.CheckInLat,
			Lng:   r.CheckInLng,
			Place: r.CheckInPlace,
			Area:  r.CheckInArea,
		},
		TotalMinutes: r.TotalMinutes,
	}
	if r.CheckOutTime != nil {
		d.CheckOut = &model.CheckPoint{
			Time:  r.CheckOutTime.UTC(),
			Lat:   deref(r.CheckOutLat),
			Lng:   deref(r.CheckOutLng),
			Place: deref(r.CheckOutPlace),
			Area:  deref(r.CheckOutArea),
		}
	}
	return d
}

// gormWriter routes gorm's log lines into our logger.
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}

// PostgresStore is a Store backed by PostgreSQL through gorm.
type PostgresStore struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.New(gormWriter{log: logger.Get().Named("gorm")}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}
	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresStore(db)
}

// NewPostgresStore wraps an existing gorm handle and migrates the schema.
func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	sqlDB.SetConnMaxLifetime(2 * time.Hour)

	if err := db.AutoMigrate(&locationLog{}, &attendanceRow{}); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// InsertSample implements Writer.
func (p *PostgresStore) InsertSample(ctx context.Context, s model.LocationSample) error {
	defer observeWrite(time.Now())
	row := sampleRow(s)
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// LatestSample implements Reader.
func (p *PostgresStore) LatestSample(ctx context.Context, userID string) (*model.LocationSample, error) {
	defer observeQuery(time.Now())
	var row locationLog
	err := p.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("recorded_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest sample: %w", err)
	}
	s := row.toModel()
	return &s, nil
}

// LatestSamples implements Reader.
func (p *PostgresStore) LatestSamples(ctx context.Context, since time.Time) ([]model.LocationSample, error) {
	defer observeQuery(time.Now())
	var rows []locationLog
	err := p.db.WithContext(ctx).Raw(
		`SELECT DISTINCT ON (user_id) * FROM location_logs
		 WHERE recorded_at >= ?
		 ORDER BY user_id, recorded_at DESC`, since.UTC()).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest samples: %w", err)
	}
	out := make([]model.LocationSample, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// SamplesBetween implements Reader.
func (p *PostgresStore) SamplesBetween(ctx context.Context, userID string, from, to time.Time) ([]model.LocationSample, error) {
	defer observeQuery(time.Now())
	var rows []locationLog
	err := p.db.WithContext(ctx).
		Where("user_id = ? AND recorded_at >= ? AND recorded_at < ?", userID, from.UTC(), to.UTC()).
		Order("recorded_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("samples between: %w", err)
	}
	out := make([]model.LocationSample, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (p *PostgresStore) takeAttendance(q *gorm.DB) (*model.AttendanceDay, error) {
	var row attendanceRow
	err := q.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("attendance: %w", err)
	}
	d := row.toModel()
	return &d, nil
}

// Attendance implements Reader.
func (p *PostgresStore) Attendance(ctx context.Context, userID, date string) (*model.AttendanceDay, error) {
	defer observeQuery(time.Now())
	return p.takeAttendance(p.db.WithContext(ctx).
		Where("user_id = ? AND attendance_date = ?", userID, date))
}

// OpenAttendance implements Reader.
func (p *PostgresStore) OpenAttendance(ctx context.Context, userID string) (*model.AttendanceDay, error) {
	defer observeQuery(time.Now())
	return p.takeAttendance(p.db.WithContext(ctx).
		Where("user_id = ? AND check_out_time IS NULL", userID).
		Order("check_in_time DESC"))
}

// OpenAttendanceOn implements Reader.
func (p *PostgresStore) OpenAttendanceOn(ctx context.Context, date string) ([]model.AttendanceDay, error) {
	defer observeQuery(time.Now())
	var rows []attendanceRow
	err := p.db.WithContext(ctx).
		Where("attendance_date = ? AND check_out_time IS NULL", date).
		Order("user_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("open attendance: %w", err)
	}
	out := make([]model.AttendanceDay, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// CreateAttendance implements Writer.
func (p *PostgresStore) CreateAttendance(ctx context.Context, d model.AttendanceDay) error {
	defer observeWrite(time.Now())
	row := attendanceFromModel(d)
	err := p.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyCheckedIn
	}
	if err != nil {
		return fmt.Errorf("create attendance: %w", err)
	}
	return nil
}

// CloseAttendance implements Writer.
func (p *PostgresStore) CloseAttendance(ctx context.Context, id string, out model.CheckPoint, totalMinutes int) error {
	defer observeWrite(time.Now())
	t := out.Time.UTC()
	res := p.db.WithContext(ctx).Model(&attendanceRow{}).
		Where("id = ? AND check_out_time IS NULL", id).
		Updates(map[string]any{
			"check_out_time":  t,
			"check_out_lat":   out.Lat,
			"check_out_lng":   out.Lng,
			"check_out_place": out.Place,
			"check_out_area":  out.Area,
			"total_minutes":   totalMinutes,
		})
	if res.Error != nil {
		return fmt.Errorf("close attendance: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := p.db.WithContext(ctx).Model(&attendanceRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("close attendance: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrNotCheckedIn
}

// Close implements Store.
func (p *PostgresStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
