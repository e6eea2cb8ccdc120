package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// poiRow is the gorm model backing poi_records. The payload column holds
// the wire token; the database never sees plaintext coordinates.
type poiRow struct {
	ID               string `gorm:"primaryKey"`
	Name             string
	EncryptedPayload string
	SpatialIndexKey  string `gorm:"index"`
	Category         string `gorm:"index"`
	UploadedBy       string
	UploadedAt       time.Time `gorm:"index"`
}

func (poiRow) TableName() string { return "poi_records" }

// PostgresBackend stores POI records in PostgreSQL via gorm. Batches are
// committed in a single transaction.
type PostgresBackend struct {
	db  *gorm.DB
	log *slog.Logger
}

// NewPostgresBackend connects with the given DSN and migrates the schema.
func NewPostgresBackend(dsn string, log *slog.Logger) (*PostgresBackend, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(&poiRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate poi_records: %w", err)
	}

	return &PostgresBackend{db: db, log: log}, nil
}

// Put upserts one record.
func (b *PostgresBackend) Put(ctx context.Context, rec interfaces.POIRecord) error {
	row := toRow(rec)
	err := b.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// PutBatch upserts a chunk of records in one transaction.
func (b *PostgresBackend) PutBatch(ctx context.Context, recs []interfaces.POIRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]poiRow, len(recs))
	for i, rec := range recs {
		rows[i] = toRow(rec)
	}

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves a record by id.
func (b *PostgresBackend) Get(ctx context.Context, id string) (interfaces.POIRecord, error) {
	var row poiRow
	err := b.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return interfaces.POIRecord{}, interfaces.ErrPOINotFound
	}
	if err != nil {
		return interfaces.POIRecord{}, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return fromRow(row), nil
}

// Delete removes one record.
func (b *PostgresBackend) Delete(ctx context.Context, id string) error {
	if err := b.db.WithContext(ctx).Delete(&poiRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Clear removes every record.
func (b *PostgresBackend) Clear(ctx context.Context) error {
	if err := b.db.WithContext(ctx).Exec("DELETE FROM poi_records").Error; err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Snapshot reads all records in one statement, which on PostgreSQL's read
// committed isolation is a consistent point-in-time view.
func (b *PostgresBackend) Snapshot(ctx context.Context) ([]interfaces.POIRecord, error) {
	var rows []poiRow
	if err := b.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	out := make([]interfaces.POIRecord, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

// List returns up to limit records, most recently uploaded first.
func (b *PostgresBackend) List(ctx context.Context, limit int) ([]interfaces.POIRecord, error) {
	q := b.db.WithContext(ctx).Order("uploaded_at DESC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []poiRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	out := make([]interfaces.POIRecord, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

// Available pings the database.
func (b *PostgresBackend) Available(ctx context.Context) bool {
	sqlDB, err := b.db.DB()
	if err != nil {
		return false
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		b.log.Debug("Postgres backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns the backend identifier.
func (b *PostgresBackend) Name() string {
	return "postgres"
}

func toRow(rec interfaces.POIRecord) poiRow {
	return poiRow{
		ID:               rec.ID,
		Name:             rec.Name,
		EncryptedPayload: string(rec.EncryptedPayload),
		SpatialIndexKey:  rec.SpatialIndexKey,
		Category:         rec.Category,
		UploadedBy:       rec.UploadedBy,
		UploadedAt:       rec.UploadedAt,
	}
}

func fromRow(row poiRow) interfaces.POIRecord {
	return interfaces.POIRecord{
		ID:               row.ID,
		Name:             row.Name,
		EncryptedPayload: interfaces.EncryptedToken(row.EncryptedPayload),
		SpatialIndexKey:  row.SpatialIndexKey,
		Category:         row.Category,
		UploadedBy:       row.UploadedBy,
		UploadedAt:       row.UploadedAt,
	}
}
