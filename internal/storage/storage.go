package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/leduftw/polymarket-price-alert/internal/alert"
	"github.com/leduftw/polymarket-price-alert/internal/config"
	"github.com/leduftw/polymarket-price-alert/internal/metrics"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

// DB wraps the GORM database connection
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection for readiness checks
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate creates or updates the alert tables
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&ActiveAlert{},
		&CompletedAlert{},
	)
}

// ListAlerts returns every alert with the given status, oldest first
func (db *DB) ListAlerts(ctx context.Context, status alert.Status) (alerts []alert.Alert, err error) {
	start := time.Now()
	defer func() { metrics.RecordDatabaseQuery("list", time.Since(start), err) }()

	switch status {
	case alert.StatusActive:
		var rows []ActiveAlert
		if err := db.conn.WithContext(ctx).Order("created_ts ASC").Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("list active alerts: %w", err)
		}
		alerts = make([]alert.Alert, 0, len(rows))
		for _, r := range rows {
			alerts = append(alerts, r.toAlert())
		}
	case alert.StatusCompleted:
		var rows []CompletedAlert
		if err := db.conn.WithContext(ctx).Order("completed_ts ASC").Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("list completed alerts: %w", err)
		}
		alerts = make([]alert.Alert, 0, len(rows))
		for _, r := range rows {
			alerts = append(alerts, r.toAlert())
		}
	default:
		return nil, fmt.Errorf("unknown alert status %q", status)
	}
	return alerts, nil
}

// InsertActive inserts a new active alert. A second active alert with the same
// condition violates the unique index and returns alert.ErrDuplicateAlert.
func (db *DB) InsertActive(ctx context.Context, a alert.Alert) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDatabaseQuery("insert", time.Since(start), err) }()

	row := activeRow(a)
	if err := db.conn.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", alert.ErrDuplicateAlert, a.Key())
		}
		return fmt.Errorf("insert active alert: %w", err)
	}
	return nil
}

// UpsertAlert writes the alert into the table matching its status
func (db *DB) UpsertAlert(ctx context.Context, a alert.Alert) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDatabaseQuery("upsert", time.Since(start), err) }()

	tx := db.conn.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true})
	switch a.Status {
	case alert.StatusActive:
		row := activeRow(a)
		err = tx.Create(&row).Error
	case alert.StatusCompleted:
		row := completedRow(a)
		err = tx.Create(&row).Error
	default:
		return fmt.Errorf("unknown alert status %q", a.Status)
	}
	if err != nil {
		return fmt.Errorf("upsert %s alert: %w", a.Status, err)
	}
	return nil
}

// DeleteActive removes an active alert. Deleting a missing alert is not an error.
func (db *DB) DeleteActive(ctx context.Context, id, marketID string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDatabaseQuery("delete", time.Since(start), err) }()

	result := db.conn.WithContext(ctx).
		Where("id = ? AND market_id = ?", id, marketID).
		Delete(&ActiveAlert{})
	if result.Error != nil {
		return fmt.Errorf("delete active alert: %w", result.Error)
	}
	return nil
}

// HasActive reports whether an active record with id exists
func (db *DB) HasActive(ctx context.Context, id string) (ok bool, err error) {
	start := time.Now()
	defer func() { metrics.RecordDatabaseQuery("has_active", time.Since(start), err) }()

	var count int64
	if err := db.conn.WithContext(ctx).Model(&ActiveAlert{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check active alert: %w", err)
	}
	return count > 0, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
