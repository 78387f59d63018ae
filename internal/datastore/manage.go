package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm/logger"

	"github.com/skyspy/flightradar-go/internal/logging"
)

// performAutoMigration runs gorm auto-migration for all persisted models.
func performAutoMigration(ds *DataStore, debug bool, dbType, connectionInfo string) error {
	if err := ds.DB.AutoMigrate(&Flight{}, &Position{}, &Aircraft{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		logging.Debug("database migration completed", "type", dbType, "connection", connectionInfo)
	}
	return nil
}

// slogGormLogger adapts the application slog logger to the gorm logger interface.
type slogGormLogger struct {
	logger        *slog.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

// createGormLogger returns a gorm logger writing through the datastore
// service logger. Queries slower than the threshold are logged as warnings.
func createGormLogger() logger.Interface {
	return &slogGormLogger{
		logger:        logging.ForService("datastore"),
		level:         logger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
}

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.level = level
	return &newLogger
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.logger.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= logger.Error:
		sql, rows := fc()
		l.logger.Error("query failed", "error", err, "sql", sql, "rows", rows, "elapsed", elapsed)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		l.logger.Warn("slow query", "sql", sql, "rows", rows, "elapsed", elapsed)
	case l.level >= logger.Info:
		sql, rows := fc()
		l.logger.Debug("query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
