package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	glogger "gorm.io/gorm/logger"
)

// GormLogger routes GORM's own statements (schema creation, pool checks) to zap
type GormLogger struct {
	log           *zap.Logger
	level         glogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger creates a GORM logger writing to log
func NewGormLogger(log *zap.Logger, level glogger.LogLevel, slowThreshold time.Duration) glogger.Interface {
	return &GormLogger{
		log:           log.Named("gorm"),
		level:         level,
		slowThreshold: slowThreshold,
	}
}

func (l *GormLogger) LogMode(level glogger.LogLevel) glogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= glogger.Info {
		l.log.Info(msg, zap.Any("data", data))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= glogger.Warn {
		l.log.Warn(msg, zap.Any("data", data))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= glogger.Error {
		l.log.Error(msg, zap.Any("data", data))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= glogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}

	switch {
	case err != nil && !errors.Is(err, glogger.ErrRecordNotFound) && l.level >= glogger.Error:
		l.log.Error("gorm trace error", append(fields, zap.Error(err))...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= glogger.Warn:
		l.log.Warn("gorm slow query", fields...)
	case l.level >= glogger.Info:
		l.log.Debug("gorm trace", fields...)
	}
}

func gormLogLevel(level string) glogger.LogLevel {
	switch strings.ToLower(level) {
	case "info", "debug":
		return glogger.Info
	case "warn":
		return glogger.Warn
	case "error":
		return glogger.Error
	case "silent":
		return glogger.Silent
	default:
		return glogger.Error
	}
}
