package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	applog "linkdrop/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

const defaultSlowThreshold = 200 * time.Millisecond

// ZapGormLogger sends gorm's query log to zap with the caller's trace ids.
type ZapGormLogger struct {
	Zap           *zap.Logger
	SlowThreshold time.Duration
	LogLevel      logger.LogLevel
	ShowSQL       bool
}

func NewZapGormLogger(z *zap.Logger, logLevel logger.LogLevel, showSQL bool) *ZapGormLogger {
	return &ZapGormLogger{
		Zap:           z,
		LogLevel:      logLevel,
		ShowSQL:       showSQL,
		SlowThreshold: defaultSlowThreshold,
	}
}

func (l *ZapGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.LogLevel = level
	return &clone
}

func (l *ZapGormLogger) log(ctx context.Context, level logger.LogLevel, msg string, data []interface{}) {
	if l.LogLevel < level {
		return
	}
	z := l.Zap.With(applog.TraceFields(ctx)...)
	switch level {
	case logger.Error:
		z.Error(fmt.Sprintf(msg, data...))
	case logger.Warn:
		z.Warn(fmt.Sprintf(msg, data...))
	default:
		z.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *ZapGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.log(ctx, logger.Info, msg, data)
}

func (l *ZapGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.log(ctx, logger.Warn, msg, data)
}

func (l *ZapGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.log(ctx, logger.Error, msg, data)
}

// expected errors are part of normal control flow: a missing row and a lost
// insert race on a primary key.
func expected(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
}

func (l *ZapGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	slow := l.SlowThreshold != 0 && elapsed > l.SlowThreshold
	failed := err != nil && !expected(err)
	if !failed && !slow && !(l.LogLevel >= logger.Info && l.ShowSQL) {
		return
	}

	sql, rows := fc()
	fields := append(applog.TraceFields(ctx),
		zap.String("file", utils.FileWithLineNum()),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	)

	switch {
	case failed && l.LogLevel >= logger.Error:
		l.Zap.Error("gorm.query", append(fields, zap.Error(err))...)
	case slow && l.LogLevel >= logger.Warn:
		l.Zap.Warn("gorm.slow_query", append(fields, zap.Duration("threshold", l.SlowThreshold))...)
	case l.LogLevel >= logger.Info && l.ShowSQL:
		l.Zap.Info("gorm.query", fields...)
	}
}
