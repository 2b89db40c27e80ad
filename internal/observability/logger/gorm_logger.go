package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures statement logging of the local store.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// Expected marks errors the repositories handle themselves, such as the
	// duplicate key of an already processed job. They are logged at debug.
	Expected func(error) bool
}

// GormLoggerConfigFor derives statement logging from the application log
// level. Statements are only traced at debug.
func GormLoggerConfigFor(logLevel string) GormLoggerConfig {
	cfg := GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 500 * time.Millisecond,
	}
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		cfg.Level = gormlogger.Info
		cfg.SlowThreshold = 100 * time.Millisecond
	case "error":
		cfg.Level = gormlogger.Error
	}
	return cfg
}

type GormLogger struct {
	base     *zap.Logger
	level    gormlogger.LogLevel
	slow     time.Duration
	expected func(error) bool
}

func NewGormLogger(base *zap.Logger, cfg GormLoggerConfig) *GormLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &GormLogger{
		base:     base.Named("store.sql"),
		level:    cfg.Level,
		slow:     cfg.SlowThreshold,
		expected: cfg.Expected,
	}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, format string, args ...any) {
	l.printf(ctx, gormlogger.Info, zapcore.InfoLevel, format, args)
}

func (l *GormLogger) Warn(ctx context.Context, format string, args ...any) {
	l.printf(ctx, gormlogger.Warn, zapcore.WarnLevel, format, args)
}

func (l *GormLogger) Error(ctx context.Context, format string, args ...any) {
	l.printf(ctx, gormlogger.Error, zapcore.ErrorLevel, format, args)
}

// printf renders gorm's own printf style messages (migrator, callbacks).
func (l *GormLogger) printf(ctx context.Context, threshold gormlogger.LogLevel, level zapcore.Level, format string, args []any) {
	if l.level < threshold {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if ce := WithContext(ctx, l.base).Check(level, "store.gorm"); ce != nil {
		ce.Write(zap.String("detail", msg))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var (
		level   zapcore.Level
		outcome string
	)
	switch {
	case err != nil && errors.Is(err, gormlogger.ErrRecordNotFound):
		if l.level < gormlogger.Info {
			return
		}
		level, outcome = zapcore.DebugLevel, "not_found"
	case err != nil && l.expected != nil && l.expected(err):
		if l.level < gormlogger.Info {
			return
		}
		level, outcome = zapcore.DebugLevel, "expected_error"
	case err != nil:
		level, outcome = zapcore.ErrorLevel, "error"
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		level, outcome = zapcore.WarnLevel, "slow"
	case l.level >= gormlogger.Info:
		level, outcome = zapcore.DebugLevel, "ok"
	default:
		return
	}

	ce := WithContext(ctx, l.base).Check(level, "store.query")
	if ce == nil {
		return
	}
	sql, rows := fc()
	op, table := statementShape(sql)
	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.String("operation", op),
		zap.String("table", table),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("sql", strings.TrimSpace(sql)),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// ParamsFilter drops bound values; project ids and member emails stay out of logs.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}

// statementShape returns the verb of a statement and the table it targets.
func statementShape(sql string) (string, string) {
	tokens := strings.Fields(strings.TrimSpace(sql))
	op := "UNKNOWN"
	for i, raw := range tokens {
		token := strings.ToUpper(strings.Trim(raw, "();"))
		switch token {
		case "SELECT", "DELETE", "MERGE", "CREATE", "ALTER":
			if op == "UNKNOWN" {
				op = token
			}
		case "INSERT", "UPDATE":
			if op == "UNKNOWN" {
				op = token
			}
			if token == "UPDATE" && i+1 < len(tokens) {
				return op, tableName(tokens[i+1])
			}
		case "FROM", "INTO", "TABLE":
			if op != "UNKNOWN" && i+1 < len(tokens) {
				return op, tableName(tokens[i+1])
			}
		}
	}
	return op, ""
}

func tableName(token string) string {
	token = strings.Trim(token, "();`\"")
	if idx := strings.LastIndex(token, "."); idx >= 0 {
		token = strings.Trim(token[idx+1:], "`\"")
	}
	return strings.ToLower(token)
}

var _ gormlogger.Interface = (*GormLogger)(nil)
