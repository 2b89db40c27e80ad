package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsRunFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := WithRun(context.Background(), "project_sync", "01HZY")
	WithContext(ctx, base).Info("job started")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	assert.Equal(t, "project_sync", fields["job"])
	assert.Equal(t, "01HZY", fields["run_id"])
	assert.Equal(t, "01HZY", RunIDFromContext(ctx))
}

func TestWithContextWithoutRunKeepsBase(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithContext(context.Background(), base).Info("plain")

	assert.Empty(t, logs.All()[0].ContextMap())
	assert.Equal(t, "", RunIDFromContext(context.Background()))
}

func TestStatementShape(t *testing.T) {
	cases := []struct {
		sql, op, table string
	}{
		{`SELECT * FROM "projects" WHERE external_id = $1`, "SELECT", "projects"},
		{"  update raw_usage_events SET processed = 1", "UPDATE", "raw_usage_events"},
		{"INSERT INTO `failed_submissions` (id) VALUES (1)", "INSERT", "failed_submissions"},
		{"DELETE FROM public.processed_usage_records WHERE id = 1", "DELETE", "processed_usage_records"},
		{"", "UNKNOWN", ""},
		{"VACUUM", "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := statementShape(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestGormLoggerConfigFor(t *testing.T) {
	assert.Equal(t, gormlogger.Info, GormLoggerConfigFor(" DEBUG ").Level)
	assert.Equal(t, gormlogger.Warn, GormLoggerConfigFor("info").Level)
	assert.Equal(t, gormlogger.Error, GormLoggerConfigFor("error").Level)
}

func TestGormTraceOutcomes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	errDuplicate := errors.New("duplicate key")
	l := NewGormLogger(zap.New(core), GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 100 * time.Millisecond,
		Expected:      func(err error) bool { return errors.Is(err, errDuplicate) },
	})
	stmt := func() (string, int64) { return "UPDATE projects SET net_seconds = 1", 1 }
	ctx := WithRun(context.Background(), "usage_accounting", "01J")

	l.Trace(ctx, time.Now(), stmt, nil)
	l.Trace(ctx, time.Now(), stmt, errDuplicate)
	l.Trace(ctx, time.Now(), stmt, gormlogger.ErrRecordNotFound)
	assert.Empty(t, logs.All())

	l.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	l.Trace(ctx, time.Now(), stmt, errors.New("connection reset"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "slow", entries[0].ContextMap()["outcome"])
	assert.Equal(t, "projects", entries[0].ContextMap()["table"])
	assert.Equal(t, "usage_accounting", entries[0].ContextMap()["job"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "error", entries[1].ContextMap()["outcome"])

	debug := l.LogMode(gormlogger.Info)
	debug.Trace(ctx, time.Now(), stmt, errDuplicate)
	require.Len(t, logs.All(), 3)
	assert.Equal(t, "expected_error", logs.All()[2].ContextMap()["outcome"])
}

func TestGormPrintfFormatsMessage(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), GormLoggerConfig{Level: gormlogger.Warn})

	l.Info(context.Background(), "ignored %s", "x")
	l.Warn(context.Background(), "replacing callback `%s`", "gorm:create")

	require.Len(t, logs.All(), 1)
	assert.Equal(t, "replacing callback `gorm:create`", logs.All()[0].ContextMap()["detail"])
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "console", normalizeFormat(" Console "))
	assert.Equal(t, "json", normalizeFormat("logfmt"))
}
