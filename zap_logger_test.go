package mongobase

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestZapLoggerMethods tests all ZapLogger methods with observer
func TestZapLoggerMethods(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	zapLogger := NewZapLogger(zap.New(core))

	zapLogger.Debug("debug message", "key", "value")
	zapLogger.Info("info message", "key", "value")
	zapLogger.Warn("warn message", "key", "value")
	zapLogger.Error("error message", "key", "value")

	entries := recorded.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(entries))
	}

	levels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, want := range levels {
		if entries[i].Level != want {
			t.Errorf("entry %d: expected %v level, got %v", i, want, entries[i].Level)
		}
		if entries[i].LoggerName != "mongobase" {
			t.Errorf("entry %d: expected logger name mongobase, got %q", i, entries[i].LoggerName)
		}
	}
}

// TestZapLoggerFields tests that fields are properly passed
func TestZapLoggerFields(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	zapLogger := NewZapLogger(zap.New(core)).With("context_id", "abc")

	zapLogger.Info("message", "database", "shop", "collections", 3)

	if recorded.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", recorded.Len())
	}
	fields := recorded.All()[0].ContextMap()
	if fields["context_id"] != "abc" {
		t.Errorf("expected context_id field 'abc', got %v", fields["context_id"])
	}
	if fields["database"] != "shop" {
		t.Errorf("expected database field 'shop', got %v", fields["database"])
	}
	if fields["collections"] != int64(3) {
		t.Errorf("expected collections field 3, got %v", fields["collections"])
	}
}

// TestNewZapLoggerFromSugar keeps the caller's logger name
func TestNewZapLoggerFromSugar(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	zapLogger := NewZapLoggerFromSugar(zap.New(core).Named("app").Sugar())

	zapLogger.Info("hello")

	if recorded.Len() != 1 || recorded.All()[0].LoggerName != "app" {
		t.Errorf("expected one entry from logger 'app', got %+v", recorded.All())
	}
}

// TestNewProductionZapLogger tests production logger creation
func TestNewProductionZapLogger(t *testing.T) {
	logger, err := NewProductionZapLogger()
	if err != nil {
		t.Fatalf("failed to create production logger: %v", err)
	}
	logger.Info("info message", "key", "value")

	if err := logger.Sync(); err != nil {
		// Sync can fail on stdout/stderr in tests
		t.Logf("sync returned error (expected in tests): %v", err)
	}
}

// TestNewDevelopmentZapLogger tests development logger creation
func TestNewDevelopmentZapLogger(t *testing.T) {
	logger, err := NewDevelopmentZapLogger()
	if err != nil {
		t.Fatalf("failed to create development logger: %v", err)
	}
	logger.Debug("debug message", "key", "value")
}

// TestZapLoggerImplementsInterface is a compile-time check
func TestZapLoggerImplementsInterface(t *testing.T) {
	var _ Logger = (*ZapLogger)(nil)
	var _ Logger = (*NoOpLogger)(nil)

	if _, ok := loggerOrNoOp(nil).(*NoOpLogger); !ok {
		t.Error("loggerOrNoOp(nil) should return a NoOpLogger")
	}
}
