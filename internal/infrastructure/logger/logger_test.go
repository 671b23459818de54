package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerWithLevel_RuntimeChange(t *testing.T) {
	l, level, err := NewLoggerWithLevel(Config{Level: "warn", Format: "console", OutputPath: "stderr"})
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	level.SetLevel(zapcore.DebugLevel)
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("level change not applied")
	}
}

func TestParseLevel_Fallback(t *testing.T) {
	if ParseLevel("verbose") != zapcore.InfoLevel {
		t.Error("unknown level should fall back to info")
	}
	if ParseLevel("error") != zapcore.ErrorLevel {
		t.Error("error level not parsed")
	}
}
