package logger

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		l, err := New(tt.level, "json", "flames-test")
		if err != nil {
			t.Fatalf("New(%q) failed: %v", tt.level, err)
		}
		if !l.Core().Enabled(tt.want) {
			t.Errorf("New(%q): level %v not enabled", tt.level, tt.want)
		}
		if tt.want > zapcore.DebugLevel && l.Core().Enabled(tt.want-1) {
			t.Errorf("New(%q): level %v should be disabled", tt.level, tt.want-1)
		}
	}
}

func TestNew_Console(t *testing.T) {
	if _, err := New("info", "console", ""); err != nil {
		t.Fatalf("console logger failed: %v", err)
	}
}

// syncRecorder remembers what had been written when Sync was called
type syncRecorder struct {
	written []string
	atSync  []string
	syncs   int
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.written = append(r.written, string(p))
	return len(p), nil
}

func (r *syncRecorder) Sync() error {
	r.syncs++
	r.atSync = append([]string(nil), r.written...)
	return nil
}

func newRecordedLogger(out *syncRecorder) *zap.Logger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, out, zapcore.InfoLevel))
}

func TestFinish_ErrorFlushedBeforeExit(t *testing.T) {
	out := &syncRecorder{}

	code := Finish(newRecordedLogger(out), "Worker", errors.New("database unreachable"))

	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if out.syncs != 1 {
		t.Fatalf("Expected 1 sync, got %d", out.syncs)
	}
	if len(out.atSync) != 1 {
		t.Fatalf("Expected the error line written before sync, got %v", out.atSync)
	}
	if !strings.Contains(out.atSync[0], "Worker stopped with error") || !strings.Contains(out.atSync[0], "database unreachable") {
		t.Errorf("Unexpected final line: %s", out.atSync[0])
	}
}

func TestFinish_CleanStop(t *testing.T) {
	out := &syncRecorder{}

	code := Finish(newRecordedLogger(out), "Gateway", nil)

	if code != 0 {
		t.Errorf("Expected exit code 0, got %d", code)
	}
	if out.syncs != 1 || len(out.atSync) != 1 || !strings.Contains(out.atSync[0], "Gateway stopped") {
		t.Errorf("Expected one flushed stop line, got %v", out.atSync)
	}
}
