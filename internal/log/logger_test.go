package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{" warning ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentLedger, Handler: slog.NewTextHandler(&buf, nil)})

	l.Info("Balance updated", FieldUserID, "u1")

	out := buf.String()
	if !strings.Contains(out, "component=ledger") {
		t.Errorf("missing component in %q", out)
	}
	if !strings.Contains(out, "user_id=u1") {
		t.Errorf("missing user_id in %q", out)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentApp, Handler: slog.NewTextHandler(&buf, nil)}).WithComponent(ComponentWorker)

	if l.Component() != ComponentWorker {
		t.Errorf("Component() = %q", l.Component())
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().WithComponent(ComponentSheets).WithOperation(OpExport).WithError(nil)
	if _, ok := f[FieldError]; ok {
		t.Error("nil error should not add a field")
	}
	if len(f.ToSlice()) != 4 {
		t.Errorf("ToSlice() = %v", f.ToSlice())
	}
}
