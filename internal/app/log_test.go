package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDriveHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 3, 9, 8, 5, 1, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name  string
		level slog.Level
		msg   string
		attrs []slog.Attr
		want  string
	}{
		{
			name:  "plain message in UTC",
			level: slog.LevelInfo,
			msg:   "folder created",
			want:  "2024-03-09T07:05:01Z\tINFO\top-1\tfolder created\n",
		},
		{
			name:  "record attributes",
			level: slog.LevelWarn,
			msg:   "quota clamped",
			attrs: []slog.Attr{slog.Int64("owner", 4), slog.String("reason", "negative")},
			want:  "2024-03-09T07:05:01Z\tWARN\top-1\tquota clamped\towner=4\treason=negative\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &driveHandler{w: &buf, opID: "op-1"}
			r := slog.NewRecord(ts, tt.level, tt.msg, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestDriveHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := &driveHandler{w: &buf, opID: "op-2"}
	h := base.WithAttrs([]slog.Attr{slog.String("component", "tree")})

	slog.New(h).Info("moved", "id", 9)
	if got := buf.String(); !strings.HasSuffix(got, "\top-2\tmoved\tcomponent=tree\tid=9\n") {
		t.Errorf("output = %q", got)
	}
	if len(base.attrs) != 0 {
		t.Error("WithAttrs modified the original handler")
	}
}

func TestNewLogger_RoutesByLevel(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	var stderr bytes.Buffer

	l, f, err := newLogger(dir, "op-3", &stderr)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	l.Debug("hidden")
	l.Info("to file")
	l.Warn("to both")
	f.Close()

	data, err := os.ReadFile(filepath.Join(dir, LogFile))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	file := string(data)
	if strings.Contains(file, "hidden") {
		t.Error("debug record written to the log file")
	}
	if !strings.Contains(file, "to file") || !strings.Contains(file, "to both") {
		t.Errorf("log file = %q", file)
	}
	if got := stderr.String(); strings.Contains(got, "to file") || !strings.Contains(got, "to both") {
		t.Errorf("stderr = %q, want only the warning", got)
	}
}
