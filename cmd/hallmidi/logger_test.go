package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"error", slog.LevelError, false},
		{"WARNING", slog.LevelWarn, false},
		{"info", slog.LevelInfo, false},
		{"Debug", slog.LevelDebug, false},
		{"trace", 0, true},
	}
	for _, tc := range tests {
		got, err := parseLogLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err = %v", tc.in, err)
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSetupLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	setupLogger(slog.LevelInfo, logFormatJSON, &buf).Info("hello", "key", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json output not decodable: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "hello" || rec["key"] != float64(3) {
		t.Fatalf("unexpected record %v", rec)
	}

	buf.Reset()
	l := setupLogger(slog.LevelWarn, logFormatText, &buf)
	l.Info("hidden")
	l.Warn("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "msg=shown") {
		t.Fatalf("unexpected text output %q", out)
	}
}
