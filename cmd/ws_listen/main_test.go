package main

import (
	"strings"
	"testing"
)

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name      string
		msg       string
		notesOnly bool
		want      string
	}{
		{
			name: "note on",
			msg:  `{"type":"note","ts":"2024-05-01T12:00:00Z","data":{"key":3,"note":39,"on":true,"velocity":90,"delivered":true}}`,
			want: "12:00:00.000 [NOTE] ON  key=3  note=39  vel=90",
		},
		{
			name: "dropped note off",
			msg:  `{"type":"note","ts":"2024-05-01T12:00:00Z","data":{"key":3,"note":39,"on":false,"delivered":false}}`,
			want: "(dropped)",
		},
		{
			name: "mode",
			msg:  `{"type":"mode_changed","ts":"2024-05-01T12:00:00Z","data":{"mode":"calibrating"}}`,
			want: "[MODE] CALIBRATING",
		},
		{
			name: "calibration",
			msg:  `{"type":"calibration_finished","ts":"2024-05-01T12:00:00Z","data":{"updated":[0,1],"skipped":[2],"windows":7}}`,
			want: "updated=2 skipped=1 windows=7",
		},
		{
			name: "settings pretty printed",
			msg:  `{"type":"settings_changed","ts":"2024-05-01T12:00:00Z","data":{"midi_channel":10}}`,
			want: "\"midi_channel\": 10",
		},
		{
			name: "not json",
			msg:  `hello`,
			want: "[TEXT] hello",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := formatMessage([]byte(tc.msg), tc.notesOnly)
			if !strings.Contains(got, tc.want) {
				t.Fatalf("got %q, want it to contain %q", got, tc.want)
			}
		})
	}

	if got := formatMessage([]byte(`{"type":"mode_changed","data":{"mode":"scanning"}}`), true); got != "" {
		t.Fatalf("notes-only should filter mode messages, got %q", got)
	}
}
