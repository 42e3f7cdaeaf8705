package control

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hallmidi/device"
	"hallmidi/keys"
	"hallmidi/settings"
)

func intPtr(v int) *int { return &v }

func TestUnmarshalEvent(t *testing.T) {
	tests := []struct {
		line    string
		want    Event
		wantErr bool
	}{
		{`{"type":"calibration_start"}`, CalibrationStart{}, false},
		{`{"type":"calibration_finish"}`, CalibrationFinish{}, false},
		{`{"type":"calibration_abort"}`, CalibrationAbort{}, false},
		{`{"type":"settings_reset"}`, SettingsReset{}, false},
		{`{"type":"status"}`, StatusRequest{}, false},
		{`{"type":"settings_update"}`, nil, true},
		{`{"type":"volume_held"}`, nil, true},
		{`not json`, nil, true},
	}
	for _, tc := range tests {
		got, err := UnmarshalEvent([]byte(tc.line))
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.line)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.line, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %#v, want %#v", tc.line, got, tc.want)
		}
	}
}

func TestSettingsUpdateEnvelope(t *testing.T) {
	b, err := MarshalEvent(SettingsUpdate{MidiChannel: intPtr(10), BaseNote: intPtr(48)})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	if !strings.Contains(string(b), `"type":"settings_update"`) {
		t.Fatalf("missing type discriminator: %s", b)
	}
	ev, err := UnmarshalEvent(b)
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	u, ok := ev.(SettingsUpdate)
	if !ok {
		t.Fatalf("got %T", ev)
	}
	if u.FastMIDI != nil || u.HysteresisPct != nil || *u.MidiChannel != 10 || *u.BaseNote != 48 {
		t.Fatalf("unexpected update %+v", u)
	}
}

func TestSettingsUpdateApply(t *testing.T) {
	s := settings.Defaults()
	if err := (SettingsUpdate{MidiChannel: intPtr(16)}).Apply(&s); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.Channel != 15 {
		t.Fatalf("channel 16 must be stored as 15, got %d", s.Channel)
	}

	bad := []SettingsUpdate{
		{MidiChannel: intPtr(0)},
		{MidiChannel: intPtr(17)},
		{BaseNote: intPtr(128)},
		{HysteresisPct: intPtr(101)},
	}
	for _, u := range bad {
		s := settings.Defaults()
		if err := u.Apply(&s); err == nil {
			t.Errorf("expected error for %+v", u)
		}
	}

	p := "sideways"
	if err := (SettingsUpdate{Polarity: &p}).Apply(&s); err == nil {
		t.Errorf("expected error for polarity %q", p)
	}
	if !(SettingsUpdate{}).Empty() {
		t.Errorf("zero update should be empty")
	}
}

func TestNewStatus(t *testing.T) {
	s := settings.Defaults()
	s.Channel = 3
	st := NewStatus(device.Snapshot{
		Mode:      device.ModeCalibrating,
		Settings:  s,
		Positions: []keys.Position{keys.Released, keys.Pressed},
		Filtered:  []uint16{500, 700},
	})
	if st.Mode != "calibrating" {
		t.Errorf("mode = %q", st.Mode)
	}
	if st.Settings.MidiChannel != 4 {
		t.Errorf("midi_channel = %d, want 4", st.Settings.MidiChannel)
	}
	if len(st.Settings.Threshold) != 2 {
		t.Errorf("threshold trimmed to %d channels, want 2", len(st.Settings.Threshold))
	}
	if st.Positions[1] != keys.Pressed.String() {
		t.Errorf("positions = %v", st.Positions)
	}
}

func TestSend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctl.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			line, _ := bufio.NewReader(conn).ReadString('\n')
			ev, err := UnmarshalEvent([]byte(line))
			enc := json.NewEncoder(conn)
			switch {
			case err != nil:
				_ = enc.Encode(Response{Status: "error", Error: err.Error()})
			case ev == (CalibrationStart{}):
				_ = enc.Encode(Response{Status: "error", Error: "calibration already running"})
			default:
				_ = enc.Encode(Response{Status: "ok", Data: json.RawMessage(`{"mode":"scanning"}`)})
			}
			conn.Close()
		}
	}()

	resp, err := Send(path, StatusRequest{}, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var st Status
	if err := json.Unmarshal(resp.Data, &st); err != nil || st.Mode != "scanning" {
		t.Fatalf("unexpected data %s (%v)", resp.Data, err)
	}

	_, err = Send(path, CalibrationStart{}, time.Second)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected daemon error, got %v", err)
	}
}
