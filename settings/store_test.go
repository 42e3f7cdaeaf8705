package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func customSettings() Settings {
	s := Defaults()
	s.Channel = 9
	s.BaseNote = 48
	s.FastMIDI = true
	s.HysteresisPct = 15
	s.Polarity = PolarityLower
	s.Threshold[0] = 600
	s.Span[0] = 200
	s.Threshold[63] = 3100
	s.Span[63] = 1200
	return s
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	st := NewMemoryStore(nil, nil)
	want := customSettings()

	if err := st.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestMemoryStore_CorruptInstallsDefaults(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"garbage", []byte("\x00\x01not yaml: [")},
		{"wrong magic", []byte("magic: [9, 9, 9, 9]\nmidi_channel: 0\nbase_note: 36\npolarity: raise\n")},
		{"unknown field", []byte("magic: [1, 2, 3, 4]\nvolume: 3\n")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := NewMemoryStore(tc.raw, nil)
			got, err := st.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got != Defaults() {
				t.Fatalf("expected defaults, got %+v", got)
			}
			if st.Saves() != 1 {
				t.Fatalf("expected defaults to be persisted once, saves=%d", st.Saves())
			}
			again, err := Decode(st.Raw())
			if err != nil {
				t.Fatalf("persisted defaults do not decode: %v", err)
			}
			if again != Defaults() {
				t.Fatalf("persisted record is not the defaults")
			}
		})
	}
}

func TestFileStore_RoundTripAndRepair(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "settings.yaml")
	st := NewFileStore(path, nil)

	// First boot: no file yet.
	got, err := st.Load()
	if err != nil {
		t.Fatalf("Load on first boot: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("expected defaults on first boot")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected defaults to be written: %v", err)
	}

	want := customSettings()
	if err := st.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("file round trip mismatch")
	}

	if err := os.WriteFile(path, []byte("magic: [0, 0, 0, 0]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = st.Load()
	if err != nil {
		t.Fatalf("Load after corruption: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("expected defaults after corruption")
	}
}

func TestValidate(t *testing.T) {
	s := Defaults()
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	s.Magic = [4]uint8{}
	if err := s.Validate(); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}

	s = Defaults()
	s.Channel = 16
	if err := s.Validate(); err == nil {
		t.Fatalf("expected channel error")
	}

	s = Defaults()
	s.Polarity = "sideways"
	if err := s.Validate(); err == nil {
		t.Fatalf("expected polarity error")
	}
}

func TestReferences(t *testing.T) {
	s := Defaults()
	s.Threshold[3] = 600
	s.Span[3] = 200

	rel, pr := s.References(3)
	if rel != 500 || pr != 700 {
		t.Fatalf("raise polarity: got released=%d pressed=%d, want 500/700", rel, pr)
	}

	s.Polarity = PolarityLower
	rel, pr = s.References(3)
	if rel != 700 || pr != 500 {
		t.Fatalf("lower polarity: got released=%d pressed=%d, want 700/500", rel, pr)
	}

	s.Threshold[4] = 50
	s.Span[4] = 400
	rel, pr = s.References(4)
	if rel != 250 || pr != 0 {
		t.Fatalf("clamped: got released=%d pressed=%d, want 250/0", rel, pr)
	}
}
