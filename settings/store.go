package settings

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store persists a Settings record.
//
// Load never fails to produce a usable record: a missing, unreadable or
// invalid record is replaced by Defaults(), which are saved before Load
// returns. The returned error then only reports that this save failed.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// Encode serializes s as YAML.
func Encode(s Settings) ([]byte, error) {
	b, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return b, nil
}

// Decode parses and validates a record produced by Encode.
func Decode(b []byte) (Settings, error) {
	var s Settings
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// repair installs defaults after a bad record and persists them.
func repair(save func(Settings) error, cause error, logger *slog.Logger) (Settings, error) {
	def := Defaults()
	logger.Warn("settings invalid, installing defaults", "error", cause)
	if err := save(def); err != nil {
		return def, fmt.Errorf("save default settings: %w", err)
	}
	return def, nil
}

// ============================================================================
// FileStore
// ============================================================================

// FileStore keeps the record in a YAML file.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore returns a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load() (Settings, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.logger.Info("settings file missing, first boot", "path", f.path)
		}
		return repair(f.Save, err, f.logger)
	}
	s, err := Decode(b)
	if err != nil {
		return repair(f.Save, err, f.logger)
	}
	return s, nil
}

// Save writes the record to a temporary file and renames it over the old one.
func (f *FileStore) Save(s Settings) error {
	b, err := Encode(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	f.logger.Debug("settings saved", "path", f.path)
	return nil
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore keeps the encoded record in memory. It goes through the same
// encoding as FileStore.
type MemoryStore struct {
	mu     sync.Mutex
	data   []byte
	saves  int
	logger *slog.Logger
}

// NewMemoryStore returns a store holding raw, which may be nil or garbage.
func NewMemoryStore(raw []byte, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{data: raw, logger: logger}
}

func (m *MemoryStore) Load() (Settings, error) {
	m.mu.Lock()
	raw := m.data
	m.mu.Unlock()

	s, err := Decode(raw)
	if err != nil {
		return repair(m.Save, err, m.logger)
	}
	return s, nil
}

func (m *MemoryStore) Save(s Settings) error {
	b, err := Encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = b
	m.saves++
	m.mu.Unlock()
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Raw returns a copy of the stored bytes.
func (m *MemoryStore) Raw() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
