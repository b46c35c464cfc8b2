// Package recording captures player sessions and persists them as flat JSON
// files that the AI simulation replays.
package recording

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Tyrowin/sailhub/internal/model"
)

const (
	filePrefix  = "recording_"
	jsonExt     = ".json"
	gzipJSONExt = ".json.gz"
)

// ErrEmptyRecording is returned for recordings without movements.
var ErrEmptyRecording = errors.New("recording has no movements")

// StoreConfig holds flat-file storage settings.
type StoreConfig struct {
	Dir      string
	Compress bool
}

// Store owns every recording available to the simulation. Recordings are
// loaded once at startup and appended to as sessions are saved.
type Store struct {
	cfg    StoreConfig
	logger *slog.Logger

	mu         sync.RWMutex
	recordings []model.Recording
	cursor     uint64
}

// NewStore creates a Store rooted at cfg.Dir.
func NewStore(cfg StoreConfig, logger *slog.Logger) *Store {
	if cfg.Dir == "" {
		cfg.Dir = "./recordings"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cfg: cfg, logger: logger}
}

// Dir returns the directory recordings are stored in.
func (s *Store) Dir() string {
	return s.cfg.Dir
}

// LoadAll scans the storage directory and replaces the in-memory set with
// every readable recording, oldest first. Unreadable or corrupt files are
// skipped with a warning.
func (s *Store) LoadAll() ([]model.Recording, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	dirEntries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	loaded := make([]model.Recording, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !isRecordingFile(de.Name()) {
			continue
		}

		path := filepath.Join(s.cfg.Dir, de.Name())
		rec, err := readRecording(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable recording", "path", path, "error", err)
			continue
		}
		rec.Name = de.Name()
		loaded = append(loaded, rec)
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		if loaded[i].Timestamp.Equal(loaded[j].Timestamp) {
			return loaded[i].Name < loaded[j].Name
		}
		return loaded[i].Timestamp.Before(loaded[j].Timestamp)
	})

	s.mu.Lock()
	s.recordings = loaded
	s.mu.Unlock()

	s.logger.Info("Loaded recordings", "count", len(loaded), "dir", s.cfg.Dir)
	return append([]model.Recording(nil), loaded...), nil
}

// Save writes rec to disk and makes it available for replay.
func (s *Store) Save(rec *model.Recording) error {
	if rec == nil || len(rec.Movements) == 0 {
		return ErrEmptyRecording
	}

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create recordings directory: %w", err)
	}

	name := s.fileName(rec)
	if err := writeRecording(s.cfg.Dir, name, s.cfg.Compress, rec); err != nil {
		return err
	}

	saved := *rec
	saved.Name = name
	saved.Movements = append([]model.Sample(nil), rec.Movements...)
	rec.Name = name

	s.mu.Lock()
	s.recordings = append(s.recordings, saved)
	count := len(s.recordings)
	s.mu.Unlock()

	s.logger.Info("Saved recording", "file", name, "samples", len(saved.Movements), "available", count)
	return nil
}

// Available returns the recordings currently usable for replay.
func (s *Store) Available() []model.Recording {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Recording(nil), s.recordings...)
}

// Len returns the number of available recordings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recordings)
}

// Next returns recordings in round-robin order. The cursor only ever grows
// and lives for the process lifetime.
func (s *Store) Next() (model.Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.recordings) == 0 {
		return model.Recording{}, false
	}
	rec := s.recordings[s.cursor%uint64(len(s.recordings))]
	s.cursor++
	return rec, true
}

func (s *Store) fileName(rec *model.Recording) string {
	ext := jsonExt
	if s.cfg.Compress {
		ext = gzipJSONExt
	}

	clientID := strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_").Replace(rec.ClientID)
	base := fmt.Sprintf("%s%s_%s", filePrefix, clientID, rec.Timestamp.UTC().Format("20060102_150405"))

	name := base + ext
	for i := 1; fileExists(filepath.Join(s.cfg.Dir, name)); i++ {
		name = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
	return name
}

func isRecordingFile(name string) bool {
	return strings.HasSuffix(name, jsonExt) || strings.HasSuffix(name, gzipJSONExt)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readRecording(path string) (model.Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Recording{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, gzipJSONExt) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return model.Recording{}, fmt.Errorf("invalid gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var rec model.Recording
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return model.Recording{}, fmt.Errorf("invalid recording JSON: %w", err)
	}
	if len(rec.Movements) == 0 {
		return model.Recording{}, ErrEmptyRecording
	}
	return rec, nil
}

// writeRecording writes to a temp file in dir and renames it into place so a
// crash never leaves a half-written recording behind.
func writeRecording(dir, name string, compress bool, rec *model.Recording) error {
	tmp, err := os.CreateTemp(dir, ".recording-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var w io.Writer = tmp
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	if err := json.NewEncoder(w).Encode(rec); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode recording: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close recording: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to move recording into place: %w", err)
	}
	return nil
}
