package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"findmyway/locator"
	"findmyway/models"
	"findmyway/utils"
)

const (
	surveyFile    = "survey.json"
	locationsFile = "locations.json"
	fixesFile     = "fixes.json"
	mapsFile      = "maps.json"
	mapsDir       = "maps"
	modelsDir     = "models"
	latestModel   = "latest.json"

	// DefaultFixHistory is how many fixes a FileStore keeps.
	DefaultFixHistory = 1000
)

// FileStore keeps everything as JSON files under a data directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex

	// MaxFixes caps the fix history; older fixes are dropped first.
	MaxFixes int
}

type mapEntry struct {
	Floor       string    `json:"floor"`
	File        string    `json:"file"`
	ContentType string    `json:"contentType"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "data"
	}
	for _, sub := range []string{dir, filepath.Join(dir, mapsDir), filepath.Join(dir, modelsDir)} {
		if err := utils.CreateFolder(sub); err != nil {
			return nil, fmt.Errorf("error creating directory: %w", err)
		}
	}
	return &FileStore{dir: dir, MaxFixes: DefaultFixHistory}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(parts ...string) string {
	return filepath.Join(append([]string{s.dir}, parts...)...)
}

// readJSON decodes name into v. A missing or empty file leaves v untouched.
func (s *FileStore) readJSON(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error reading %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error unmarshaling %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling %s: %w", name, err)
	}
	return writeFileAtomic(s.path(name), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("error writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("error replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FileStore) AppendSurveyRecords(_ context.Context, records []locator.SurveyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []locator.SurveyRecord
	if err := s.readJSON(surveyFile, &existing); err != nil {
		return err
	}
	return s.writeJSON(surveyFile, append(existing, records...))
}

func (s *FileStore) LoadSurveyRecords(_ context.Context) ([]locator.SurveyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []locator.SurveyRecord
	if err := s.readJSON(surveyFile, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *FileStore) CountSurveyRecords(ctx context.Context) (int, error) {
	records, err := s.LoadSurveyRecords(ctx)
	return len(records), err
}

func (s *FileStore) SaveMapImage(_ context.Context, floor, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := map[string]mapEntry{}
	if err := s.readJSON(mapsFile, &index); err != nil {
		return err
	}

	name := utils.GenerateUniqueID()
	if err := writeFileAtomic(s.path(mapsDir, name), data); err != nil {
		return err
	}
	if prev, ok := index[floor]; ok {
		os.Remove(s.path(mapsDir, prev.File))
	}

	index[floor] = mapEntry{Floor: floor, File: name, ContentType: contentType, UploadedAt: time.Now().UTC()}
	return s.writeJSON(mapsFile, index)
}

func (s *FileStore) LoadMapImage(_ context.Context, floor string) (models.FloorMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := map[string]mapEntry{}
	if err := s.readJSON(mapsFile, &index); err != nil {
		return models.FloorMap{}, err
	}
	entry, ok := index[floor]
	if !ok {
		return models.FloorMap{}, ErrNotFound
	}

	data, err := os.ReadFile(s.path(mapsDir, entry.File))
	if errors.Is(err, os.ErrNotExist) {
		return models.FloorMap{}, ErrNotFound
	}
	if err != nil {
		return models.FloorMap{}, fmt.Errorf("error reading map image: %w", err)
	}
	return models.FloorMap{
		Floor:       floor,
		ContentType: entry.ContentType,
		Data:        data,
		UploadedAt:  entry.UploadedAt,
	}, nil
}

func (s *FileStore) loadLocations() ([]models.LocationMarker, error) {
	var markers []models.LocationMarker
	if err := s.readJSON(locationsFile, &markers); err != nil {
		return nil, err
	}
	return markers, nil
}

func (s *FileStore) ListLocations(_ context.Context, floor string) ([]models.LocationMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.loadLocations()
	if err != nil {
		return nil, err
	}
	markers := []models.LocationMarker{}
	for _, m := range all {
		if m.Floor == floor {
			markers = append(markers, m)
		}
	}
	return markers, nil
}

func (s *FileStore) ReplaceLocations(_ context.Context, floor string, markers []models.LocationMarker) ([]models.LocationMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocations()
	if err != nil {
		return nil, err
	}

	kept := make([]models.LocationMarker, 0, len(all)+len(markers))
	for _, m := range all {
		if m.Floor != floor {
			kept = append(kept, m)
		}
	}
	stored := make([]models.LocationMarker, 0, len(markers))
	for _, m := range markers {
		m.ID = utils.GenerateUniqueID()
		m.Floor = floor
		stored = append(stored, m)
	}

	if err := s.writeJSON(locationsFile, append(kept, stored...)); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *FileStore) UpdateLocation(_ context.Context, marker models.LocationMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocations()
	if err != nil {
		return err
	}
	for i := range all {
		if all[i].ID == marker.ID {
			all[i].Name = marker.Name
			all[i].X = marker.X
			all[i].Y = marker.Y
			return s.writeJSON(locationsFile, all)
		}
	}
	return ErrNotFound
}

func (s *FileStore) DeleteLocation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadLocations()
	if err != nil {
		return err
	}
	for i := range all {
		if all[i].ID == id {
			return s.writeJSON(locationsFile, append(all[:i], all[i+1:]...))
		}
	}
	return ErrNotFound
}

func (s *FileStore) SaveModel(_ context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path(modelsDir, latestModel), blob)
}

func (s *FileStore) LoadModel(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, err := os.ReadFile(s.path(modelsDir, latestModel))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading model: %w", err)
	}
	return blob, nil
}

// StoreFix appends fix to the history file, keeping only the newest MaxFixes entries.
func (s *FileStore) StoreFix(_ context.Context, fix *models.Fix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fixes []models.Fix
	if err := s.readJSON(fixesFile, &fixes); err != nil {
		return err
	}

	if fix.ID == 0 {
		fix.ID = time.Now().UnixNano()
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now().UTC()
	}

	fixes = append(fixes, *fix)
	if s.MaxFixes > 0 && len(fixes) > s.MaxFixes {
		fixes = fixes[len(fixes)-s.MaxFixes:]
	}
	return s.writeJSON(fixesFile, fixes)
}

func (s *FileStore) ListFixes(_ context.Context, limit int) ([]models.Fix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stored []models.Fix
	if err := s.readJSON(fixesFile, &stored); err != nil {
		return nil, err
	}

	fixes := make([]models.Fix, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		fixes = append(fixes, stored[i])
		if limit > 0 && len(fixes) == limit {
			break
		}
	}
	return fixes, nil
}
