package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"findmyway/locator"
	"findmyway/models"
	"findmyway/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	if dataSourceName == "" {
		dataSourceName = filepath.Join("data", "findmyway.sqlite3")
	}

	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	statements := map[string]string{
		"survey_records": `
    CREATE TABLE IF NOT EXISTS survey_records (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        source_row INTEGER NOT NULL DEFAULT 0,
        scan_id TEXT NOT NULL DEFAULT '',
        bssid TEXT NOT NULL,
        signal REAL NOT NULL,
        location TEXT NOT NULL
    );
    `,
		"floor_maps": `
    CREATE TABLE IF NOT EXISTS floor_maps (
        floor TEXT PRIMARY KEY,
        content_type TEXT NOT NULL,
        data BLOB NOT NULL,
        uploaded_at DATETIME NOT NULL
    );
    `,
		"locations": `
    CREATE TABLE IF NOT EXISTS locations (
        id TEXT PRIMARY KEY,
        floor TEXT NOT NULL,
        name TEXT NOT NULL,
        x REAL NOT NULL,
        y REAL NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_locations_floor ON locations(floor);
    `,
		"model_generations": `
    CREATE TABLE IF NOT EXISTS model_generations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        artifact BLOB NOT NULL
    );
    `,
		"fixes": `
    CREATE TABLE IF NOT EXISTS fixes (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        device TEXT,
        source TEXT NOT NULL,
        location TEXT NOT NULL,
        confidence REAL NOT NULL DEFAULT 0,
        readings INTEGER NOT NULL DEFAULT 0,
        known_aps INTEGER NOT NULL DEFAULT 0,
        low_confidence INTEGER NOT NULL DEFAULT 0,
        generation TEXT,
        latency_ms REAL NOT NULL DEFAULT 0
    );
    CREATE INDEX IF NOT EXISTS idx_fixes_timestamp ON fixes(timestamp);
    `,
	}

	for _, table := range []string{"survey_records", "floor_maps", "locations", "model_generations", "fixes"} {
		if _, err := db.Exec(statements[table]); err != nil {
			return fmt.Errorf("error creating %s table: %w", table, err)
		}
	}
	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

func (db *SQLiteClient) AppendSurveyRecords(ctx context.Context, records []locator.SurveyRecord) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO survey_records (source_row, scan_id, bssid, signal, location) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.Row, rec.ScanID, rec.APID, rec.Signal, rec.Location); err != nil {
			tx.Rollback()
			return fmt.Errorf("error executing statement: %w", err)
		}
	}

	return tx.Commit()
}

func (db *SQLiteClient) LoadSurveyRecords(ctx context.Context) ([]locator.SurveyRecord, error) {
	rows, err := db.db.QueryContext(ctx, "SELECT source_row, scan_id, bssid, signal, location FROM survey_records ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("error querying survey records: %w", err)
	}
	defer rows.Close()

	var records []locator.SurveyRecord
	for rows.Next() {
		var rec locator.SurveyRecord
		if err := rows.Scan(&rec.Row, &rec.ScanID, &rec.APID, &rec.Signal, &rec.Location); err != nil {
			return nil, fmt.Errorf("error scanning survey record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (db *SQLiteClient) CountSurveyRecords(ctx context.Context) (int, error) {
	var count int
	if err := db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM survey_records").Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting survey records: %w", err)
	}
	return count, nil
}

// SaveMapImage replaces the map stored for floor.
func (db *SQLiteClient) SaveMapImage(ctx context.Context, floor, contentType string, data []byte) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO floor_maps (floor, content_type, data, uploaded_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(floor) DO UPDATE SET content_type = excluded.content_type, data = excluded.data, uploaded_at = excluded.uploaded_at`,
		floor, contentType, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("error storing map image: %w", err)
	}
	return nil
}

func (db *SQLiteClient) LoadMapImage(ctx context.Context, floor string) (models.FloorMap, error) {
	m := models.FloorMap{Floor: floor}
	err := db.db.QueryRowContext(ctx, "SELECT content_type, data, uploaded_at FROM floor_maps WHERE floor = ?", floor).
		Scan(&m.ContentType, &m.Data, &m.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FloorMap{}, ErrNotFound
	}
	if err != nil {
		return models.FloorMap{}, fmt.Errorf("failed to retrieve map image: %w", err)
	}
	return m, nil
}

func (db *SQLiteClient) ListLocations(ctx context.Context, floor string) ([]models.LocationMarker, error) {
	rows, err := db.db.QueryContext(ctx, "SELECT id, floor, name, x, y FROM locations WHERE floor = ? ORDER BY rowid", floor)
	if err != nil {
		return nil, fmt.Errorf("error querying locations: %w", err)
	}
	defer rows.Close()

	markers := []models.LocationMarker{}
	for rows.Next() {
		var m models.LocationMarker
		if err := rows.Scan(&m.ID, &m.Floor, &m.Name, &m.X, &m.Y); err != nil {
			return nil, fmt.Errorf("error scanning location: %w", err)
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// ReplaceLocations drops every marker on floor and inserts markers with fresh ids.
func (db *SQLiteClient) ReplaceLocations(ctx context.Context, floor string, markers []models.LocationMarker) ([]models.LocationMarker, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM locations WHERE floor = ?", floor); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("error clearing locations: %w", err)
	}

	stored := make([]models.LocationMarker, 0, len(markers))
	for _, m := range markers {
		m.ID = utils.GenerateUniqueID()
		m.Floor = floor
		if _, err := tx.ExecContext(ctx, "INSERT INTO locations (id, floor, name, x, y) VALUES (?, ?, ?, ?, ?)",
			m.ID, m.Floor, m.Name, m.X, m.Y); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("error inserting location: %w", err)
		}
		stored = append(stored, m)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

func (db *SQLiteClient) UpdateLocation(ctx context.Context, marker models.LocationMarker) error {
	result, err := db.db.ExecContext(ctx, "UPDATE locations SET name = ?, x = ?, y = ? WHERE id = ?",
		marker.Name, marker.X, marker.Y, marker.ID)
	if err != nil {
		return fmt.Errorf("failed to update location: %w", err)
	}
	return expectAffected(result)
}

func (db *SQLiteClient) DeleteLocation(ctx context.Context, id string) error {
	result, err := db.db.ExecContext(ctx, "DELETE FROM locations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete location: %w", err)
	}
	return expectAffected(result)
}

func expectAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveModel appends a new model generation.
func (db *SQLiteClient) SaveModel(ctx context.Context, blob []byte) error {
	if _, err := db.db.ExecContext(ctx, "INSERT INTO model_generations (artifact) VALUES (?)", blob); err != nil {
		return fmt.Errorf("error storing model: %w", err)
	}
	return nil
}

// LoadModel returns the most recently saved generation.
func (db *SQLiteClient) LoadModel(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := db.db.QueryRowContext(ctx, "SELECT artifact FROM model_generations ORDER BY id DESC LIMIT 1").Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading model: %w", err)
	}
	return blob, nil
}

func (db *SQLiteClient) StoreFix(ctx context.Context, fix *models.Fix) error {
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now().UTC()
	}

	lowConfidence := 0
	if fix.LowConfidence {
		lowConfidence = 1
	}

	result, err := db.db.ExecContext(ctx, `
		INSERT INTO fixes (
			timestamp, device, source, location, confidence,
			readings, known_aps, low_confidence, generation, latency_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fix.Timestamp,
		fix.Device,
		fix.Source,
		fix.Location,
		fix.Confidence,
		fix.Readings,
		fix.KnownAPs,
		lowConfidence,
		fix.Generation,
		fix.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("error storing fix: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		fix.ID = id
	}
	return nil
}

// ListFixes returns the newest fixes first. A non-positive limit returns all.
func (db *SQLiteClient) ListFixes(ctx context.Context, limit int) ([]models.Fix, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, timestamp, device, source, location, confidence,
		       readings, known_aps, low_confidence, generation, latency_ms
		FROM fixes
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying fixes: %w", err)
	}
	defer rows.Close()

	fixes := []models.Fix{}
	for rows.Next() {
		var f models.Fix
		var device, generation sql.NullString
		var lowConfidence int

		err := rows.Scan(
			&f.ID,
			&f.Timestamp,
			&device,
			&f.Source,
			&f.Location,
			&f.Confidence,
			&f.Readings,
			&f.KnownAPs,
			&lowConfidence,
			&generation,
			&f.LatencyMs,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning fix: %w", err)
		}

		f.Device = device.String
		f.Generation = generation.String
		f.LowConfidence = lowConfidence == 1
		fixes = append(fixes, f)
	}

	return fixes, rows.Err()
}
