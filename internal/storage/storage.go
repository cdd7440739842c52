package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for jobs and frames.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS frames (
            field TEXT NOT NULL,
            filter TEXT NOT NULL,
            wave INTEGER,
            sci_path TEXT,
            wht_path TEXT,
            zeropoint REAL,
            width INTEGER,
            height INTEGER,
            status TEXT,
            dx INTEGER,
            dy INTEGER,
            matches INTEGER,
            fit_rms REAL,
            skip_reason TEXT,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (field, filter)
        );`,
		`CREATE TABLE IF NOT EXISTS inbox_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            file_path TEXT NOT NULL,
            event_time TIMESTAMP NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_frames_field ON frames(field);`,
		`CREATE INDEX IF NOT EXISTS idx_inbox_events_path ON inbox_events(file_path);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Frame pipeline stages.
const (
	FrameSplit      = "split"
	FrameBkgSub     = "bkgsub"
	FrameExtracted  = "extracted"
	FrameRegistered = "registered"
	FrameSkipped    = "skipped"
)

// FrameRecord tracks one frame of a field through the pipeline.
type FrameRecord struct {
	Field      string
	Filter     string
	Wave       int
	SciPath    string
	WhtPath    string
	Zeropoint  float64
	Width      int
	Height     int
	Status     string // one of the Frame* stage constants
	DX, DY     int
	Matches    int
	FitRMS     float64
	SkipReason string
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// UpsertFrame records a frame after the split stage, replacing any
// earlier state for the same field and filter.
func (s *Store) UpsertFrame(rec FrameRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO frames (field, filter, wave, sci_path, wht_path, zeropoint, width, height, status, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);`,
		rec.Field, rec.Filter, rec.Wave, rec.SciPath, rec.WhtPath, rec.Zeropoint, rec.Width, rec.Height, rec.Status)
	return err
}

// SetFrameStatus advances a frame through the pipeline stages.
func (s *Store) SetFrameStatus(field, filter, status string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE frames SET status=?, updated_at=CURRENT_TIMESTAMP WHERE field=? AND filter=?;`, status, field, filter)
	return err
}

// RecordRegistration stores the outcome of the registration stage for a
// frame: either the fitted offset or the skip reason.
func (s *Store) RecordRegistration(rec FrameRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE frames SET status=?, dx=?, dy=?, matches=?, fit_rms=?, skip_reason=?, updated_at=CURRENT_TIMESTAMP WHERE field=? AND filter=?;`,
		rec.Status, rec.DX, rec.DY, rec.Matches, rec.FitRMS, rec.SkipReason, rec.Field, rec.Filter)
	return err
}

// FramesForField lists the recorded frames of a field ordered by
// wavelength.
func (s *Store) FramesForField(field string) ([]FrameRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT field, filter, wave, sci_path, wht_path, zeropoint, width, height, status, COALESCE(dx,0), COALESCE(dy,0), COALESCE(matches,0), COALESCE(fit_rms,0), COALESCE(skip_reason,'') FROM frames WHERE field=? ORDER BY wave;`, field)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []FrameRecord
	for rows.Next() {
		var rec FrameRecord
		if err := rows.Scan(&rec.Field, &rec.Filter, &rec.Wave, &rec.SciPath, &rec.WhtPath, &rec.Zeropoint, &rec.Width, &rec.Height, &rec.Status, &rec.DX, &rec.DY, &rec.Matches, &rec.FitRMS, &rec.SkipReason); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Fields lists the distinct fields seen so far.
func (s *Store) Fields() ([]string, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT DISTINCT field FROM frames ORDER BY field;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// RecordInboxEvent logs an i2d product arrival noticed by the watcher.
func (s *Store) RecordInboxEvent(path string, at time.Time) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO inbox_events (file_path, event_time) VALUES (?, ?);`, path, at)
	return err
}
