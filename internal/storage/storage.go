package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite audit trail of runs, operations and frame outcomes.
// It is write-mostly; the engine never reloads state from it.
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
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            instructions TEXT,
            input_path TEXT,
            output_path TEXT,
            status TEXT NOT NULL,
            required_bytes INTEGER DEFAULT 0,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            completed_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS operations (
            id TEXT PRIMARY KEY,
            run_id TEXT,
            seq INTEGER,
            name TEXT NOT NULL,
            kind TEXT NOT NULL,
            status TEXT NOT NULL,
            message TEXT,
            error_message TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS frame_results (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            operation_id TEXT NOT NULL,
            source_path TEXT NOT NULL,
            output_path TEXT,
            status TEXT NOT NULL,
            step_code INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS master_files (
            run_id TEXT NOT NULL,
            group_index INTEGER NOT NULL,
            master_key TEXT NOT NULL,
            path TEXT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (run_id, group_index, master_key)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_operations_run_id ON operations(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_frame_results_operation_id ON frame_results(operation_id);`,
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

// RunRecord captures a persisted pipeline run.
type RunRecord struct {
	ID            string
	Instructions  string
	InputPath     string
	OutputPath    string
	Status        string
	RequiredBytes int64
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// OperationRecord captures a persisted queue entry.
type OperationRecord struct {
	ID          string
	RunID       string
	Seq         int
	Name        string
	Kind        string
	Status      string
	Message     string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// FrameRecord captures the outcome of one frame inside an operation.
type FrameRecord struct {
	OperationID string
	Source      string
	Output      string
	Status      string
	StepCode    int
}

// RecordRunStart inserts a running pipeline run.
func (s *Store) RecordRunStart(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO runs (id, instructions, input_path, output_path, status) VALUES (?, ?, ?, ?, 'running');`,
		rec.ID, rec.Instructions, rec.InputPath, rec.OutputPath)
	return err
}

// RecordRunResult finalizes a run.
func (s *Store) RecordRunResult(id, status string, requiredBytes int64) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE runs SET status=?, required_bytes=?, completed_at=CURRENT_TIMESTAMP WHERE id=?;`, status, requiredBytes, id)
	return err
}

// RecordOperationQueued inserts a pending operation.
func (s *Store) RecordOperationQueued(rec OperationRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO operations (id, run_id, seq, name, kind, status) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.RunID, rec.Seq, rec.Name, rec.Kind, rec.Status)
	return err
}

// RecordOperationStart marks an operation as running.
func (s *Store) RecordOperationStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE operations SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordOperationResult finalizes an operation with status, message and meta.
func (s *Store) RecordOperationResult(id, status, message string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE operations SET status=?, message=?, error_message=?, meta_json=?, completed_at=CURRENT_TIMESTAMP WHERE id=?;`,
		status, message, errMsg, string(metaJSON), id)
	return err
}

// RecordFrameResult appends a frame outcome.
func (s *Store) RecordFrameResult(rec FrameRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO frame_results (operation_id, source_path, output_path, status, step_code) VALUES (?, ?, ?, ?, ?);`,
		rec.OperationID, rec.Source, rec.Output, rec.Status, rec.StepCode)
	return err
}

// RecordMasterFile stores a master cache write for later inspection.
func (s *Store) RecordMasterFile(runID string, groupIndex int, key, path string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO master_files (run_id, group_index, master_key, path) VALUES (?, ?, ?, ?);`,
		runID, groupIndex, key, path)
	return err
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, instructions, input_path, output_path, status, required_bytes, created_at, completed_at FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var completed sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Instructions, &rec.InputPath, &rec.OutputPath, &rec.Status, &rec.RequiredBytes, &rec.CreatedAt, &completed); err != nil {
			return nil, err
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunOperations returns the operations of a run in queue order.
func (s *Store) RunOperations(runID string) ([]OperationRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, run_id, seq, name, kind, status, message, error_message, created_at, started_at, completed_at FROM operations WHERE run_id=? ORDER BY seq;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []OperationRecord
	for rows.Next() {
		var rec OperationRecord
		var message, errorMsg sql.NullString
		var started, completed sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Seq, &rec.Name, &rec.Kind, &rec.Status, &message, &errorMsg, &rec.CreatedAt, &started, &completed); err != nil {
			return nil, err
		}
		rec.Message = message.String
		rec.Error = errorMsg.String
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// OperationFrames returns the frame outcomes of an operation.
func (s *Store) OperationFrames(operationID string) ([]FrameRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT operation_id, source_path, output_path, status, step_code FROM frame_results WHERE operation_id=? ORDER BY id;`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []FrameRecord
	for rows.Next() {
		var rec FrameRecord
		var output sql.NullString
		var code sql.NullInt64
		if err := rows.Scan(&rec.OperationID, &rec.Source, &output, &rec.Status, &code); err != nil {
			return nil, err
		}
		rec.Output = output.String
		rec.StepCode = int(code.Int64)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// OperationMeta fetches the meta blob of an operation.
func (s *Store) OperationMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON sql.NullString
	if err := s.DB.QueryRow(`SELECT meta_json FROM operations WHERE id=?;`, id).Scan(&metaJSON); err != nil {
		return nil, err
	}
	if !metaJSON.Valid || metaJSON.String == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}
