package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        accuracy REAL,
        train_accuracy REAL,
        trained_at DATETIME,
        data_points INTEGER
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT,
        feature1 REAL,
        feature2 REAL,
        feature3 REAL,
        feature4 REAL,
        predicted_label INTEGER,
        confidence REAL,
        timestamp DATETIME
    );
    `

// Store keeps training runs and served predictions in SQLite.
type Store struct {
	db *sql.DB
}

type TrainingLog struct {
	ModelName     string    `json:"model_name"`
	Accuracy      float64   `json:"accuracy"`
	TrainAccuracy float64   `json:"train_accuracy"`
	TrainedAt     time.Time `json:"trained_at"`
	DataPoints    int       `json:"data_points"`
}

type PredictionRecord struct {
	RequestID   string
	Features    [4]float64
	Label       int
	Probability float64
	Timestamp   time.Time
}

// Open creates the database file and its tables if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: database}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (model_name, accuracy, train_accuracy, trained_at, data_points)
        VALUES (?, ?, ?, ?, ?)`,
		log.ModelName, log.Accuracy, log.TrainAccuracy, log.TrainedAt.UTC(), log.DataPoints)
	return err
}

// LoadTrainingLog returns all runs, newest first.
func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, accuracy, train_accuracy, trained_at, data_points
        FROM training_log
        ORDER BY trained_at DESC, id DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.Accuracy, &log.TrainAccuracy, &log.TrainedAt, &log.DataPoints); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) SavePrediction(ctx context.Context, rec PredictionRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (
            request_id, feature1, feature2, feature3, feature4, predicted_label, confidence, timestamp
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Features[0], rec.Features[1], rec.Features[2], rec.Features[3],
		rec.Label, rec.Probability, rec.Timestamp.UTC())
	return err
}

func (s *Store) CountPredictions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&count)
	return count, err
}
