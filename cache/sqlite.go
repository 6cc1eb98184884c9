package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"audio-forensics/sonar"
	"audio-forensics/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// SQLiteCache memoizes analysis results. Analysis is deterministic for a given
// waveform, configuration and classifier, so a hit can be returned as is.
type SQLiteCache struct {
	db *sql.DB
}

// Entry is one cached row without the result payload.
type Entry struct {
	Key            string    `json:"key"`
	Filename       string    `json:"filename,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Duration       float64   `json:"duration"`
	DetectedSounds int       `json:"detectedSounds"`
}

func NewSQLiteCache(dataSourceName string) (*SQLiteCache, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" && !strings.HasPrefix(dbPath, "file:") {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating cache directory: %w", err)
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

	return &SQLiteCache{db: db}, nil
}

func createTables(db *sql.DB) error {
	createCacheTable := `
    CREATE TABLE IF NOT EXISTS analysis_cache (
        key TEXT PRIMARY KEY,
        filename TEXT,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        duration REAL NOT NULL DEFAULT 0,
        detected_sounds INTEGER NOT NULL DEFAULT 0,
        result TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_analysis_cache_created ON analysis_cache(created_at);
    `

	if _, err := db.Exec(createCacheTable); err != nil {
		return fmt.Errorf("error creating analysis_cache table: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Key hashes the audio payload together with everything that changes the result.
// Workers is excluded because results do not depend on it.
func Key(audio []byte, cfg sonar.Config, classifier string) (string, error) {
	cfg.Workers = 0
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("error marshaling config: %w", err)
	}

	h := sha256.New()
	h.Write(audio)
	h.Write([]byte{0})
	h.Write(cfgJSON)
	h.Write([]byte{0})
	h.Write([]byte(classifier))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns the cached result for key. The bool is false on a miss.
func (c *SQLiteCache) Get(key string) (*sonar.AnalysisResult, bool, error) {
	var resultJSON string
	err := c.db.QueryRow(`SELECT result FROM analysis_cache WHERE key = ?`, key).Scan(&resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error reading cache entry: %w", err)
	}

	var result sonar.AnalysisResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, false, fmt.Errorf("error unmarshaling cached result: %w", err)
	}
	return &result, true, nil
}

// Put stores result under key, replacing any previous row.
func (c *SQLiteCache) Put(key, filename string, result *sonar.AnalysisResult) error {
	if result == nil {
		return errors.New("nil result")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("error marshaling result: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO analysis_cache (key, filename, created_at, duration, detected_sounds, result)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key,
		filename,
		time.Now().UTC(),
		result.Duration,
		result.DetectedSounds,
		string(resultJSON),
	)
	if err != nil {
		return fmt.Errorf("error storing cache entry: %w", err)
	}
	return nil
}

// Entries lists cached rows, newest first.
func (c *SQLiteCache) Entries() ([]Entry, error) {
	rows, err := c.db.Query(`
		SELECT key, filename, created_at, duration, detected_sounds
		FROM analysis_cache
		ORDER BY created_at DESC, key
	`)
	if err != nil {
		return nil, fmt.Errorf("error querying cache entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var filename sql.NullString
		if err := rows.Scan(&e.Key, &filename, &e.CreatedAt, &e.Duration, &e.DetectedSounds); err != nil {
			return nil, fmt.Errorf("error scanning cache entry: %w", err)
		}
		e.Filename = filename.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries created before cutoff and returns how many were removed.
func (c *SQLiteCache) Prune(cutoff time.Time) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM analysis_cache WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("error pruning cache: %w", err)
	}
	return res.RowsAffected()
}
