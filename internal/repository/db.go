package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const createTodosTable = `
CREATE TABLE IF NOT EXISTS todos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT,
	completed BOOLEAN DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	completed_at TIMESTAMP NULL
)`

// Options tune how the SQLite file is opened.
type Options struct {
	// BusyTimeout bounds how long a writer waits for the file lock.
	BusyTimeout time.Duration
	Logger      *log.Logger
}

// NewDB opens a SQLite database and makes sure the todos table exists.
// The returned handle owns a single connection; SQLite serializes writers
// and BusyTimeout bounds the wait.
func NewDB(dsn string, opts Options) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "todos.db"
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	cfg := &gorm.Config{Logger: logger.Discard}
	if opts.Logger != nil {
		cfg.Logger = logger.New(
			opts.Logger.WithPrefix("gorm"),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	}

	db, err := gorm.Open(sqlite.Open(withPragmas(dsn, opts.BusyTimeout)), cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec(createTodosTable).Error; err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create todos table: %w", err)
	}

	return db, nil
}

// withPragmas appends driver connection parameters to dsn.
func withPragmas(dsn string, busy time.Duration) string {
	var params []string
	if busy > 0 {
		params = append(params, fmt.Sprintf("_busy_timeout=%d", busy.Milliseconds()))
	}
	if !isMemoryDSN(dsn) {
		params = append(params, "_journal_mode=WAL")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if isMemoryDSN(dsn) {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}
