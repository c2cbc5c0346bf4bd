package transcript

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/fyp-systems/fyp-core/internal/transcript/migrations"
)

// openDB opens the transcript sqlite file at path, configuring every pooled
// connection identically via DSN _pragma parameters (setting PRAGMAs with
// db.Exec only reaches one connection in the pool, which under concurrent
// session writers intermittently loses WAL/busy_timeout and surfaces as
// spurious SQLITE_BUSY errors), then runs pending migrations.
func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite allows one concurrent writer; a small pool avoids SQLITE_BUSY
	// contention while WAL still permits concurrent readers.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func buildDSN(path string) string {
	v := url.Values{}
	v.Set("_pragma", "journal_mode=WAL")
	v.Add("_pragma", "foreign_keys=ON")
	v.Add("_pragma", "busy_timeout=30000")
	v.Add("_pragma", "synchronous=NORMAL")
	v.Add("_txlock", "immediate")
	return path + "?" + v.Encode()
}
