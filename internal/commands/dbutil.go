package commands

import (
	"database/sql"
	"log/slog"

	"github.com/callin2/agent-memory-sub006/internal/app"
	"github.com/callin2/agent-memory-sub006/internal/models"
	"github.com/callin2/agent-memory-sub006/internal/output"
	"github.com/callin2/agent-memory-sub006/internal/store"
)

// DB is an alias so command code doesn't need to import database/sql.
type DB = sql.DB

type printedError struct {
	err error
}

func (e printedError) Error() string {
	// The JSON error envelope on stdout is the real output.
	return "error already printed"
}

func (e printedError) Unwrap() error { return e.err }

func openDB() (*DB, func(), error) {
	dbPath, err := app.GetDBPath()
	if err != nil {
		return nil, nil, err
	}

	db, err := store.InitDBWithPath(dbPath)
	if err != nil {
		return nil, nil, err
	}

	return db, func() { _ = db.Close() }, nil
}

func withDB(fn func(db *DB) error) error {
	db, closeDB, err := openDB()
	if err != nil {
		return cmdErr(err)
	}
	defer closeDB()

	if err := fn(db); err != nil {
		return cmdErr(err)
	}
	return nil
}

// cmdErr emits the JSON error envelope on stdout, logs the structured detail
// on stderr, and returns a sentinel so root.Execute doesn't double-report.
func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	_ = output.PrintError(err)
	slog.Error("command error", "error", err.Error(), "kind", string(models.KindOf(err)))
	return printedError{err: err}
}
