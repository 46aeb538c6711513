// Package store persists careers, courses and exams in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Driver selects the database engine.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver accepts "sqlite" and "postgres" (or "pgx", "postgresql").
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(s) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

var (
	ErrNotFound       = errors.New("not found")
	ErrCourseNotFound = errors.New("course not found")
	ErrConflict       = errors.New("already exists")
	// ErrInUse means a delete was refused because other rows still refer to
	// the record.
	ErrInUse = errors.New("still referenced")
	// ErrSchemaVersion means the database was created by an incompatible
	// release.
	ErrSchemaVersion = errors.New("unsupported schema version")

	errForeignKey = errors.New("foreign key violation")
)

const schemaVersion = "1"

type Store struct {
	db     *sql.DB
	driver Driver
	now    func() time.Time
}

// Open connects to the database and creates the schema if needed. For SQLite
// dsn is a file path, ":memory:", or a full "file:" URI.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var (
		drvName string
		memory  bool
	)
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		memory = dsn == ":memory:"
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/examgen?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "examgen.db"
	}
	if strings.HasPrefix(path, "file:") {
		return path
	}
	q := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		q += "&_pragma=journal_mode(WAL)"
	}
	return "file:" + path + "?" + q
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the engine in use.
func (s *Store) Driver() Driver { return s.driver }

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	v, err := s.GetMeta(ctx, "schema_version")
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != "" && v != schemaVersion {
		return fmt.Errorf("%w: database has %s, want %s", ErrSchemaVersion, v, schemaVersion)
	}
	return s.SetMeta(ctx, "schema_version", schemaVersion)
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS careers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS courses (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS course_careers (
	course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
	career_id TEXT NOT NULL REFERENCES careers(id),
	PRIMARY KEY (course_id, career_id)
);

CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	course_id TEXT REFERENCES courses(id),
	questions TEXT NOT NULL,
	pdf_url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS exams_course_idx ON exams(course_id);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS careers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS courses (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS course_careers (
	course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
	career_id TEXT NOT NULL REFERENCES careers(id),
	PRIMARY KEY (course_id, career_id)
);

CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	course_id TEXT REFERENCES courses(id),
	questions TEXT NOT NULL,
	pdf_url TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS exams_course_idx ON exams(course_id);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)
`

// classify maps driver constraint errors onto ErrConflict and errForeignKey.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %w", errForeignKey, err)
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23503":
			return fmt.Errorf("%w: %w", errForeignKey, err)
		case "23505":
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
	}
	return err
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// checkAffected turns an update or delete that matched no row into ErrNotFound.
func checkAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
