package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrReadOnlyLMS is returned when LMS tables would be written on a database
// owned by the LMS itself.
var ErrReadOnlyLMS = errors.New("LMS tables are read-only on this driver")

var (
	validPrefix = regexp.MustCompile(`^[a-z0-9_]*$`)
	tableRef    = regexp.MustCompile(`\{([a-z_]+)\}`)
)

// Store reads LMS tables and keeps the report's own tables.
//
// With the sqlite driver the store owns the whole database, including a copy
// of the LMS tables filled by ImportSnapshot. With the postgres driver it
// reads a live LMS database and only creates its own report_* tables.
type Store struct {
	db     *sql.DB
	driver string
	prefix string
}

// New opens the database and creates missing tables.
func New(driver, dsn, prefix string) (*Store, error) {
	if !validPrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}

	var db *sql.DB
	var err error
	switch driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			// :memory: databases exist per connection.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, driver: driver, prefix: prefix}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.driver
}

// q expands {table} references with the table prefix and rewrites ?
// placeholders for postgres.
func (s *Store) q(query string) string {
	query = tableRef.ReplaceAllString(query, s.prefix+"$1")
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := reportSchemaSQLite
	if s.driver == DriverPostgres {
		schema = reportSchemaPostgres
	} else {
		schema = lmsSchemaSQLite + schema
	}
	_, err := s.db.ExecContext(ctx, s.q(schema))
	return err
}

// Tables owned by the report itself.
const reportSchemaSQLite = `
	CREATE TABLE IF NOT EXISTS {report_viewers} (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher',
		lms_user_id INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS {report_auth_sessions} (
		id TEXT PRIMARY KEY,
		viewer_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (viewer_id) REFERENCES {report_viewers}(id)
	);

	CREATE TABLE IF NOT EXISTS {report_imported_files} (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
`

const reportSchemaPostgres = `
	CREATE TABLE IF NOT EXISTS {report_viewers} (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher',
		lms_user_id BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS {report_auth_sessions} (
		id TEXT PRIMARY KEY,
		viewer_id BIGINT NOT NULL REFERENCES {report_viewers}(id),
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS {report_imported_files} (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at TIMESTAMPTZ NOT NULL
	);
`

// The subset of the LMS schema the report reads, for self-contained
// sqlite deployments.
const lmsSchemaSQLite = `
	CREATE TABLE IF NOT EXISTS {course} (
		id INTEGER PRIMARY KEY,
		shortname TEXT NOT NULL DEFAULT '',
		fullname TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS {user} (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		firstname TEXT NOT NULL DEFAULT '',
		lastname TEXT NOT NULL DEFAULT '',
		deleted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS {role} (
		id INTEGER PRIMARY KEY,
		shortname TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS {context} (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contextlevel INTEGER NOT NULL,
		instanceid INTEGER NOT NULL,
		UNIQUE (contextlevel, instanceid)
	);

	CREATE TABLE IF NOT EXISTS {role_assignments} (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		roleid INTEGER NOT NULL,
		contextid INTEGER NOT NULL,
		userid INTEGER NOT NULL,
		UNIQUE (roleid, contextid, userid)
	);

	CREATE TABLE IF NOT EXISTS {modules} (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS {course_modules} (
		id INTEGER PRIMARY KEY,
		course INTEGER NOT NULL,
		module INTEGER NOT NULL,
		instance INTEGER NOT NULL,
		availability TEXT
	);

	CREATE TABLE IF NOT EXISTS {quiz} (
		id INTEGER PRIMARY KEY,
		course INTEGER NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS {quiz_attempts} (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		quiz INTEGER NOT NULL,
		userid INTEGER NOT NULL,
		attempt INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT 'inprogress',
		UNIQUE (quiz, userid, attempt)
	);

	CREATE TABLE IF NOT EXISTS {groups} (
		id INTEGER PRIMARY KEY,
		courseid INTEGER NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS {groups_members} (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		groupid INTEGER NOT NULL,
		userid INTEGER NOT NULL,
		UNIQUE (groupid, userid)
	);

	CREATE TABLE IF NOT EXISTS {config} (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		value TEXT NOT NULL
	);
`
