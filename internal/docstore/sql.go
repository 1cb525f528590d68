package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	sqlDocumentTableName = "liftrelay_documents"
	sqlOperationTimeout  = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqlDialect struct {
	driver    string
	blobType  string
	timestamp string
	now       string
}

var (
	postgresDialect = sqlDialect{driver: "postgres", blobType: "BYTEA", timestamp: "TIMESTAMPTZ", now: "NOW()"}
	sqliteDialect   = sqlDialect{driver: "sqlite3", blobType: "BLOB", timestamp: "TEXT", now: "CURRENT_TIMESTAMP"}
)

func (d sqlDialect) placeholder(n int) string {
	if d.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SQLStore keeps documents in a single table keyed by path. Each write
// assigns a fresh random version, and conditional writes compare it in the
// WHERE clause.
type SQLStore struct {
	dsn       string
	dialect   sqlDialect
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", ErrInvalidDSN)
	}
	return &SQLStore{dsn: dsn, dialect: postgresDialect, tableName: sqlDocumentTableName, openDB: sql.Open}, nil
}

func NewSQLiteStore(file string) (*SQLStore, error) {
	file = strings.TrimSpace(file)
	if file == "" {
		return nil, fmt.Errorf("%w: sqlite file is required", ErrInvalidDSN)
	}
	return &SQLStore{dsn: file, dialect: sqliteDialect, tableName: sqlDocumentTableName, openDB: sql.Open}, nil
}

func (s *SQLStore) Get(ctx context.Context, p string) (Document, error) {
	p, err := cleanDocumentPath(p)
	if err != nil {
		return Document{}, err
	}
	if err := s.ensureReady(); err != nil {
		return Document{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT content, version FROM %s WHERE path = %s", quoteIdentifier(s.tableName), s.dialect.placeholder(1))
	var (
		content []byte
		version string
	)
	err = s.db.QueryRowContext(ctx, query, p).Scan(&content, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return Document{}, &StoreError{Op: "get", Path: p, Message: err.Error()}
	}
	return Document{Path: p, Content: content, Version: version}, nil
}

func (s *SQLStore) Put(ctx context.Context, p string, content []byte, expectedVersion string) (string, error) {
	p, err := cleanDocumentPath(p)
	if err != nil {
		return "", err
	}
	if err := s.ensureReady(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	table := quoteIdentifier(s.tableName)
	version := uuid.NewString()
	var res sql.Result
	if expectedVersion == "" {
		query := fmt.Sprintf(`
			INSERT INTO %s (path, content, version, updated_at)
			VALUES (%s, %s, %s, %s)
			ON CONFLICT (path) DO NOTHING`,
			table, s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3), s.dialect.now)
		res, err = s.db.ExecContext(ctx, query, p, content, version)
	} else {
		query := fmt.Sprintf(`
			UPDATE %s SET content = %s, version = %s, updated_at = %s
			WHERE path = %s AND version = %s`,
			table, s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.now, s.dialect.placeholder(3), s.dialect.placeholder(4))
		res, err = s.db.ExecContext(ctx, query, content, version, p, expectedVersion)
	}
	if err != nil {
		return "", &StoreError{Op: "put", Path: p, Message: err.Error()}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", &StoreError{Op: "put", Path: p, Message: err.Error()}
	}
	if affected == 0 {
		return "", &ConflictError{Path: p, ExpectedVersion: expectedVersion, CurrentVersion: s.currentVersion(ctx, p)}
	}
	return version, nil
}

func (s *SQLStore) List(ctx context.Context, p string) ([]Entry, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	prefix := ""
	if p != "" {
		prefix = p + "/"
	}
	// The database measures the prefix itself; substr counts characters.
	query := fmt.Sprintf("SELECT path, version FROM %s WHERE substr(path, 1, length(CAST(%s AS TEXT))) = %s",
		quoteIdentifier(s.tableName), s.dialect.placeholder(1), s.dialect.placeholder(2))
	rows, err := s.db.QueryContext(ctx, query, prefix, prefix)
	if err != nil {
		return nil, &StoreError{Op: "list", Path: p, Message: err.Error()}
	}
	defer rows.Close()
	versions := map[string]string{}
	for rows.Next() {
		var docPath, version string
		if err := rows.Scan(&docPath, &version); err != nil {
			return nil, &StoreError{Op: "list", Path: p, Message: err.Error()}
		}
		versions[docPath] = version
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Path: p, Message: err.Error()}
	}
	entries := childEntries(p, versions)
	if len(entries) > 0 || p == "" {
		return entries, nil
	}
	if version := s.currentVersion(ctx, p); version != "" {
		return []Entry{{Name: path.Base(p), Path: p, Type: EntryFile, Version: version}}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
}

func (s *SQLStore) Delete(ctx context.Context, p, version string) error {
	p, err := cleanDocumentPath(p)
	if err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE path = %s AND version = %s",
		quoteIdentifier(s.tableName), s.dialect.placeholder(1), s.dialect.placeholder(2))
	res, err := s.db.ExecContext(ctx, query, p, version)
	if err != nil {
		return &StoreError{Op: "delete", Path: p, Message: err.Error()}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &StoreError{Op: "delete", Path: p, Message: err.Error()}
	}
	if affected > 0 {
		return nil
	}
	current := s.currentVersion(ctx, p)
	if current == "" {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return &ConflictError{Path: p, ExpectedVersion: version, CurrentVersion: current}
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) currentVersion(ctx context.Context, p string) string {
	query := fmt.Sprintf("SELECT version FROM %s WHERE path = %s", quoteIdentifier(s.tableName), s.dialect.placeholder(1))
	var version string
	if err := s.db.QueryRowContext(ctx, query, p).Scan(&version); err != nil {
		return ""
	}
	return version
}

func (s *SQLStore) ensureReady() error {
	if s == nil {
		return fmt.Errorf("%w: nil sql store", ErrInvalidDSN)
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		if s.dialect.driver == sqliteDialect.driver {
			db.SetMaxOpenConns(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				path TEXT PRIMARY KEY,
				content %s NOT NULL,
				version TEXT NOT NULL,
				updated_at %s NOT NULL DEFAULT %s
			)`, quoteIdentifier(s.tableName), s.dialect.blobType, s.dialect.timestamp, s.dialect.now)
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
