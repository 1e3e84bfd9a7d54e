package credentials

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // sqlite driver

	"github.com/pricesync/pricesync/pkg/errors"
)

// Dialect selects placeholder style and connection setup.
type Dialect string

const (
	// DialectSQLite uses modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres uses the pgx stdlib driver.
	DialectPostgres Dialect = "postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS jobber_connections (
	jobber_account_id TEXT PRIMARY KEY,
	jobber_account_name TEXT NOT NULL DEFAULT '',
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	access_token_expires_at BIGINT,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
)`

const selectColumns = `jobber_account_id, jobber_account_name, access_token, refresh_token,
	access_token_expires_at, created_at, updated_at`

// SQLStore is a Store backed by database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLite opens (creating if needed) a SQLite credential database.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := initSQLite(path)
	if err != nil {
		return nil, errors.WrapIO("open", path, err)
	}
	return newSQLStore(db, DialectSQLite)
}

// OpenPostgres connects to PostgreSQL using a postgres:// DSN.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.NewConfigError("database", "invalid postgres dsn", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.WrapResource("connect", "database", "postgres", err)
	}
	return newSQLStore(db, DialectPostgres)
}

func newSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapResource("migrate", "database", string(dialect), err)
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func initSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Dialect reports the backend in use.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, accountID string) (*Credential, error) {
	q := s.rebind(`SELECT ` + selectColumns + ` FROM jobber_connections WHERE jobber_account_id = ?`)

	cred, err := scanCredential(s.db.QueryRowContext(ctx, q, accountID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("credential", accountID)
	}
	if err != nil {
		return nil, errors.WrapResource("get", "credential", accountID, err)
	}
	return cred, nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context) ([]Credential, error) {
	q := `SELECT ` + selectColumns + ` FROM jobber_connections ORDER BY jobber_account_id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.WrapResource("list", "credential", "", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, errors.WrapResource("list", "credential", "", err)
		}
		out = append(out, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapResource("list", "credential", "", err)
	}
	return out, nil
}

// Upsert implements Store. created_at survives reconnects.
func (s *SQLStore) Upsert(ctx context.Context, cred Credential) error {
	if cred.AccountID == "" {
		return errors.NewValidationError("account_id", cred.AccountID, "cannot be empty")
	}

	q := s.rebind(`INSERT INTO jobber_connections (
		jobber_account_id, jobber_account_name, access_token, refresh_token,
		access_token_expires_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (jobber_account_id) DO UPDATE SET
		jobber_account_name = excluded.jobber_account_name,
		access_token = excluded.access_token,
		refresh_token = excluded.refresh_token,
		access_token_expires_at = excluded.access_token_expires_at,
		updated_at = excluded.updated_at`)

	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, q,
		cred.AccountID, cred.AccountName, cred.AccessToken, cred.RefreshToken,
		unixOrNull(cred.ExpiresAt), now, now)
	return errors.WrapResource("upsert", "credential", cred.AccountID, err)
}

// UpdateTokens implements Store as a single UPDATE statement.
func (s *SQLStore) UpdateTokens(ctx context.Context, accountID string, tokens Tokens) error {
	q := s.rebind(`UPDATE jobber_connections
		SET access_token = ?, refresh_token = ?, access_token_expires_at = ?, updated_at = ?
		WHERE jobber_account_id = ?`)

	res, err := s.db.ExecContext(ctx, q,
		tokens.AccessToken, tokens.RefreshToken, unixOrNull(tokens.ExpiresAt), s.now().Unix(), accountID)
	if err != nil {
		return errors.WrapResource("update", "credential", accountID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapResource("update", "credential", accountID, err)
	}
	if n == 0 {
		return errors.NewNotFoundError("credential", accountID)
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, accountID string) error {
	q := s.rebind(`DELETE FROM jobber_connections WHERE jobber_account_id = ?`)

	_, err := s.db.ExecContext(ctx, q, accountID)
	return errors.WrapResource("delete", "credential", accountID, err)
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}

	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCredential(row scannable) (*Credential, error) {
	var (
		c         Credential
		expiresAt sql.NullInt64
		createdAt int64
		updatedAt int64
	)

	err := row.Scan(&c.AccountID, &c.AccountName, &c.AccessToken, &c.RefreshToken,
		&expiresAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		c.ExpiresAt = &t
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &c, nil
}

func unixOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
