package credentials

import (
	"strings"

	"github.com/pricesync/pricesync/pkg/errors"
)

// Open returns a store for the given DATABASE_URL.
//
//	memory://                   in-memory store
//	sqlite:///./pricesync.db    SQLite file (relative path)
//	sqlite:////var/lib/x.db     SQLite file (absolute path)
//	postgres://user@host/db     PostgreSQL
func Open(dsn string) (Store, error) {
	switch {
	case dsn == "memory://" || dsn == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if strings.HasPrefix(path, "/") {
			path = path[1:]
		}
		if path == "" {
			return nil, errors.NewConfigError("database", "sqlite url has no path", nil)
		}
		return OpenSQLite(path)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(dsn)
	case dsn == "":
		return nil, errors.NewConfigError("database", "DATABASE_URL is empty", nil)
	default:
		return nil, errors.NewConfigError("database", "unsupported DATABASE_URL scheme: "+scheme(dsn), nil)
	}
}

func scheme(dsn string) string {
	if i := strings.Index(dsn, "://"); i > 0 {
		return dsn[:i]
	}
	return dsn
}
