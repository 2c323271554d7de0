package docstore

import (
	"database/sql"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// busyTimeoutMillis applies to ordinary statements. Schema upgrades use
// upgradeBusyTimeoutMillis so a lock held elsewhere surfaces quickly.
const (
	busyTimeoutMillis        = 5000
	upgradeBusyTimeoutMillis = 250
)

var regexCache = cache.New(2*time.Minute, 5*time.Minute)

// matchRegexp backs the regexp() SQL function registered by both drivers.
func matchRegexp(re, s string) (bool, error) {
	if !strings.HasPrefix(re, "(?") {
		re = "(?is)" + re
	}

	if cached, found := regexCache.Get(re); found {
		return cached.(*regexp.Regexp).MatchString(s), nil
	}
	compiled, err := regexp.Compile(re)
	if err != nil {
		return false, err
	}
	regexCache.Set(re, compiled, cache.DefaultExpiration)
	return compiled.MatchString(s), nil
}

// NewSQLiteDB opens the database file with the pragmas every connection needs.
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	slog.Info("opening SQLite DB", "dbPath", dbPath)
	db, err := sql.Open(SQLiteDriverName, sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
