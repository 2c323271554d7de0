//go:build cgo_sqlite
// +build cgo_sqlite

package docstore

import (
	"database/sql"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

const SQLiteDriverName = "sqlite3_lectio"

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", func(re, s string) (bool, error) {
				return matchRegexp(re, s)
			}, true)
		},
	})
}

func sqliteDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on&_synchronous=NORMAL&_txlock=immediate",
		path, busyTimeoutMillis,
	)
}
