//go:build !cgo_sqlite
// +build !cgo_sqlite

package docstore

import (
	"database/sql/driver"
	"errors"
	"fmt"

	sqlite "modernc.org/sqlite"
)

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(
		"regexp",
		2,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			re, ok := args[0].(string)
			if !ok {
				return nil, errors.New("expected argv[0] to be text")
			}
			var s string
			switch arg1 := args[1].(type) {
			case string:
				s = arg1
			case []byte:
				s = string(arg1)
			case nil:
				return false, nil
			default:
				return nil, errors.New("expected argv[1] to be text")
			}
			return matchRegexp(re, s)
		},
	)
}

const SQLiteDriverName = "sqlite"

func sqliteDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		path, busyTimeoutMillis,
	)
}
