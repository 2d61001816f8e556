// Package dbpkg provides database support functionality.
package dbpkg

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// SQLInterface provides necessary db methods to perform transactions and queries.
type SQLInterface interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Builder is the statement builder all repositories construct their queries
// with. Repositories never embed raw query text.
var Builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
