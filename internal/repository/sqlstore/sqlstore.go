// Package sqlstore implements the repository interfaces on top of sqlx for
// postgres, mysql and sqlite.
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentx/aitalk/internal/models"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectMySQL
	dialectSQLite
)

func dialectOf(db *sqlx.DB) dialect {
	switch db.DriverName() {
	case "mysql":
		return dialectMySQL
	case "sqlite", "sqlite3":
		return dialectSQLite
	default:
		return dialectPostgres
	}
}

type base struct {
	db      *sqlx.DB
	dialect dialect
	now     func() time.Time
}

func newBase(db *sqlx.DB) base {
	return base{db: db, dialect: dialectOf(db), now: time.Now}
}

// rebind converts ? placeholders to the driver's bind style.
func (b base) rebind(query string) string {
	if b.dialect == dialectPostgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// timeArg renders a timestamp the way the column stores it.
func (b base) timeArg(t time.Time) any {
	if b.dialect == dialectSQLite {
		return models.NaiveTimestamp(t)
	}
	return t.UTC()
}

// insertReturningID runs an INSERT and returns the new row id. ok is false
// when the statement inserted nothing.
func (b base) insertReturningID(ctx context.Context, ext sqlx.ExtContext, query string, args ...any) (id int64, ok bool, err error) {
	if b.dialect == dialectMySQL {
		res, err := ext.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, false, err
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return 0, false, err
		}
		id, err = res.LastInsertId()
		return id, err == nil, err
	}

	err = ext.QueryRowxContext(ctx, b.rebind(query+" RETURNING id"), args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
