package relational

import (
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/lib/pq"
)

// OpenDatabase opens a PostgreSQL connection pool for the relational
// backend and wraps it in a goqu database handle so the dialect's
// identifier quoting is available wherever callers build ad-hoc SQL
// alongside Builder's rendered queries (e.g. schema introspection,
// administrative queries outside the QueryBuilder contract).
func OpenDatabase(dsn string) (*goqu.Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(50)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}
	return goqu.New("postgres", db), nil
}
