package database

import (
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavour behind a *sql.DB.
type Dialect string

const (
	// Postgres uses lib/pq and $n placeholders.
	Postgres Dialect = "postgres"
	// SQLite uses modernc.org/sqlite and ? placeholders.
	SQLite Dialect = "sqlite"
)

// DriverName returns the database/sql driver name for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

// Rebind rewrites ? placeholders into the dialect's form. Queries must not contain
// literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}
