package store

import (
	"strconv"
	"strings"
)

// Dialect covers the few SQL differences between the supported drivers.
type Dialect interface {
	Name() string
	// InsertReturningID appends whatever the driver needs to hand back the new row id.
	InsertReturningID(query string) string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string                          { return "sqlite" }
func (sqliteDialect) InsertReturningID(query string) string { return query }

type postgresDialect struct{}

func (postgresDialect) Name() string                          { return "postgres" }
func (postgresDialect) InsertReturningID(query string) string { return query + " RETURNING id" }

// Rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
