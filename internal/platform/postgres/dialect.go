package postgres

import (
	"strconv"
	"strings"
)

// Dialect adapts the shared task store SQL to PostgreSQL.
type Dialect struct{}

// Name returns the dialect name used to select migrations.
func (Dialect) Name() string { return "postgres" }

// Rebind rewrites ? placeholders into PostgreSQL's positional $N form.
// Queries must not contain literal question marks.
func (Dialect) Rebind(query string) string {
	n := strings.Count(query, "?")
	if n == 0 {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + n*2)
	arg := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		arg++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(arg))
	}
	return b.String()
}

// MapError implements the dialect error mapping with MapError.
func (Dialect) MapError(err error) error { return MapError(err) }
