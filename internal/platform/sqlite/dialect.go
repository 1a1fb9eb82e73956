package sqlite

// Dialect adapts the shared task store SQL to SQLite. SQLite accepts ?
// placeholders natively.
type Dialect struct{}

// Name returns the dialect name used to select migrations.
func (Dialect) Name() string { return "sqlite" }

// Rebind returns query unchanged.
func (Dialect) Rebind(query string) string { return query }

// MapError implements the dialect error mapping with MapError.
func (Dialect) MapError(err error) error { return MapError(err) }
