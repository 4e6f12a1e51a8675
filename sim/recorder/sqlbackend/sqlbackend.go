// Package sqlbackend persists recorder rows into a SQL database through sqlx.
// SQLite (modernc.org/sqlite, pure Go) is the default; a postgres:// or
// postgresql:// DSN selects PostgreSQL through the pgx stdlib driver.
//
// Every table's schema, including type tags and shapes, is kept in a
// _schema metadata table so that Query can rebuild typed rows in a later
// process.
package sqlbackend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/cycsim/cycsim/sim/recorder"
)

// Dialect selects SQL column types for each recorder type tag.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const schemaTable = "_schema"

// Backend is a recorder.Backend and recorder.Queryable over a SQL database.
type Backend struct {
	db      *sqlx.DB
	dialect Dialect
	dsn     string
	schemas map[string]recorder.Schema
}

// Open connects to dsn, creating the metadata table if needed.
func Open(dsn string) (*Backend, error) {
	driver, source, dialect := resolve(dsn)
	db, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One writer; keeps in-memory databases on a single connection.
		db.SetMaxOpenConns(1)
	}
	b := &Backend{db: db, dialect: dialect, dsn: dsn, schemas: make(map[string]recorder.Schema)}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logrus.Debugf("sqlbackend: opened %s output %s", dialect, dsn)
	return b, nil
}

// IsSQLOutput reports whether an output path should be handled by this package.
func IsSQLOutput(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") ||
		strings.HasSuffix(lower, ".sqlite") || strings.HasSuffix(lower, ".sqlite3") ||
		strings.HasSuffix(lower, ".db") || path == ":memory:"
}

func resolve(dsn string) (driver, source string, dialect Dialect) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "pgx", dsn, DialectPostgres
	}
	if dsn == ":memory:" {
		return "sqlite", dsn, DialectSQLite
	}
	return "sqlite", dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", DialectSQLite
}

func (b *Backend) Name() string { return string(b.dialect) + ":" + b.dsn }

// Dialect returns the SQL flavor in use.
func (b *Backend) Dialect() Dialect { return b.dialect }

func (b *Backend) migrate() error {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS ` + schemaTable + ` (
		tbl   TEXT NOT NULL,
		pos   INTEGER NOT NULL,
		name  TEXT NOT NULL,
		type  TEXT NOT NULL,
		shape TEXT NOT NULL,
		PRIMARY KEY (tbl, pos)
	)`)
	return err
}

// Notify creates the table on first sight and inserts the batch in one transaction.
func (b *Backend) Notify(table string, schema recorder.Schema, rows []recorder.Row) error {
	if err := b.ensureTable(table, schema); err != nil {
		return err
	}
	tx, err := b.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cols := make([]string, len(schema))
	marks := make([]string, len(schema))
	for i, c := range schema {
		cols[i] = quote(c.Name)
		marks[i] = "?"
	}
	stmt, err := tx.Preparex(b.db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table), strings.Join(cols, ", "), strings.Join(marks, ", "))))
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	args := make([]any, len(schema))
	for _, row := range rows {
		for i, c := range schema {
			v, err := encode(c.Type, row[i])
			if err != nil {
				return fmt.Errorf("table %s column %s: %w", table, c.Name, err)
			}
			args[i] = v
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (b *Backend) ensureTable(table string, schema recorder.Schema) error {
	if known, ok := b.schemas[table]; ok {
		if !known.Equal(schema) {
			return fmt.Errorf("%w: table %s changed schema", recorder.ErrSchemaMismatch, table)
		}
		return nil
	}
	defs := make([]string, len(schema))
	for i, c := range schema {
		defs[i] = quote(c.Name) + " " + b.sqlType(c.Type)
	}
	tx, err := b.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(table), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	if _, err := tx.Exec(b.db.Rebind("DELETE FROM "+schemaTable+" WHERE tbl = ?"), table); err != nil {
		return err
	}
	for i, c := range schema {
		shape, _ := json.Marshal(c.Shape)
		if _, err := tx.Exec(b.db.Rebind("INSERT INTO "+schemaTable+" (tbl, pos, name, type, shape) VALUES (?, ?, ?, ?, ?)"),
			table, i, c.Name, string(c.Type), string(shape)); err != nil {
			return fmt.Errorf("record schema of %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	b.schemas[table] = schema
	return nil
}

// loadSchema reads a table schema from the metadata table.
func (b *Backend) loadSchema(table string) (recorder.Schema, error) {
	if s, ok := b.schemas[table]; ok {
		return s, nil
	}
	type colRow struct {
		Name  string `db:"name"`
		Type  string `db:"type"`
		Shape string `db:"shape"`
	}
	var cols []colRow
	if err := b.db.Select(&cols, b.db.Rebind("SELECT name, type, shape FROM "+schemaTable+" WHERE tbl = ? ORDER BY pos"), table); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no such table %q", table)
	}
	schema := make(recorder.Schema, len(cols))
	for i, c := range cols {
		var shape []int
		if err := json.Unmarshal([]byte(c.Shape), &shape); err != nil {
			return nil, fmt.Errorf("table %s column %s: bad shape: %w", table, c.Name, err)
		}
		schema[i] = recorder.Column{Name: c.Name, Type: recorder.TypeTag(c.Type), Shape: shape}
	}
	b.schemas[table] = schema
	return schema, nil
}

// Query returns the exact row set of table matching conds.
func (b *Backend) Query(table string, conds []recorder.Cond) (*recorder.QueryResult, error) {
	schema, err := b.loadSchema(table)
	if err != nil {
		return nil, err
	}
	var where []string
	var args []any
	for _, c := range conds {
		idx := schema.Index(c.Column)
		if idx < 0 {
			return nil, fmt.Errorf("unknown column %q", c.Column)
		}
		if !recorder.ValidOps[c.Op] {
			return nil, fmt.Errorf("unknown operator %q", c.Op)
		}
		op := string(c.Op)
		if c.Op == recorder.OpEq {
			op = "="
		} else if c.Op == recorder.OpNe {
			op = "<>"
		}
		v, err := encode(schema[idx].Type, c.Value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Column, err)
		}
		where = append(where, quote(c.Column)+" "+op+" ?")
		args = append(args, v)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", columnList(schema), quote(table))
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if b.dialect == DialectSQLite {
		q += " ORDER BY rowid"
	}
	rows, err := b.db.Queryx(b.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	res := &recorder.QueryResult{Schema: schema}
	for rows.Next() {
		raw, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		row := make(recorder.Row, len(raw))
		for i, v := range raw {
			if row[i], err = decode(schema[i].Type, v); err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", table, schema[i].Name, err)
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

// Close releases the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

func columnList(schema recorder.Schema) string {
	cols := make([]string, len(schema))
	for i, c := range schema {
		cols[i] = quote(c.Name)
	}
	return strings.Join(cols, ", ")
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (b *Backend) sqlType(tag recorder.TypeTag) string {
	pg := b.dialect == DialectPostgres
	switch tag {
	case recorder.TypeBool:
		if pg {
			return "BOOLEAN"
		}
		return "INTEGER"
	case recorder.TypeInt:
		if pg {
			return "BIGINT"
		}
		return "INTEGER"
	case recorder.TypeFloat:
		return "REAL"
	case recorder.TypeDouble:
		if pg {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case recorder.TypeBlob:
		if pg {
			return "BYTEA"
		}
		return "BLOB"
	default:
		// strings, uuids and JSON-encoded containers
		return "TEXT"
	}
}

// encode converts a row value into a driver value for its column tag.
func encode(tag recorder.TypeTag, v any) (any, error) {
	switch tag {
	case recorder.TypeUUID:
		switch x := v.(type) {
		case uuid.UUID:
			return x.String(), nil
		case string:
			return x, nil
		}
		return nil, fmt.Errorf("expected uuid, got %T", v)
	case recorder.TypeVectorInt, recorder.TypeVectorDouble, recorder.TypeVectorString,
		recorder.TypeMapIntDouble, recorder.TypeMapStrDouble:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return v, nil
	}
}

// decode converts a scanned driver value back into the Go type of its tag.
func decode(tag recorder.TypeTag, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch tag {
	case recorder.TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		}
	case recorder.TypeInt:
		if x, ok := v.(int64); ok {
			return int(x), nil
		}
	case recorder.TypeFloat:
		switch x := v.(type) {
		case float64:
			return float32(x), nil
		case float32:
			return x, nil
		}
	case recorder.TypeDouble:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		}
	case recorder.TypeString:
		return asString(v), nil
	case recorder.TypeBlob:
		if x, ok := v.([]byte); ok {
			return x, nil
		}
	case recorder.TypeUUID:
		return uuid.Parse(asString(v))
	case recorder.TypeVectorInt:
		return unmarshalAs[[]int](v)
	case recorder.TypeVectorDouble:
		return unmarshalAs[[]float64](v)
	case recorder.TypeVectorString:
		return unmarshalAs[[]string](v)
	case recorder.TypeMapIntDouble:
		return unmarshalAs[map[int]float64](v)
	case recorder.TypeMapStrDouble:
		return unmarshalAs[map[string]float64](v)
	}
	return nil, fmt.Errorf("cannot decode %T as %s", v, tag)
}

func unmarshalAs[T any](v any) (any, error) {
	var out T
	if err := json.Unmarshal([]byte(asString(v)), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
