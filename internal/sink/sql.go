package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/broadinstitute/cpg/internal/record"
)

// Dialect selects the SQL flavor of a SQL sink.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// maxParams bounds the placeholders in one INSERT statement.
const maxParams = 32766

// SQL appends measured rows to a table in Postgres or SQLite. Each Append
// runs in its own transaction.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	table   string
	builder sq.StatementBuilderType
	columns []string
}

// OpenSQL opens a database with the driver for dialect.
func OpenSQL(dialect Dialect, dsn, table string) (*SQL, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// SQLite allows one writer; concurrent partitions queue on the pool.
		db.SetMaxOpenConns(1)
	}
	return NewSQL(db, dialect, table), nil
}

// NewSQL wraps an open database.
func NewSQL(db *sql.DB, dialect Dialect, table string) *SQL {
	s := &SQL{
		db:      db,
		dialect: dialect,
		table:   pq.QuoteIdentifier(table),
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
	if dialect == Postgres {
		s.builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	for _, name := range record.Columns() {
		s.columns = append(s.columns, pq.QuoteIdentifier(name))
	}
	return s
}

// DDL returns the CREATE TABLE statement for the measured schema.
func (s *SQL) DDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", s.table)
	for i, c := range record.Schema() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", s.columns[i], s.columnType(c.Type))
	}
	b.WriteString(")")
	return b.String()
}

func (s *SQL) columnType(t record.ColumnType) string {
	var typ string
	switch t {
	case record.String, record.NullableString:
		typ = "TEXT"
	case record.Int64, record.NullableInt64:
		typ = "BIGINT"
	case record.Bool, record.NullableBool:
		typ = "BOOLEAN"
	case record.NullableTimestampMillis:
		typ = "TIMESTAMP"
		if s.dialect == Postgres {
			typ = "TIMESTAMPTZ"
		}
	case record.StringList:
		typ = "TEXT"
		if s.dialect == Postgres {
			typ = "TEXT[]"
		}
	default:
		panic(fmt.Sprintf("sink: no sql type for %s", t))
	}
	if !t.Nullable() {
		typ += " NOT NULL"
	}
	return typ
}

func (s *SQL) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.DDL()); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Append inserts rows in one transaction, using multi-row INSERT statements.
func (s *SQL) Append(ctx context.Context, rows []record.Measured) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	chunk := max(maxParams/len(s.columns), 1)
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		query, args, err := s.insert(rows[start:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert rows %d-%d: %w", start, end, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQL) insert(rows []record.Measured) (string, []any, error) {
	qb := s.builder.Insert(s.table).Columns(s.columns...)
	for i := range rows {
		values := rows[i].Values()
		for j, v := range values {
			values[j] = s.convert(v)
		}
		qb = qb.Values(values...)
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build insert: %w", err)
	}
	return query, args, nil
}

func (s *SQL) convert(v any) any {
	list, ok := v.([]string)
	if !ok {
		return v
	}
	if s.dialect == Postgres {
		return pq.Array(list)
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil
	}
	return string(b)
}

// Commit is a no-op: every Append commits its own transaction.
func (s *SQL) Commit(ctx context.Context) error { return nil }

func (s *SQL) Abort(ctx context.Context) error { return nil }

func (s *SQL) Close() error {
	return s.db.Close()
}
