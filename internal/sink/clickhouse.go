package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/broadinstitute/cpg/internal/record"
)

type ClickHouseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Table    string
}

// ClickHouse appends measured rows to a MergeTree table. It is shared by
// all partitions of a run.
type ClickHouse struct {
	conn  driver.Conn
	table string
}

func NewClickHouse(ctx context.Context, cfg ClickHouseConfig, logger *slog.Logger) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Logger: logger,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouse{conn: conn, table: cfg.Table}, nil
}

// ClickHouseDDL returns the CREATE TABLE statement for the measured schema.
func ClickHouseDDL(table string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quoteBacktick(table))
	for i, c := range record.Schema() {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "    %s %s", quoteBacktick(c.Name), clickHouseType(c.Type))
	}
	b.WriteString("\n) ENGINE = MergeTree ORDER BY (`bucket`, `key`)")
	return b.String()
}

func clickHouseType(t record.ColumnType) string {
	switch t {
	case record.String:
		return "String"
	case record.NullableString:
		return "Nullable(String)"
	case record.Int64:
		return "Int64"
	case record.NullableInt64:
		return "Nullable(Int64)"
	case record.Bool:
		return "Bool"
	case record.NullableBool:
		return "Nullable(Bool)"
	case record.NullableTimestampMillis:
		return "Nullable(DateTime64(3, 'UTC'))"
	case record.StringList:
		return "Array(String)"
	}
	panic(fmt.Sprintf("sink: no clickhouse type for %s", t))
}

func quoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (c *ClickHouse) EnsureTable(ctx context.Context) error {
	if err := c.conn.Exec(ctx, ClickHouseDDL(c.table)); err != nil {
		return fmt.Errorf("create table %s: %w", c.table, err)
	}
	return nil
}

func (c *ClickHouse) Append(ctx context.Context, rows []record.Measured) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+quoteBacktick(c.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for i := range rows {
		if err := batch.Append(rows[i].Values()...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append row %q: %w", rows[i].Key, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Commit is a no-op: every Append is sent immediately.
func (c *ClickHouse) Commit(ctx context.Context) error { return nil }

func (c *ClickHouse) Abort(ctx context.Context) error { return nil }

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
