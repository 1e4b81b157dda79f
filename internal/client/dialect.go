package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
	mcpdb "github.com/AbdelilahOu/mcp-clickhouse/pkg"
)

// Dialect holds the engine specific SQL the client needs.
type Dialect interface {
	// Type returns the engine the dialect speaks for.
	Type() config.DBType

	// QuoteIdentifier quotes a database, schema or table name.
	QuoteIdentifier(name string) string

	// ReadOnly runs fn with the engine's read-only guard in place.
	ReadOnly(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context, q sqlx.QueryerContext) error) error

	// ListDatabasesQuery returns a query yielding one name per row.
	ListDatabasesQuery() string

	// ListTablesQuery takes the database and, when withLike is set, a LIKE
	// pattern as bind arguments.
	ListTablesQuery(withLike bool) string

	// DescribeTableQuery returns a query yielding one row per column.
	DescribeTableQuery(database, table string) (string, []any)

	// CreateTableStatement returns the DDL that recreates the table.
	CreateTableStatement(ctx context.Context, q sqlx.QueryerContext, database, table string, columns []mcpdb.Row) (string, error)

	// ExplainQuery wraps a statement into the engine's EXPLAIN form.
	ExplainQuery(query string) string

	ServerInfo(ctx context.Context, q sqlx.QueryerContext) (mcpdb.ServerInfo, error)

	TableStats(ctx context.Context, q sqlx.QueryerContext, database, table string) (mcpdb.TableStats, error)
}

// DialectFor returns the dialect of the given engine.
func DialectFor(t config.DBType) (Dialect, error) {
	switch t {
	case config.ClickHouse:
		return clickhouseDialect{}, nil
	case config.Postgres:
		return postgresDialect{}, nil
	case config.MySQL:
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
}

// readOnlyTx runs fn inside a READ ONLY transaction that is always rolled
// back.
func readOnlyTx(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context, q sqlx.QueryerContext) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(ctx, tx)
}

func scanStrings(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]string, error) {
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, value)
	}
	return result, rows.Err()
}

// scanRows reads rows into column keyed maps. With maxRows > 0 it stops
// after that many rows and reports whether more were available.
func scanRows(rows *sqlx.Rows, maxRows int) (*mcpdb.QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("error getting columns: %w", err)
	}

	result := &mcpdb.QueryResult{
		Columns: columns,
		Rows:    []mcpdb.Row{},
	}
	for rows.Next() {
		if maxRows > 0 && len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		row := make(map[string]any, len(columns))
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		result.Rows = append(result.Rows, mcpdb.Row(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}
