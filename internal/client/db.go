package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/logger"
	mcpdb "github.com/AbdelilahOu/mcp-clickhouse/pkg"
)

// DBClient is a pooled connection to one configured database.
type DBClient struct {
	db      *sqlx.DB
	dialect Dialect
	conn    config.Connection
}

// NewDBClient opens the connection described by conn and pings it.
func NewDBClient(ctx context.Context, conn config.Connection) (*DBClient, error) {
	var (
		db  *sql.DB
		err error
	)
	switch conn.Type {
	case config.ClickHouse:
		db, err = openClickHouse(conn)
	case config.Postgres:
		db, err = openPostgres(conn)
	case config.MySQL:
		db, err = openMySQL(conn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, conn.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", conn.Type, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	c, err := NewFromDB(db, conn)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := c.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", conn.Type, err)
	}
	return c, nil
}

// NewFromDB wraps an already opened database handle.
func NewFromDB(db *sql.DB, conn config.Connection) (*DBClient, error) {
	dialect, err := DialectFor(conn.Type)
	if err != nil {
		return nil, err
	}
	return &DBClient{
		db:      sqlx.NewDb(db, string(conn.Type)),
		dialect: dialect,
		conn:    conn,
	}, nil
}

func (c *DBClient) Name() string { return c.conn.Name }

func (c *DBClient) Type() config.DBType { return c.conn.Type }

func (c *DBClient) Connection() config.Connection { return c.conn }

func (c *DBClient) Close() error {
	return c.db.Close()
}

// Ping checks the connection and reports the round trip time.
func (c *DBClient) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := c.db.PingContext(ctx)
	return time.Since(start), err
}

// Select runs a single read-only statement. With maxRows > 0 the result is
// capped and marked truncated.
func (c *DBClient) Select(ctx context.Context, query string, maxRows int) (*mcpdb.QueryResult, error) {
	if err := checkReadOnly(query, lexersFor(c.dialect.Type())); err != nil {
		return nil, err
	}

	var result *mcpdb.QueryResult
	err := c.dialect.ReadOnly(ctx, c.db, func(ctx context.Context, q sqlx.QueryerContext) error {
		rows, err := q.QueryxContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		result, err = scanRows(rows, maxRows)
		return err
	})
	if err != nil {
		logger.LogDatabaseOperation("SELECT", query, 0, err)
		return nil, err
	}

	logger.LogDatabaseOperation("SELECT", query, int64(result.RowCount), nil)
	return result, nil
}

// Exec runs a single statement that modifies data and returns the number of
// affected rows when the driver reports it.
func (c *DBClient) Exec(ctx context.Context, query string) (int64, error) {
	if c.conn.ReadOnly {
		return 0, fmt.Errorf("%w: %s", ErrReadOnlyConnection, c.conn.Name)
	}
	if err := checkWritable(query, lexersFor(c.dialect.Type())); err != nil {
		return 0, err
	}

	res, err := c.db.ExecContext(ctx, query)
	if err != nil {
		logger.LogDatabaseOperation(StatementKind(query), query, 0, err)
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}

	logger.LogDatabaseOperation(StatementKind(query), query, affected, nil)
	return affected, nil
}

func (c *DBClient) ListDatabases(ctx context.Context) ([]string, error) {
	query := c.dialect.ListDatabasesQuery()
	databases, err := scanStrings(ctx, c.db, query)
	if err != nil {
		logger.LogDatabaseOperation("LIST_DATABASES", query, 0, err)
		return nil, err
	}
	logger.LogDatabaseOperation("LIST_DATABASES", query, int64(len(databases)), nil)
	return databases, nil
}

// ListTables returns table names in database, filtered by a LIKE pattern
// when like is not empty.
func (c *DBClient) ListTables(ctx context.Context, database, like string) ([]string, error) {
	args := []any{database}
	if like != "" {
		args = append(args, like)
	}
	query := c.dialect.ListTablesQuery(like != "")

	tables, err := scanStrings(ctx, c.db, query, args...)
	if err != nil {
		logger.LogDatabaseOperation("LIST_TABLES", query, 0, err)
		return nil, err
	}
	logger.LogDatabaseOperation("LIST_TABLES", query, int64(len(tables)), nil)
	return tables, nil
}

// DescribeTable returns the column rows and CREATE statement of a table.
func (c *DBClient) DescribeTable(ctx context.Context, database, table string) (*mcpdb.TableInfo, error) {
	query, args := c.dialect.DescribeTableQuery(database, table)
	rows, err := c.db.QueryxContext(ctx, query, args...)
	if err != nil {
		logger.LogDatabaseOperation("DESCRIBE_TABLE", query, 0, err)
		return nil, err
	}
	columns, err := scanRows(rows, 0)
	rows.Close()
	if err != nil {
		return nil, err
	}

	create, err := c.dialect.CreateTableStatement(ctx, c.db, database, table, columns.Rows)
	if err != nil {
		logger.LogDatabaseOperation("SHOW_CREATE_TABLE", table, 0, err)
		return nil, fmt.Errorf("create statement: %w", err)
	}

	logger.LogDatabaseOperation("DESCRIBE_TABLE", query, int64(columns.RowCount), nil)
	return &mcpdb.TableInfo{
		Database:         database,
		Name:             table,
		Columns:          columns.Rows,
		CreateTableQuery: create,
	}, nil
}

// DescribeTables describes every table with at most limit lookups in
// flight. The result keeps the order of tables. The first failure cancels
// the remaining lookups.
func (c *DBClient) DescribeTables(ctx context.Context, database string, tables []string, limit int) ([]mcpdb.TableInfo, error) {
	out := make([]mcpdb.TableInfo, len(tables))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, table := range tables {
		g.Go(func() error {
			info, err := c.DescribeTable(ctx, database, table)
			if err != nil {
				return fmt.Errorf("describe %s.%s: %w", database, table, err)
			}
			out[i] = *info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Explain returns the engine's plan for a read-only statement. A leading
// EXPLAIN in query is dropped. JSON plans are indented.
func (c *DBClient) Explain(ctx context.Context, query string) (string, error) {
	query = trimExplain(query)
	if err := checkReadOnly(query, lexersFor(c.dialect.Type())); err != nil {
		return "", err
	}
	explain := c.dialect.ExplainQuery(query)

	var lines []string
	err := c.dialect.ReadOnly(ctx, c.db, func(ctx context.Context, q sqlx.QueryerContext) error {
		rows, err := q.QueryxContext(ctx, explain)
		if err != nil {
			return err
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("failed to get columns: %w", err)
		}
		for rows.Next() {
			values, err := rows.SliceScan()
			if err != nil {
				return fmt.Errorf("scan error: %w", err)
			}
			lines = append(lines, formatPlanRow(columns, values))
		}
		return rows.Err()
	})
	if err != nil {
		logger.LogDatabaseOperation("EXPLAIN", explain, 0, err)
		return "", err
	}
	logger.LogDatabaseOperation("EXPLAIN", explain, int64(len(lines)), nil)

	plan := strings.Join(lines, "\n")
	if trimmed := strings.TrimSpace(plan); strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		var planJSON any
		if err := json.Unmarshal([]byte(trimmed), &planJSON); err == nil {
			if formatted, err := json.MarshalIndent(planJSON, "", "  "); err == nil {
				plan = string(formatted)
			}
		}
	}
	return plan, nil
}

func formatPlanRow(columns []string, values []any) string {
	parts := make([]string, 0, len(values))
	for i, val := range values {
		var s string
		switch v := val.(type) {
		case nil:
			s = "NULL"
		case []byte:
			s = string(v)
		default:
			s = fmt.Sprint(v)
		}
		if len(columns) == 1 {
			parts = append(parts, s)
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", columns[i], s))
		}
	}
	return strings.Join(parts, " | ")
}

func (c *DBClient) ServerInfo(ctx context.Context) (*mcpdb.ServerInfo, error) {
	info, err := c.dialect.ServerInfo(ctx, c.db)
	if err != nil {
		return nil, fmt.Errorf("server info: %w", err)
	}
	databases, err := c.ListDatabases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	info.DatabaseCount = len(databases)
	return &info, nil
}

func (c *DBClient) TableStats(ctx context.Context, database, table string) (*mcpdb.TableStats, error) {
	stats, err := c.dialect.TableStats(ctx, c.db, database, table)
	if err != nil {
		logger.LogDatabaseOperation("TABLE_STATS", database+"."+table, 0, err)
		return nil, err
	}
	if stats.Bytes > 0 {
		stats.BytesReadable = humanize.Bytes(uint64(stats.Bytes))
	} else {
		stats.BytesReadable = humanize.Bytes(0)
	}
	logger.LogDatabaseOperation("TABLE_STATS", database+"."+table, stats.Rows, nil)
	return &stats, nil
}
