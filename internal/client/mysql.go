package client

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
	mcpdb "github.com/AbdelilahOu/mcp-clickhouse/pkg"
)

func mysqlDSN(conn config.Connection) string {
	if conn.URL != "" {
		return conn.URL
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = conn.Address()
	cfg.User = conn.Username
	cfg.Passwd = conn.Password
	cfg.DBName = conn.Database
	cfg.ParseTime = true
	if conn.Secure {
		cfg.TLSConfig = "true"
	}
	return cfg.FormatDSN()
}

func openMySQL(conn config.Connection) (*sql.DB, error) {
	return sql.Open("mysql", mysqlDSN(conn))
}

type mysqlDialect struct{}

func (mysqlDialect) Type() config.DBType { return config.MySQL }

func (mysqlDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) ReadOnly(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context, q sqlx.QueryerContext) error) error {
	return readOnlyTx(ctx, db, fn)
}

func (mysqlDialect) ListDatabasesQuery() string {
	return "SHOW DATABASES"
}

func (mysqlDialect) ListTablesQuery(withLike bool) string {
	query := "SELECT table_name FROM information_schema.tables WHERE table_schema = ?"
	if withLike {
		query += " AND table_name LIKE ?"
	}
	return query + " ORDER BY table_name"
}

func (mysqlDialect) DescribeTableQuery(database, table string) (string, []any) {
	return `SELECT
			column_name AS name,
			column_type AS type,
			is_nullable,
			COALESCE(column_default, '') AS default_expression,
			column_key,
			extra
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, []any{database, table}
}

// CreateTableStatement reads the second column of SHOW CREATE TABLE, which
// holds the DDL for tables and views alike.
func (d mysqlDialect) CreateTableStatement(ctx context.Context, q sqlx.QueryerContext, database, table string, _ []mcpdb.Row) (string, error) {
	query := fmt.Sprintf("SHOW CREATE TABLE %s.%s", d.QuoteIdentifier(database), d.QuoteIdentifier(table))
	rows, err := q.QueryxContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", sql.ErrNoRows
	}
	values, err := rows.SliceScan()
	if err != nil {
		return "", err
	}
	if len(values) < 2 {
		return "", fmt.Errorf("unexpected SHOW CREATE TABLE result with %d columns", len(values))
	}
	switch v := values[1].(type) {
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func (mysqlDialect) ExplainQuery(query string) string {
	return "EXPLAIN FORMAT=JSON " + query
}

func (mysqlDialect) ServerInfo(ctx context.Context, q sqlx.QueryerContext) (mcpdb.ServerInfo, error) {
	info := mcpdb.ServerInfo{Type: string(config.MySQL)}
	err := q.QueryRowxContext(ctx, "SELECT VERSION(), COALESCE(DATABASE(), '')").
		Scan(&info.Version, &info.CurrentDatabase)
	return info, err
}

func (mysqlDialect) TableStats(ctx context.Context, q sqlx.QueryerContext, database, table string) (mcpdb.TableStats, error) {
	stats := mcpdb.TableStats{Database: database, Table: table}
	err := q.QueryRowxContext(ctx, `SELECT
			COALESCE(table_rows, 0),
			COALESCE(data_length, 0) + COALESCE(index_length, 0)
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, database, table).
		Scan(&stats.Rows, &stats.Bytes)
	return stats, err
}
