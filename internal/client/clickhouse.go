package client

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
	mcpdb "github.com/AbdelilahOu/mcp-clickhouse/pkg"
)

const clickhouseDialTimeout = 10 * time.Second

// clickhouseOptions maps a configured connection onto driver options.
// Query deadlines come from the caller's context, not server settings,
// since readonly=1 forbids changing settings per query.
func clickhouseOptions(conn config.Connection) (*clickhouse.Options, error) {
	var opts *clickhouse.Options
	if conn.URL != "" {
		parsed, err := clickhouse.ParseDSN(conn.URL)
		if err != nil {
			return nil, fmt.Errorf("parse clickhouse url: %w", err)
		}
		opts = parsed
	} else {
		opts = &clickhouse.Options{
			Addr: []string{conn.Address()},
			Auth: clickhouse.Auth{
				Database: conn.Database,
				Username: conn.Username,
				Password: conn.Password,
			},
			Protocol: clickhouse.HTTP,
		}
		if conn.Protocol == config.ProtocolNative {
			opts.Protocol = clickhouse.Native
		}
		if conn.Secure {
			opts.TLS = &tls.Config{ServerName: conn.Host}
		}
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = clickhouseDialTimeout
	}
	return opts, nil
}

func openClickHouse(conn config.Connection) (*sql.DB, error) {
	opts, err := clickhouseOptions(conn)
	if err != nil {
		return nil, err
	}
	return clickhouse.OpenDB(opts), nil
}

type clickhouseDialect struct{}

func (clickhouseDialect) Type() config.DBType { return config.ClickHouse }

func (clickhouseDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ReadOnly sets readonly=1 on every query issued by fn.
func (clickhouseDialect) ReadOnly(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context, q sqlx.QueryerContext) error) error {
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"readonly": 1,
	}))
	return fn(ctx, db)
}

func (clickhouseDialect) ListDatabasesQuery() string {
	return "SHOW DATABASES"
}

func (clickhouseDialect) ListTablesQuery(withLike bool) string {
	query := "SELECT name FROM system.tables WHERE database = ? AND NOT is_temporary"
	if withLike {
		query += " AND name LIKE ?"
	}
	return query + " ORDER BY name"
}

func (d clickhouseDialect) DescribeTableQuery(database, table string) (string, []any) {
	return fmt.Sprintf("DESCRIBE TABLE %s.%s", d.QuoteIdentifier(database), d.QuoteIdentifier(table)), nil
}

func (d clickhouseDialect) CreateTableStatement(ctx context.Context, q sqlx.QueryerContext, database, table string, _ []mcpdb.Row) (string, error) {
	var stmt string
	query := fmt.Sprintf("SHOW CREATE TABLE %s.%s", d.QuoteIdentifier(database), d.QuoteIdentifier(table))
	if err := q.QueryRowxContext(ctx, query).Scan(&stmt); err != nil {
		return "", err
	}
	return stmt, nil
}

func (clickhouseDialect) ExplainQuery(query string) string {
	return "EXPLAIN " + query
}

func (clickhouseDialect) ServerInfo(ctx context.Context, q sqlx.QueryerContext) (mcpdb.ServerInfo, error) {
	info := mcpdb.ServerInfo{Type: string(config.ClickHouse)}
	var uptime int64
	err := q.QueryRowxContext(ctx, "SELECT version(), currentDatabase(), toInt64(uptime())").
		Scan(&info.Version, &info.CurrentDatabase, &uptime)
	if err != nil {
		return info, err
	}
	info.UptimeSeconds = &uptime
	return info, nil
}

func (clickhouseDialect) TableStats(ctx context.Context, q sqlx.QueryerContext, database, table string) (mcpdb.TableStats, error) {
	stats := mcpdb.TableStats{Database: database, Table: table}
	var parts int64
	err := q.QueryRowxContext(ctx, `
		SELECT
			toInt64(sum(rows)),
			toInt64(sum(bytes_on_disk)),
			toInt64(count())
		FROM system.parts
		WHERE active AND database = ? AND table = ?`, database, table).
		Scan(&stats.Rows, &stats.Bytes, &parts)
	if err != nil {
		return stats, err
	}
	stats.Parts = &parts
	return stats, nil
}
