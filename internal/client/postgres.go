package client

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
	mcpdb "github.com/AbdelilahOu/mcp-clickhouse/pkg"
)

func postgresDSN(conn config.Connection) string {
	if conn.URL != "" {
		return conn.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   conn.Address(),
		Path:   "/" + conn.Database,
	}
	if conn.Username != "" {
		u.User = url.UserPassword(conn.Username, conn.Password)
	}
	q := url.Values{}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func openPostgres(conn config.Connection) (*sql.DB, error) {
	return sql.Open("postgres", postgresDSN(conn))
}

// postgresDialect maps databases onto schemas of the connected database.
type postgresDialect struct{}

func (postgresDialect) Type() config.DBType { return config.Postgres }

func (postgresDialect) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func (postgresDialect) ReadOnly(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context, q sqlx.QueryerContext) error) error {
	return readOnlyTx(ctx, db, fn)
}

func (postgresDialect) ListDatabasesQuery() string {
	return `SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
		AND schema_name NOT LIKE 'pg_toast%'
		AND schema_name NOT LIKE 'pg_temp%'
		ORDER BY schema_name`
}

func (postgresDialect) ListTablesQuery(withLike bool) string {
	query := "SELECT table_name FROM information_schema.tables WHERE table_schema = $1"
	if withLike {
		query += " AND table_name LIKE $2"
	}
	return query + " ORDER BY table_name"
}

func (postgresDialect) DescribeTableQuery(database, table string) (string, []any) {
	return `SELECT
			column_name AS name,
			data_type AS type,
			is_nullable,
			COALESCE(column_default, '') AS default_expression
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, []any{database, table}
}

// CreateTableStatement rebuilds the DDL from the column rows since Postgres
// has no SHOW CREATE TABLE.
func (d postgresDialect) CreateTableStatement(_ context.Context, _ sqlx.QueryerContext, database, table string, columns []mcpdb.Row) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s.%s (\n", d.QuoteIdentifier(database), d.QuoteIdentifier(table))
	for i, col := range columns {
		fmt.Fprintf(&b, "    %s %s", d.QuoteIdentifier(fmt.Sprint(col["name"])), col["type"])
		if fmt.Sprint(col["is_nullable"]) == "NO" {
			b.WriteString(" NOT NULL")
		}
		if def, _ := col["default_expression"].(string); def != "" {
			b.WriteString(" DEFAULT " + def)
		}
		if i < len(columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String(), nil
}

func (postgresDialect) ExplainQuery(query string) string {
	return "EXPLAIN (FORMAT JSON) " + query
}

func (postgresDialect) ServerInfo(ctx context.Context, q sqlx.QueryerContext) (mcpdb.ServerInfo, error) {
	info := mcpdb.ServerInfo{Type: string(config.Postgres)}
	var uptime sql.NullFloat64
	err := q.QueryRowxContext(ctx, `SELECT
			version(),
			current_database(),
			EXTRACT(EPOCH FROM (now() - pg_postmaster_start_time()))`).
		Scan(&info.Version, &info.CurrentDatabase, &uptime)
	if err != nil {
		return info, err
	}
	if uptime.Valid {
		seconds := int64(uptime.Float64)
		info.UptimeSeconds = &seconds
	}
	return info, nil
}

func (postgresDialect) TableStats(ctx context.Context, q sqlx.QueryerContext, database, table string) (mcpdb.TableStats, error) {
	stats := mcpdb.TableStats{Database: database, Table: table}
	err := q.QueryRowxContext(ctx, `SELECT
			GREATEST(c.reltuples, 0)::bigint,
			pg_total_relation_size(c.oid)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`, database, table).
		Scan(&stats.Rows, &stats.Bytes)
	return stats, err
}
