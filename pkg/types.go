package mcpdb

// Row is one result row keyed by column name.
type Row map[string]any

// QueryResult is what a read-only query returns to the client.
type QueryResult struct {
	Columns   []string `json:"columns" jsonschema:"column names in result order"`
	Rows      []Row    `json:"rows" jsonschema:"result rows keyed by column name"`
	RowCount  int      `json:"row_count" jsonschema:"number of rows returned"`
	Truncated bool     `json:"truncated" jsonschema:"true when the row limit cut the result short"`
}

// TableInfo describes a table: its columns as reported by the engine and
// the statement that recreates it.
type TableInfo struct {
	Database         string `json:"database" jsonschema:"database the table belongs to"`
	Name             string `json:"name" jsonschema:"table name"`
	Columns          []Row  `json:"columns" jsonschema:"column descriptions, one row per column"`
	CreateTableQuery string `json:"create_table_query" jsonschema:"CREATE TABLE statement"`
}

type ServerInfo struct {
	Type            string `json:"type" jsonschema:"database engine"`
	Version         string `json:"version" jsonschema:"server version"`
	CurrentDatabase string `json:"current_database" jsonschema:"database selected by the connection"`
	UptimeSeconds   *int64 `json:"uptime_seconds,omitempty" jsonschema:"server uptime, when the engine reports it"`
	DatabaseCount   int    `json:"database_count" jsonschema:"number of visible databases"`
}

type TableStats struct {
	Database      string `json:"database" jsonschema:"database name"`
	Table         string `json:"table" jsonschema:"table name"`
	Rows          int64  `json:"rows" jsonschema:"row count (estimated on some engines)"`
	Bytes         int64  `json:"bytes" jsonschema:"storage size in bytes"`
	BytesReadable string `json:"bytes_readable" jsonschema:"storage size, human readable"`
	Parts         *int64 `json:"parts,omitempty" jsonschema:"active data parts (ClickHouse only)"`
}
