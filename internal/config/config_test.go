package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyYAML = `
db:
  host: ch.local
  port: 8123
  username: reader
  password: ${TEST_CH_PASSWORD}
mcp:
  tool_prefix: "analytics_"
  db_description: "the analytics ClickHouse cluster"
`

func TestParse_LegacyYAML(t *testing.T) {
	t.Setenv("TEST_CH_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(legacyYAML), "yaml")
	require.NoError(t, err)

	assert.Equal(t, DefaultConnection, cfg.DefaultConnection)
	conn, ok := cfg.GetConnection(DefaultConnection)
	require.True(t, ok)
	assert.Equal(t, ClickHouse, conn.Type)
	assert.Equal(t, "ch.local", conn.Host)
	assert.Equal(t, 8123, conn.Port)
	assert.Equal(t, "reader", conn.Username)
	assert.Equal(t, "s3cret", conn.Password)
	assert.Equal(t, ProtocolHTTP, conn.Protocol)
	assert.Equal(t, "ch.local:8123", conn.Address())

	assert.Equal(t, "analytics_", cfg.MCP.ToolPrefix)
	assert.Equal(t, "the analytics ClickHouse cluster", cfg.MCP.DBDescription)
	assert.Nil(t, cfg.DB, "legacy section must be folded into connections")
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("db:\n  host: localhost\n"), "yml")
	require.NoError(t, err)

	assert.Equal(t, DefaultDBDescription, cfg.MCP.DBDescription)
	assert.Equal(t, "", cfg.MCP.ToolPrefix)
	assert.Equal(t, DefaultConcurrency, cfg.MCP.DescribeConcurrency)
	assert.Equal(t, DefaultQueryTimeout, cfg.QueryTimeout())
	assert.Equal(t, DefaultHTTPListen, cfg.HTTP.Listen)
	assert.True(t, cfg.Logging.Console)

	conn := cfg.Connections[DefaultConnection]
	assert.Equal(t, "default", conn.Username)
	assert.Equal(t, 8123, conn.Port)
}

func TestParse_EnvValuesAreVerbatim(t *testing.T) {
	const password = `p#ss: "w0rd" \ 'x'`
	t.Setenv("TEST_PG_PASSWORD", password)
	t.Setenv("TEST_PG_HOST", "pg.local")

	docs := map[string]string{
		"yaml": "connections:\n  pg:\n    type: postgres\n    host: ${TEST_PG_HOST}\n    password: ${TEST_PG_PASSWORD}\n",
		"toml": "[connections.pg]\ntype = \"postgres\"\nhost = \"${TEST_PG_HOST}\"\npassword = \"${TEST_PG_PASSWORD}\"\n",
		"json": `{"connections": {"pg": {"type": "postgres", "host": "${TEST_PG_HOST}", "password": "${TEST_PG_PASSWORD}"}}}`,
	}
	for format, doc := range docs {
		t.Run(format, func(t *testing.T) {
			cfg, err := Parse([]byte(doc), format)
			require.NoError(t, err)
			conn, ok := cfg.GetConnection("pg")
			require.True(t, ok)
			assert.Equal(t, "pg.local", conn.Host)
			assert.Equal(t, password, conn.Password)
		})
	}
}

func TestKeepAlive(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", DefaultKeepAlive},
		{"10s", 10 * time.Second},
		{"0", 0},
		{"-5s", DefaultKeepAlive},
		{"soon", DefaultKeepAlive},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.HTTP.KeepAlive = tt.value
		assert.Equal(t, tt.want, cfg.KeepAlive(), tt.value)
	}
}

func TestParse_NamedConnectionsTOML(t *testing.T) {
	const data = `
default_connection = "pg"
query_timeout = "5s"

[mcp]
max_rows = 500
allow_write = true

[connections.pg]
type = "postgres"
host = "db.local"
username = "app"
database = "app"

[connections.events]
type = "clickhouse"
host = "ch.local"
protocol = "native"
secure = true
read_only = true
`
	cfg, err := Parse([]byte(data), "toml")
	require.NoError(t, err)

	assert.Equal(t, "pg", cfg.DefaultConnection)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout())
	assert.Equal(t, 500, cfg.MCP.MaxRows)
	assert.True(t, cfg.MCP.AllowWrite)
	assert.Equal(t, []string{"events", "pg"}, cfg.ConnectionNames())

	pg := cfg.Connections["pg"]
	assert.Equal(t, "pg", pg.Name)
	assert.Equal(t, 5432, pg.Port)
	assert.Equal(t, "disable", pg.SSLMode)

	events := cfg.Connections["events"]
	assert.Equal(t, 9440, events.Port)
	assert.True(t, events.ReadOnly)
}

func TestParse_JSONConnectionsFile(t *testing.T) {
	const data = `{
  "connections": {
    "local": {"type": "mysql", "url": "root:pw@tcp(localhost:3306)/shop", "description": "dev shop"}
  }
}`
	cfg, err := Parse([]byte(data), "json")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.DefaultConnection, "single connection becomes the default")
	conn := cfg.Connections["local"]
	assert.Equal(t, MySQL, conn.Type)
	assert.Equal(t, "", conn.Address())
	assert.Equal(t, "dev shop", conn.Description)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no connections", "mcp:\n  tool_prefix: x_\n"},
		{"unknown type", "connections:\n  a:\n    type: oracle\n    host: h\n"},
		{"no host or url", "connections:\n  a:\n    type: postgres\n"},
		{"bad port", "db:\n  host: h\n  port: 70000\n"},
		{"missing default", "default_connection: b\nconnections:\n  a:\n    type: mysql\n    host: h\n"},
		{"bad timeout", "query_timeout: soon\ndb:\n  host: h\n"},
		{"negative max rows", "mcp:\n  max_rows: -1\ndb:\n  host: h\n"},
		{"db and default both set", "db:\n  host: h\nconnections:\n  default:\n    type: mysql\n    host: h\n"},
		{"bad protocol", "db:\n  host: h\n  protocol: grpc\n"},
		{"bad log level", "logging:\n  level: loud\ndb:\n  host: h\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "yaml")
			assert.Error(t, err)
		})
	}
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse([]byte("x"), "ini")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db:\n  host: ch.example\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "ch.example", cfg.Connections[DefaultConnection].Host)
}

func TestLoadConfig_ConfigFileEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.toml")
	require.NoError(t, os.WriteFile(path, []byte("[db]\nhost = \"from-toml\"\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-toml", cfg.Connections[DefaultConnection].Host)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CLICKHOUSE_HOST", "env-host")
	t.Setenv("CLICKHOUSE_PORT", "9000")
	t.Setenv("CLICKHOUSE_USER", "bob")
	t.Setenv("CLICKHOUSE_PASSWORD", "pw")
	t.Setenv("CLICKHOUSE_PROTOCOL", "NATIVE")
	t.Setenv("CLICKHOUSE_SECURE", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)
	conn := cfg.Connections[DefaultConnection]
	assert.Equal(t, "env-host:9000", conn.Address())
	assert.Equal(t, "bob", conn.Username)
	assert.Equal(t, ProtocolNative, conn.Protocol)
}

func TestFromEnv_NoHost(t *testing.T) {
	t.Setenv("CLICKHOUSE_HOST", "")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnv_BadPort(t *testing.T) {
	t.Setenv("CLICKHOUSE_HOST", "h")
	t.Setenv("CLICKHOUSE_PORT", "eighty")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TEST_LOADENV_A=one\nTEST_LOADENV_B=two\n"), 0o644))

	t.Setenv("TEST_LOADENV_B", "preset")
	t.Setenv("TEST_LOADENV_A", "")
	require.NoError(t, os.Unsetenv("TEST_LOADENV_A"))

	require.NoError(t, LoadEnv(envFile, filepath.Join(dir, "missing.env"), ""))
	assert.Equal(t, "one", os.Getenv("TEST_LOADENV_A"))
	assert.Equal(t, "preset", os.Getenv("TEST_LOADENV_B"), "existing variables win")
}
