package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile    = "config.yml"
	DefaultConnection    = "default"
	DefaultQueryTimeout  = 30 * time.Second
	DefaultDBDescription = "ClickHouse"
	DefaultHTTPListen    = "127.0.0.1:8000"
	DefaultConcurrency   = 4
	DefaultKeepAlive     = 30 * time.Second
)

type DBType string

const (
	ClickHouse DBType = "clickhouse"
	Postgres   DBType = "postgres"
	MySQL      DBType = "mysql"
)

// ClickHouse wire protocols.
const (
	ProtocolHTTP   = "http"
	ProtocolNative = "native"
)

type Connection struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	Type        DBType `json:"type" yaml:"type" toml:"type" validate:"required,oneof=clickhouse postgres mysql"`
	URL         string `json:"url" yaml:"url" toml:"url" validate:"required_without=Host"`
	Host        string `json:"host" yaml:"host" toml:"host" validate:"required_without=URL"`
	Port        int    `json:"port" yaml:"port" toml:"port" validate:"omitempty,min=1,max=65535"`
	Username    string `json:"username" yaml:"username" toml:"username"`
	Password    string `json:"password" yaml:"password" toml:"password"`
	Database    string `json:"database" yaml:"database" toml:"database"`
	Protocol    string `json:"protocol" yaml:"protocol" toml:"protocol" validate:"omitempty,oneof=http native"`
	Secure      bool   `json:"secure" yaml:"secure" toml:"secure"`
	SSLMode     string `json:"sslmode" yaml:"sslmode" toml:"sslmode"`
	ReadOnly    bool   `json:"read_only" yaml:"read_only" toml:"read_only"`
	Description string `json:"description" yaml:"description" toml:"description"`
}

// Address returns host:port of the connection, empty when only URL is set.
func (c Connection) Address() string {
	if c.Host == "" {
		return ""
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type MCPConfig struct {
	ToolPrefix          string `json:"tool_prefix" yaml:"tool_prefix" toml:"tool_prefix"`
	DBDescription       string `json:"db_description" yaml:"db_description" toml:"db_description"`
	MaxRows             int    `json:"max_rows" yaml:"max_rows" toml:"max_rows" validate:"min=0"`
	AllowWrite          bool   `json:"allow_write" yaml:"allow_write" toml:"allow_write"`
	DescribeConcurrency int    `json:"describe_concurrency" yaml:"describe_concurrency" toml:"describe_concurrency" validate:"min=0,max=64"`
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	OutputFile string `json:"output_file" yaml:"output_file" toml:"output_file"`
	MaxSizeMB  int64  `json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb" validate:"min=0"`
	Console    bool   `json:"console" yaml:"console" toml:"console"`
}

type HTTPConfig struct {
	Listen string `json:"listen" yaml:"listen" toml:"listen"`
	// KeepAlive is the interval at which idle sessions are pinged. A session
	// that fails a ping is closed. "0" disables pinging.
	KeepAlive string `json:"keep_alive" yaml:"keep_alive" toml:"keep_alive"`
}

type Config struct {
	MCP               MCPConfig             `json:"mcp" yaml:"mcp" toml:"mcp"`
	DB                *Connection           `json:"db" yaml:"db" toml:"db"`
	Connections       map[string]Connection `json:"connections" yaml:"connections" toml:"connections" validate:"dive"`
	DefaultConnection string                `json:"default_connection" yaml:"default_connection" toml:"default_connection"`
	Timeout           string                `json:"query_timeout" yaml:"query_timeout" toml:"query_timeout"`
	Logging           LoggingConfig         `json:"logging" yaml:"logging" toml:"logging"`
	HTTP              HTTPConfig            `json:"http" yaml:"http" toml:"http"`

	// Path is the file the config was read from, empty when built from env.
	Path string `json:"-" yaml:"-" toml:"-"`
}

// Default returns a config with every optional setting filled in.
func Default() *Config {
	return &Config{
		MCP: MCPConfig{
			DBDescription:       DefaultDBDescription,
			DescribeConcurrency: DefaultConcurrency,
		},
		Connections: make(map[string]Connection),
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			Console:   true,
		},
		HTTP: HTTPConfig{Listen: DefaultHTTPListen},
	}
}

// LoadEnv loads the given dotenv files into the process environment.
// Missing files are skipped; variables already set are left untouched.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// LoadConfig reads the config from path. With an empty path it tries
// $CONFIG_FILE and then the default locations. When no file exists the
// config is assembled from CLICKHOUSE_* environment variables.
func LoadConfig(path string) (*Config, error) {
	explicit := path
	if explicit == "" {
		explicit = os.Getenv("CONFIG_FILE")
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("config file %s: %w", explicit, err)
		}
		return loadConfigFromFile(explicit)
	}

	for _, p := range getConfigPaths() {
		if _, err := os.Stat(p); err == nil {
			return loadConfigFromFile(p)
		}
	}

	return FromEnv()
}

// FromEnv builds a single-connection config from CLICKHOUSE_* variables.
func FromEnv() (*Config, error) {
	host := os.Getenv("CLICKHOUSE_HOST")
	if host == "" {
		return nil, fmt.Errorf("no config file found and CLICKHOUSE_HOST is not set")
	}
	conn := Connection{
		Type:     ClickHouse,
		Host:     host,
		Username: os.Getenv("CLICKHOUSE_USER"),
		Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		Database: os.Getenv("CLICKHOUSE_DATABASE"),
		Protocol: strings.ToLower(os.Getenv("CLICKHOUSE_PROTOCOL")),
	}
	if v := os.Getenv("CLICKHOUSE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CLICKHOUSE_PORT %q: %w", v, err)
		}
		conn.Port = port
	}
	if v := os.Getenv("CLICKHOUSE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CLICKHOUSE_SECURE %q: %w", v, err)
		}
		conn.Secure = secure
	}

	cfg := Default()
	cfg.DB = &conn
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml", "toml" or "json") on top
// of the defaults, expands ${VAR} references and validates the result.
// References are expanded in string settings after decoding, so values
// are taken verbatim whatever characters they hold.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case "toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	cfg.expandEnv()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) GetConnection(name string) (Connection, bool) {
	conn, exists := c.Connections[name]
	return conn, exists
}

// ConnectionNames returns the configured connection names in sorted order.
func (c *Config) ConnectionNames() []string {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QueryTimeout is the per-call database timeout.
func (c *Config) QueryTimeout() time.Duration {
	if c.Timeout == "" {
		return DefaultQueryTimeout
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return DefaultQueryTimeout
	}
	return d
}

// KeepAlive is the session ping interval of the HTTP transport, 0 when
// disabled.
func (c *Config) KeepAlive() time.Duration {
	if c.HTTP.KeepAlive == "" {
		return DefaultKeepAlive
	}
	d, err := time.ParseDuration(c.HTTP.KeepAlive)
	if err != nil || d < 0 {
		return DefaultKeepAlive
	}
	return d
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross references.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.Connections) == 0 {
		return fmt.Errorf("invalid config: no connections configured")
	}
	if _, ok := c.Connections[c.DefaultConnection]; !ok {
		return fmt.Errorf("invalid config: default connection %q not found", c.DefaultConnection)
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return fmt.Errorf("invalid config: query_timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid config: query_timeout must be positive")
		}
	}
	return nil
}

// normalize folds the legacy db section into the named connections and
// fills in per-type defaults.
func (c *Config) normalize() error {
	if c.Connections == nil {
		c.Connections = make(map[string]Connection)
	}
	if c.DB != nil {
		if _, exists := c.Connections[DefaultConnection]; exists {
			return fmt.Errorf("invalid config: both db and connections.%s are set", DefaultConnection)
		}
		legacy := *c.DB
		if legacy.Type == "" {
			legacy.Type = ClickHouse
		}
		c.Connections[DefaultConnection] = legacy
		c.DB = nil
	}

	for name, conn := range c.Connections {
		conn.Name = name
		conn.Type = DBType(strings.ToLower(string(conn.Type)))
		applyConnectionDefaults(&conn)
		c.Connections[name] = conn
	}

	if c.DefaultConnection == "" {
		switch {
		case len(c.Connections) == 1:
			for name := range c.Connections {
				c.DefaultConnection = name
			}
		default:
			c.DefaultConnection = DefaultConnection
		}
	}
	if c.MCP.DBDescription == "" {
		c.MCP.DBDescription = DefaultDBDescription
	}
	if c.MCP.DescribeConcurrency == 0 {
		c.MCP.DescribeConcurrency = DefaultConcurrency
	}
	return nil
}

func applyConnectionDefaults(conn *Connection) {
	switch conn.Type {
	case ClickHouse:
		if conn.Protocol == "" {
			conn.Protocol = ProtocolHTTP
		}
		if conn.Username == "" {
			conn.Username = "default"
		}
		if conn.Port == 0 && conn.Host != "" {
			conn.Port = clickhousePort(conn.Protocol, conn.Secure)
		}
	case Postgres:
		if conn.Port == 0 && conn.Host != "" {
			conn.Port = 5432
		}
		if conn.SSLMode == "" {
			conn.SSLMode = "disable"
		}
	case MySQL:
		if conn.Port == 0 && conn.Host != "" {
			conn.Port = 3306
		}
	}
}

func clickhousePort(protocol string, secure bool) int {
	switch {
	case protocol == ProtocolNative && secure:
		return 9440
	case protocol == ProtocolNative:
		return 9000
	case secure:
		return 8443
	default:
		return 8123
	}
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandString(v string) string {
	return envRef.ReplaceAllStringFunc(v, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

func expandAll(fields ...*string) {
	for _, f := range fields {
		*f = expandString(*f)
	}
}

func (c *Config) expandEnv() {
	expandAll(&c.MCP.ToolPrefix, &c.MCP.DBDescription, &c.DefaultConnection, &c.Timeout,
		&c.Logging.Level, &c.Logging.OutputFile, &c.HTTP.Listen, &c.HTTP.KeepAlive)
	if c.DB != nil {
		c.DB.expandEnv()
	}
	for name, conn := range c.Connections {
		conn.expandEnv()
		c.Connections[name] = conn
	}
}

func (c *Connection) expandEnv() {
	expandAll((*string)(&c.Type), &c.URL, &c.Host, &c.Username, &c.Password,
		&c.Database, &c.Protocol, &c.SSLMode, &c.Description)
}

func getConfigPaths() []string {
	var paths []string

	if pwd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(pwd, DefaultConfigFile),
			filepath.Join(pwd, "config.yaml"),
			filepath.Join(pwd, "config.toml"),
			filepath.Join(pwd, "config.json"),
		)
	}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			paths = append(paths, filepath.Join(appData, "mcp-clickhouse", DefaultConfigFile))
		}
	default:
		homeDir := os.Getenv("HOME")
		if homeDir != "" {
			paths = append(paths, filepath.Join(homeDir, ".config", "mcp-clickhouse", DefaultConfigFile))
		}
	}

	return paths
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		format = "yaml"
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}
