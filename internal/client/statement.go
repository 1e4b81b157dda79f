package client

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
)

var (
	reLeadingParens = regexp.MustCompile(`^[\s(]+`)
	reFirstWord     = regexp.MustCompile(`^[A-Za-z]+`)
)

// Statements that cannot modify data.
var readOnlyKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"EXISTS":   true,
}

// sqlLexer describes how an engine tokenizes comments and quoted text.
type sqlLexer struct {
	backslash      bool // backslash escapes in '...' and "..."
	escapeStrings  bool // E'...' takes backslash escapes
	hashComments   bool
	dashNeedsSpace bool // "--" opens a comment only before whitespace
	nestedComments bool
	execComments   bool // /*! ... */ bodies are executed
	dollarQuotes   bool
	backticks      bool
}

var (
	// standard_conforming_strings on and off.
	postgresLexers = []sqlLexer{
		{escapeStrings: true, nestedComments: true, dollarQuotes: true},
		{backslash: true, escapeStrings: true, nestedComments: true, dollarQuotes: true},
	}
	// Default sql_mode and NO_BACKSLASH_ESCAPES.
	mysqlLexers = []sqlLexer{
		{backslash: true, hashComments: true, dashNeedsSpace: true, execComments: true, backticks: true},
		{hashComments: true, dashNeedsSpace: true, execComments: true, backticks: true},
	}
	clickhouseLexers = []sqlLexer{
		{backslash: true, hashComments: true, backticks: true},
	}

	allLexers = append(append(append([]sqlLexer{}, postgresLexers...), mysqlLexers...), clickhouseLexers...)
)

func lexersFor(t config.DBType) []sqlLexer {
	switch t {
	case config.Postgres:
		return postgresLexers
	case config.MySQL:
		return mysqlLexers
	case config.ClickHouse:
		return clickhouseLexers
	default:
		return allLexers
	}
}

// strip replaces comments with a space and quoted text with '' in a single
// left to right pass.
func (l sqlLexer) strip(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	inExec := false
	n := len(query)
	for i := 0; i < n; {
		c := query[i]
		switch {
		case c == '-' && i+1 < n && query[i+1] == '-' && (!l.dashNeedsSpace || i+2 >= n || isSpace(query[i+2])):
			i = skipLine(query, i)
			b.WriteByte(' ')
		case c == '#' && l.hashComments:
			i = skipLine(query, i)
			b.WriteByte(' ')
		case l.execComments && (strings.HasPrefix(query[i:], "/*!") || strings.HasPrefix(query[i:], "/*M!")):
			i += strings.IndexByte(query[i:], '!') + 1
			for i < n && query[i] >= '0' && query[i] <= '9' {
				i++
			}
			inExec = true
			b.WriteByte(' ')
		case inExec && c == '*' && i+1 < n && query[i+1] == '/':
			inExec = false
			i += 2
			b.WriteByte(' ')
		case c == '/' && i+1 < n && query[i+1] == '*':
			i = l.skipBlockComment(query, i)
			b.WriteByte(' ')
		case c == '\'':
			backslash := l.backslash || (l.escapeStrings && isEscapeStringPrefix(query, i))
			i = skipQuoted(query, i, '\'', backslash)
			b.WriteString("''")
		case c == '"':
			i = skipQuoted(query, i, '"', l.backslash)
			b.WriteString("''")
		case c == '`' && l.backticks:
			i = skipQuoted(query, i, '`', false)
			b.WriteString("''")
		case c == '$' && l.dollarQuotes:
			if tag, ok := dollarTag(query, i); ok {
				i = skipDollarQuoted(query, i, tag)
				b.WriteString("''")
				continue
			}
			b.WriteByte(c)
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return strings.TrimSpace(b.String())
}

// skipLine returns the index of the newline ending the comment at i.
func skipLine(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j
	}
	return len(s)
}

func (l sqlLexer) skipBlockComment(s string, i int) int {
	depth := 0
	for i < len(s) {
		switch {
		case strings.HasPrefix(s[i:], "/*") && (depth == 0 || l.nestedComments):
			depth++
			i += 2
		case strings.HasPrefix(s[i:], "*/"):
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return i
}

// skipQuoted returns the index just past the quoted text opening at i. A
// doubled quote stands for itself. Unterminated text runs to the end.
func skipQuoted(s string, i int, quote byte, backslash bool) int {
	for i++; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if backslash {
				i++
			}
		case quote:
			if i+1 < len(s) && s[i+1] == quote {
				i++
				continue
			}
			return i + 1
		}
	}
	return len(s)
}

// isEscapeStringPrefix reports whether the quote at i opens E'...'.
func isEscapeStringPrefix(s string, i int) bool {
	if i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	return i == 1 || !isIdentByte(s[i-2])
}

// dollarTag returns the $tag$ opening a dollar-quoted string at i.
func dollarTag(s string, i int) (string, bool) {
	if i > 0 && isIdentByte(s[i-1]) {
		return "", false
	}
	j := i + 1
	for j < len(s) && (isIdentStart(s[j]) || (j > i+1 && s[j] >= '0' && s[j] <= '9')) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[i : j+1], true
	}
	return "", false
}

func skipDollarQuoted(s string, i int, tag string) int {
	start := i + len(tag)
	if j := strings.Index(s[start:], tag); j >= 0 {
		return start + j + len(tag)
	}
	return len(s)
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80
}

func isIdentByte(b byte) bool {
	return isIdentStart(b) || b == '$' || (b >= '0' && b <= '9')
}

// statement is a query as one lexer reads it.
type statement struct {
	kind  string
	multi bool
}

func readStatement(query string, l sqlLexer) statement {
	s := l.strip(query)
	kind := strings.ToUpper(reFirstWord.FindString(reLeadingParens.ReplaceAllString(s, "")))
	// Any ; left after trailing ones are trimmed separates statements.
	multi := strings.Contains(strings.TrimRight(s, "; \t\r\n"), ";")
	return statement{kind: kind, multi: multi}
}

func readStatements(query string, lexers []sqlLexer) []statement {
	out := make([]statement, len(lexers))
	for i, l := range lexers {
		out[i] = readStatement(query, l)
	}
	return out
}

// StatementKind returns the upper-cased leading keyword of the query, or ""
// when there is none.
func StatementKind(query string) string {
	return statementKind(query, allLexers)
}

func statementKind(query string, lexers []sqlLexer) string {
	for _, st := range readStatements(query, lexers) {
		if st.kind != "" {
			return st.kind
		}
	}
	return ""
}

// IsReadOnlyStatement reports whether the query is a single statement that
// starts with a read-only keyword under every supported engine's lexing.
func IsReadOnlyStatement(query string) bool {
	return CheckReadOnly(query) == nil
}

// CheckReadOnly returns nil for a single read-only statement. The query
// must pass under the lexing rules of every supported engine.
func CheckReadOnly(query string) error {
	return checkReadOnly(query, allLexers)
}

// CheckWritable returns nil for a single statement that is not read-only.
func CheckWritable(query string) error {
	return checkWritable(query, allLexers)
}

func checkReadOnly(query string, lexers []sqlLexer) error {
	sts := readStatements(query, lexers)
	empty := true
	for _, st := range sts {
		if st.kind != "" {
			empty = false
		}
	}
	if empty {
		return ErrEmptyQuery
	}
	for _, st := range sts {
		if st.multi {
			return ErrMultipleStatements
		}
	}
	for _, st := range sts {
		if st.kind != "" && !readOnlyKeywords[st.kind] {
			return fmt.Errorf("%w: %s statements are not allowed", ErrNotReadOnly, st.kind)
		}
	}
	return nil
}

func checkWritable(query string, lexers []sqlLexer) error {
	kind := statementKind(query, lexers)
	if kind == "" {
		return ErrEmptyQuery
	}
	for _, st := range readStatements(query, lexers) {
		if st.multi {
			return ErrMultipleStatements
		}
	}
	if readOnlyKeywords[kind] {
		return fmt.Errorf("%w: %s", ErrUseSelect, kind)
	}
	return nil
}

// trimExplain drops a leading EXPLAIN keyword so the dialect can add its own.
func trimExplain(query string) string {
	const kw = "EXPLAIN"
	q := strings.TrimSpace(query)
	if len(q) > len(kw) && strings.EqualFold(q[:len(kw)], kw) && isSpace(q[len(kw)]) {
		return strings.TrimSpace(q[len(kw):])
	}
	return q
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
