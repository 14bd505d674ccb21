package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/battis/batch-action/sandbox"
	"github.com/battis/batch-action/task"
)

// Connection parameter keys, as found in imported configuration.
const (
	KeyHost     = "host"
	KeyUsername = "username"
	KeyPassword = "password"
	KeyDatabase = "database"
	KeySchema   = "schema"
)

// ConnectionSource yields a list of connection parameter maps when a task
// runs. Both *XPathValue and sandbox.Value[[]any] satisfy it.
type ConnectionSource interface {
	Resolve(sb *sandbox.Sandbox) ([]any, bool, error)
}

// Opener opens a database from a DSN.
type Opener func(dsn string) (*sql.DB, error)

// OpenMySQL opens a MySQL database with go-sql-driver/mysql.
func OpenMySQL(dsn string) (*sql.DB, error) {
	return sql.Open("mysql", dsn)
}

// ImportSchema loads a SQL schema into one or more databases. It is built
// either around an open *sql.DB or around a ConnectionSource whose entries
// are resolved from the sandbox when the task runs.
//
// The schema is a path to a file or literal SQL. Statements are split on
// ';' and executed one at a time.
type ImportSchema struct {
	db     *sql.DB
	source ConnectionSource
	schema string
	open   Opener
	logger *slog.Logger
}

// ImportSchemaOption configures an ImportSchema.
type ImportSchemaOption func(*ImportSchema)

// WithOpener replaces OpenMySQL.
func WithOpener(open Opener) ImportSchemaOption {
	return func(a *ImportSchema) {
		a.open = open
	}
}

// WithSchemaLogger sets the logger.
func WithSchemaLogger(logger *slog.Logger) ImportSchemaOption {
	return func(a *ImportSchema) {
		a.logger = logger
	}
}

// NewImportSchemaInto loads schema into db. schema is required.
func NewImportSchemaInto(db *sql.DB, schema string, opts ...ImportSchemaOption) (*ImportSchema, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: expected a database handle", task.ErrParameterMismatch)
	}
	if strings.TrimSpace(schema) == "" {
		return nil, fmt.Errorf("%w: a schema is required when importing into an open database", task.ErrParameterMismatch)
	}
	return newImportSchema(&ImportSchema{db: db, schema: schema}, opts), nil
}

// NewImportSchemaFrom loads a schema into every connection src yields. An
// empty schema means each connection names its own under KeySchema.
func NewImportSchemaFrom(src ConnectionSource, schema string, opts ...ImportSchemaOption) (*ImportSchema, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: expected a connection source", task.ErrParameterMismatch)
	}
	return newImportSchema(&ImportSchema{source: src, schema: schema}, opts), nil
}

func newImportSchema(a *ImportSchema, opts []ImportSchemaOption) *ImportSchema {
	a.open = OpenMySQL
	a.logger = slog.Default()
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TestSandbox reports whether every connection has a host, username,
// password and database, plus a schema when none was given up front.
func (a *ImportSchema) TestSandbox(sb *sandbox.Sandbox) bool {
	if a.db != nil {
		return true
	}
	conns, err := a.connections(sb)
	if err != nil || len(conns) == 0 {
		return false
	}
	required := []string{KeyHost, KeyUsername, KeyPassword, KeyDatabase}
	if a.schema == "" {
		required = append(required, KeySchema)
	}
	for _, c := range conns {
		for _, key := range required {
			if c[key] == "" {
				return false
			}
		}
	}
	return true
}

// Act implements task.Action.
func (a *ImportSchema) Act(ctx context.Context, sb *sandbox.Sandbox) (task.Outcome, error) {
	if a.db != nil {
		msg, err := a.load(ctx, a.db, a.schema, "the configured database")
		if err != nil {
			return task.Outcome{}, err
		}
		return task.Succeeded("ImportSchema", "SQL schema loaded", msg, nil), nil
	}

	conns, err := a.connections(sb)
	if err != nil {
		return task.Outcome{}, err
	}
	var messages []string
	for _, c := range conns {
		msg, err := a.loadInto(ctx, c)
		if err != nil {
			return task.Outcome{}, err
		}
		messages = append(messages, msg)
	}
	return task.Succeeded("ImportSchema", "SQL schema loaded", strings.Join(messages, "\n"), nil), nil
}

func (a *ImportSchema) loadInto(ctx context.Context, c map[string]string) (string, error) {
	db, err := a.open(DSN(c))
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", c[KeyDatabase], err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			a.logger.Warn("closing database", "database", c[KeyDatabase], "error", err)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return "", fmt.Errorf("MySQL connection error: %w", err)
	}

	schema := a.schema
	if schema == "" {
		schema = c[KeySchema]
	}
	return a.load(ctx, db, schema, c[KeyDatabase]+" on "+c[KeyHost])
}

// load runs each statement of schema against db.
func (a *ImportSchema) load(ctx context.Context, db *sql.DB, schema, target string) (string, error) {
	data, fromFile, err := readSource(schema)
	if err != nil {
		return "", err
	}

	count := 0
	for _, stmt := range SplitStatements(string(data)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return "", fmt.Errorf("MySQL error: %w", err)
		}
		count++
	}
	a.logger.Info("schema loaded", "target", target, "statements", count)

	if fromFile {
		return fmt.Sprintf("Schema file `%s` loaded into %s", schema, target), nil
	}
	return "Schema loaded into " + target, nil
}

// connections resolves the source into string maps. Non-string values are
// formatted with %v.
func (a *ImportSchema) connections(sb *sandbox.Sandbox) ([]map[string]string, error) {
	raw, ok, err := a.source.Resolve(sb)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no connection parameters found", task.ErrFailedPrerequisite)
	}
	out := make([]map[string]string, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: connection %d is %T, expected a map", task.ErrParameterMismatch, i, entry)
		}
		c := make(map[string]string, len(m))
		for k, v := range m {
			if v != nil {
				c[k] = strings.TrimSpace(fmt.Sprint(v))
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// DSN formats connection parameters for go-sql-driver/mysql. The port
// defaults to 3306.
func DSN(c map[string]string) string {
	cfg := mysql.NewConfig()
	cfg.User = c[KeyUsername]
	cfg.Passwd = c[KeyPassword]
	cfg.Net = "tcp"
	cfg.Addr = c[KeyHost]
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		cfg.Addr = net.JoinHostPort(cfg.Addr, "3306")
	}
	cfg.DBName = c[KeyDatabase]
	return cfg.FormatDSN()
}

// SplitStatements splits sql on ';' and drops blank statements.
func SplitStatements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
