package tasks

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battis/batch-action/logging"
	"github.com/battis/batch-action/sandbox"
	"github.com/battis/batch-action/task"
)

const schemaSQL = `
CREATE TABLE users (id INT PRIMARY KEY);
CREATE TABLE posts (id INT PRIMARY KEY, user_id INT);

`

func expectSchema(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE users (id INT PRIMARY KEY)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE posts (id INT PRIMARY KEY, user_id INT)")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestImportSchemaInto(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectSchema(mock)

	a, err := NewImportSchemaInto(db, schemaSQL, WithSchemaLogger(logging.Discard()))
	require.NoError(t, err)
	assert.True(t, a.TestSandbox(sandbox.New()))

	out, err := a.Act(context.Background(), sandbox.New())
	require.NoError(t, err)
	assert.True(t, out.Completed())
	assert.Equal(t, "Schema loaded into the configured database", out.Detail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportSchemaInto_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.sql")
	require.NoError(t, os.WriteFile(path, []byte(schemaSQL), 0o600))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	expectSchema(mock)

	a, err := NewImportSchemaInto(db, path, WithSchemaLogger(logging.Discard()))
	require.NoError(t, err)
	out, err := a.Act(context.Background(), sandbox.New())
	require.NoError(t, err)
	assert.Contains(t, out.Detail, "Schema file `"+path+"`")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportSchemaInto_StatementFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec("CREATE TABLE users").WillReturnError(errors.New("table exists"))

	a, err := NewImportSchemaInto(db, schemaSQL, WithSchemaLogger(logging.Discard()))
	require.NoError(t, err)

	n := task.NewNode("schema", a, task.WithNodeLogger(logging.Discard()))
	_, err = n.Run(context.Background(), sandbox.New(), "run-1", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrActionFailed)
	assert.Contains(t, err.Error(), "table exists")
	assert.False(t, n.HasActed(""))
}

func TestNewImportSchema_ParameterMismatch(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewImportSchemaInto(db, "")
	assert.ErrorIs(t, err, task.ErrParameterMismatch)
	_, err = NewImportSchemaInto(nil, schemaSQL)
	assert.ErrorIs(t, err, task.ErrParameterMismatch)
	_, err = NewImportSchemaFrom(nil, "")
	assert.ErrorIs(t, err, task.ErrParameterMismatch)
}

func connectionsValue(t *testing.T, sb *sandbox.Sandbox, conns ...map[string]any) sandbox.Value[[]any] {
	t.Helper()
	list := make([]any, len(conns))
	for i, c := range conns {
		list[i] = c
	}
	require.NoError(t, sb.Set(sandbox.MustPath("/secrets/mysql"), list))
	v, err := sandbox.FromPath[[]any]("/secrets/mysql")
	require.NoError(t, err)
	return v
}

func TestImportSchemaFrom_TestSandbox(t *testing.T) {
	full := map[string]any{"host": "db", "username": "u", "password": "p", "database": "d"}
	withSchema := map[string]any{"host": "db", "username": "u", "password": "p", "database": "d", "schema": "x"}
	noPassword := map[string]any{"host": "db", "username": "u", "database": "d"}

	tests := []struct {
		name   string
		conns  []map[string]any
		schema string
		want   bool
	}{
		{"complete with schema argument", []map[string]any{full}, schemaSQL, true},
		{"schema from connection", []map[string]any{withSchema}, "", true},
		{"schema missing", []map[string]any{full}, "", false},
		{"password missing", []map[string]any{withSchema, noPassword}, schemaSQL, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := sandbox.New()
			a, err := NewImportSchemaFrom(connectionsValue(t, sb, tt.conns...), tt.schema)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.TestSandbox(sb))
		})
	}

	t.Run("nothing in sandbox", func(t *testing.T) {
		v, err := sandbox.FromPath[[]any]("/secrets/mysql")
		require.NoError(t, err)
		a, err := NewImportSchemaFrom(v, schemaSQL)
		require.NoError(t, err)
		assert.False(t, a.TestSandbox(sandbox.New()))
	})
}

func TestImportSchemaFrom_OpensEachConnection(t *testing.T) {
	sb := sandbox.New()
	src := connectionsValue(t, sb,
		map[string]any{"host": "db1.local", "username": "admin", "password": "pw", "database": "app"},
		map[string]any{"host": "db2.local:3307", "username": "admin", "password": "pw", "database": "reports"},
	)

	var dsns []string
	var mocks []sqlmock.Sqlmock
	open := func(dsn string) (*sql.DB, error) {
		db, mock, err := sqlmock.New()
		if err != nil {
			return nil, err
		}
		expectSchema(mock)
		mock.ExpectClose()
		dsns = append(dsns, dsn)
		mocks = append(mocks, mock)
		return db, nil
	}

	a, err := NewImportSchemaFrom(src, schemaSQL, WithOpener(open), WithSchemaLogger(logging.Discard()))
	require.NoError(t, err)
	require.True(t, a.TestSandbox(sb))

	out, err := a.Act(context.Background(), sb)
	require.NoError(t, err)
	assert.Equal(t, "Schema loaded into app on db1.local\nSchema loaded into reports on db2.local:3307", out.Detail)

	require.Len(t, dsns, 2)
	assert.Contains(t, dsns[0], "admin:pw@tcp(db1.local:3306)/app")
	assert.Contains(t, dsns[1], "tcp(db2.local:3307)/reports")
	for _, m := range mocks {
		assert.NoError(t, m.ExpectationsWereMet())
	}
}

func TestImportSchemaFrom_XPathConnections(t *testing.T) {
	sb := sandbox.New()
	importXML(t, sb, secretsXML)
	src, err := NewXPathValue("/config/0", "/config/mysql", nil)
	require.NoError(t, err)

	// only the first connection names a schema
	a, err := NewImportSchemaFrom(src, "")
	require.NoError(t, err)
	assert.False(t, a.TestSandbox(sb))

	a, err = NewImportSchemaFrom(src, schemaSQL)
	require.NoError(t, err)
	assert.True(t, a.TestSandbox(sb))
}

func TestImportSchemaFrom_OpenFails(t *testing.T) {
	sb := sandbox.New()
	src := connectionsValue(t, sb, map[string]any{"host": "db", "username": "u", "password": "p", "database": "d"})
	a, err := NewImportSchemaFrom(src, schemaSQL, WithOpener(func(string) (*sql.DB, error) {
		return nil, errors.New("unreachable")
	}))
	require.NoError(t, err)

	_, err = a.Act(context.Background(), sb)
	assert.ErrorContains(t, err, "unreachable")
}

func TestSplitStatements(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, SplitStatements(" A ;\n\n;B;  "))
	assert.Empty(t, SplitStatements(" ; ;"))
}
