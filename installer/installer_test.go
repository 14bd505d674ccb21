package installer

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/battis/batch-action/batch"
	"github.com/battis/batch-action/config"
	"github.com/battis/batch-action/logging"
	"github.com/battis/batch-action/sandbox"
	"github.com/battis/batch-action/task"
	"github.com/battis/batch-action/tasks"
)

const secretsXML = `<?xml version="1.0"?>
<config>
  <mysql>
    <host>db1.local</host>
    <username>admin</username>
    <password>s3cret</password>
    <database>app</database>
  </mysql>
  <mysql>
    <host>db2.local:3307</host>
    <username>admin</username>
    <password>s3cret</password>
    <database>reports</database>
  </mysql>
  <user>alice</user>
  <user>bob</user>
</config>`

const schemaSQL = "CREATE TABLE users (id INT PRIMARY KEY);"

// fakeMySQL hands out sqlmock databases that expect the schema once.
type fakeMySQL struct {
	mu    sync.Mutex
	dsns  []string
	mocks []sqlmock.Sqlmock
}

func (f *fakeMySQL) open(dsn string) (*sql.DB, error) {
	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE users (id INT PRIMARY KEY)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dsns = append(f.dsns, dsn)
	f.mocks = append(f.mocks, mock)
	return db, nil
}

type fixture struct {
	cfg     config.Config
	dir     string
	private string
	export  string
	db      *fakeMySQL
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.xml")
	require.NoError(t, os.WriteFile(secrets, []byte(secretsXML), 0o600))
	private := filepath.Join(dir, "private")
	require.NoError(t, os.Mkdir(private, 0o755))
	export := filepath.Join(dir, "users.json")

	cfg := config.Config{
		State:     config.StateConfig{HistoryDir: filepath.Join(dir, "history")},
		ConfigXML: []string{secrets},
		Database: []config.DatabaseConfig{{
			Name:   "schema",
			Schema: schemaSQL,
			XPath:  &config.XPathConfig{Document: "/config/secrets.xml", Query: "//mysql"},
		}},
		Files: []config.FilesConfig{{
			Name:  "private",
			Dir:   private,
			Users: map[string]string{"admin": "admin-s3cret-pw"},
		}},
		Scripts: []config.ScriptConfig{{
			Name:   "users",
			Path:   "/config/secrets.xml",
			Query:  "config.user",
			Output: export,
		}},
	}
	return &fixture{cfg: cfg, dir: dir, private: private, export: export, db: &fakeMySQL{}}
}

func (f *fixture) install(t *testing.T) *Installer {
	t.Helper()
	f.cfg.SetDefaults()
	require.NoError(t, f.cfg.Validate())
	in, err := New(f.cfg,
		WithLogger(logging.Discard()),
		WithOpener(f.db.open),
		WithBcryptCost(bcrypt.MinCost),
	)
	require.NoError(t, err)
	return in
}

func TestInstaller_Composition(t *testing.T) {
	f := newFixture(t)
	in := f.install(t)

	require.Len(t, in.ConfigNodes(), 1)
	assert.Equal(t, "config:secrets.xml", in.ConfigNodes()[0].Name())

	for _, g := range batch.Groups() {
		nodes := in.Nodes(g)
		require.Len(t, nodes, 1, g.String())
		assert.Equal(t, in.ConfigNodes(), nodes[0].Prerequisites())
		assert.True(t, nodes[0].HasTag(g.String()))
	}
	assert.Equal(t, batch.DefaultSequence(), in.Manager.Sequence())
}

func TestInstaller_Run(t *testing.T) {
	f := newFixture(t)
	in := f.install(t)
	ctx := context.Background()

	require.NoError(t, in.Pass(false, nil).Run(ctx))

	db, ok := in.Manager.Result(batch.Database, 0)
	require.True(t, ok)
	require.Len(t, db, 2, "config import then schema")
	assert.Equal(t, "ImportConfigXML", db[0].Task)
	assert.Contains(t, db[1].Detail, "app on db1.local")
	assert.Contains(t, db[1].Detail, "reports on db2.local:3307")

	require.Len(t, f.db.dsns, 2)
	assert.Contains(t, f.db.dsns[0], "admin:s3cret@tcp(db1.local:3306)/app")
	for _, mock := range f.db.mocks {
		assert.NoError(t, mock.ExpectationsWereMet())
	}

	files, ok := in.Manager.Result(batch.Files, 0)
	require.True(t, ok)
	require.Len(t, files, 1, "config already ran in this pass")
	assert.Equal(t, []string{"admin"}, files[0].Payload)
	password, ok := in.Sandbox.Lookup(sandbox.Path{tasks.CredentialsRoot, "admin"})
	require.True(t, ok)
	assert.Equal(t, "admin-s3cret-pw", password)
	assert.FileExists(t, filepath.Join(f.private, ".htpasswd"))
	assert.FileExists(t, filepath.Join(f.private, ".htaccess"))

	script, ok := in.Manager.Result(batch.Script, 0)
	require.True(t, ok)
	require.Len(t, script, 1)
	assert.Equal(t, []any{"alice", "bob"}, script[0].Payload)
	data, err := os.ReadFile(f.export)
	require.NoError(t, err)
	assert.JSONEq(t, `["alice","bob"]`, string(data))

	// The pass is recorded with its captured step logs.
	records := in.History.List()
	require.Len(t, records, 1)
	rec := records[0]
	assert.True(t, rec.Success())
	assert.Equal(t, in.Manager.RunID(), rec.RunID)
	require.Len(t, rec.Steps, 3)
	assert.Equal(t, "Database(0)", rec.Steps[0].Step.String())
	assert.NotEmpty(t, rec.Steps[0].Logs)

	saved, err := filepath.Glob(filepath.Join(in.History.Dir(), "*.json"))
	require.NoError(t, err)
	require.Len(t, saved, 1)
	data, err = os.ReadFile(saved[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "admin-s3cret-pw")

	ran, err := in.Manager.HasRun()
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestInstaller_SecondPassIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.install(t).Pass(false, nil).Run(context.Background()))

	// A fresh process sees the history on disk.
	in := f.install(t)
	require.NoError(t, in.Pass(false, nil).Run(context.Background()))

	assert.Len(t, f.db.dsns, 2, "schema was not imported again")
	assert.Empty(t, in.Manager.Results())
	assert.Len(t, in.History.List(), 1)
}

func TestInstaller_FailedPassIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.cfg.Database[0] = config.DatabaseConfig{
		Schema:     schemaSQL,
		Connection: map[string]string{"host": "db", "username": "admin", "database": "app"},
	}
	in := f.install(t)

	err := in.Pass(false, nil).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrFailedPrerequisite)

	records := in.History.List()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success())
	assert.Equal(t, batch.Failed, records[0].Steps[0].State)

	ran, err := in.Manager.HasRun()
	require.NoError(t, err)
	assert.False(t, ran, "a failed pass leaves the batch uninstalled")
}

func TestInstaller_RequirementRunsOutOfSequence(t *testing.T) {
	f := newFixture(t)
	f.cfg.Sequence = []batch.Group{batch.Database, batch.Files, batch.Script, batch.Script}
	f.cfg.Scripts[0].Step = 1
	f.cfg.Scripts[0].Requires = []string{"Database:0"}
	in := f.install(t)

	sel := batch.NewSelector().Add(batch.Script, 1)
	require.NoError(t, in.Pass(false, sel).Run(context.Background()))

	_, ok := in.Manager.Result(batch.Database, 0)
	assert.True(t, ok, "required step ran")
	_, ok = in.Manager.Result(batch.Files, 0)
	assert.False(t, ok, "unselected step did not run")
	scriptZero, ok := in.Manager.Result(batch.Script, 0)
	assert.False(t, ok)
	assert.Nil(t, scriptZero)

	script, ok := in.Manager.Result(batch.Script, 1)
	require.True(t, ok)
	require.Len(t, script, 1)

	rec, ok := in.Manager.LastRecord()
	require.True(t, ok)
	var outOfSequence []string
	for _, s := range rec.Steps {
		if s.OutOfSequence {
			outOfSequence = append(outOfSequence, s.Step.String())
		}
	}
	assert.Equal(t, []string{"Database(0)"}, outOfSequence)

	assert.Equal(t, map[string]string{
		"Database(0)": "completed: success",
		"Script(1)":   "completed: success",
	}, in.Status.All())
}

func TestInstaller_RequirementOutsideSequence(t *testing.T) {
	f := newFixture(t)
	f.cfg.Scripts[0].Requires = []string{"Files:3"}
	in := f.install(t)

	err := in.Pass(true, nil).Run(context.Background())
	assert.ErrorIs(t, err, batch.ErrInvalidStep)
}

func TestInstaller_MarkerFile(t *testing.T) {
	f := newFixture(t)
	f.cfg.State.Marker = filepath.Join(f.dir, "state", "installed")
	in := f.install(t)

	require.NoError(t, in.Pass(false, nil).Run(context.Background()))
	assert.FileExists(t, f.cfg.State.Marker)
	assert.Len(t, in.History.List(), 1)

	// Removing the marker file re-enables the batch even though history remains.
	require.NoError(t, batch.FileMarker{Path: f.cfg.State.Marker}.Reset())
	ran, err := in.Manager.HasRun()
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestNew_InvalidEntry(t *testing.T) {
	f := newFixture(t)
	f.cfg.Files[0].Dir = ""
	f.cfg.SetDefaults()

	_, err := New(f.cfg, WithLogger(logging.Discard()))
	assert.ErrorIs(t, err, task.ErrParameterMismatch)
}

func TestStepHandler_RunsGroupTaggedNodes(t *testing.T) {
	var ran []string
	newNode := func(name string, tags ...string) *task.Node {
		return task.NewNode(name, task.ActionFunc(func(ctx context.Context, sb *sandbox.Sandbox) (task.Outcome, error) {
			ran = append(ran, name)
			return task.Succeeded(name, "done", "", nil), nil
		}), task.WithTags(tags...), task.WithNodeLogger(logging.Discard()))
	}
	nodes := []*task.Node{
		newNode("export", batch.Script.String()),
		newNode("stray", batch.Files.String()),
		newNode("untagged"),
	}

	m, err := batch.NewManager(
		batch.WithSequence(batch.Script),
		batch.WithHandler(batch.Script, stepHandler(sandbox.New(), batch.Script, nil, nodes)),
		batch.WithLogger(logging.Discard()),
	)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background(), false, nil))

	assert.Equal(t, []string{"export"}, ran)
	out, ok := m.Result(batch.Script, 0)
	require.True(t, ok)
	require.Len(t, out, 1)
}
