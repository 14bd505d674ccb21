package tasks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battis/batch-action/sandbox"
	"github.com/battis/batch-action/task"
)

func TestExport_Subtree(t *testing.T) {
	sb := sandbox.New()
	require.NoError(t, sb.Set(sandbox.MustPath("/secrets/mysql/host"), "db.local"))

	e, err := NewExport("/secrets")
	require.NoError(t, err)
	out, err := e.Act(context.Background(), sb)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"mysql": map[string]any{"host": "db.local"}}, out.Payload)
}

func TestExport_XMLWithQuery(t *testing.T) {
	sb := sandbox.New()
	importXML(t, sb, secretsXML)
	output := filepath.Join(t.TempDir(), "hosts.json")

	e, err := NewExport("/config/0", WithQuery("config.mysql.#.host"), WithOutputFile(output))
	require.NoError(t, err)
	out, err := e.Act(context.Background(), sb)
	require.NoError(t, err)
	assert.Equal(t, []any{"db1.local", "db2.local"}, out.Payload)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var written []string
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, []string{"db1.local", "db2.local"}, written)
}

func TestExport_NothingThere(t *testing.T) {
	sb := sandbox.New()
	require.NoError(t, sb.Set(sandbox.MustPath("/a"), map[string]any{"b": 1}))

	e, err := NewExport("/missing")
	require.NoError(t, err)
	out, err := e.Act(context.Background(), sb)
	require.NoError(t, err)
	assert.Equal(t, task.Warning, out.Status)
	assert.True(t, out.Completed())
	assert.Nil(t, out.Payload)

	e, err = NewExport("/a", WithQuery("c"))
	require.NoError(t, err)
	out, err = e.Act(context.Background(), sb)
	require.NoError(t, err)
	assert.Equal(t, task.Warning, out.Status)
}

func TestNewExport_InvalidPath(t *testing.T) {
	_, err := NewExport("")
	assert.ErrorIs(t, err, task.ErrParameterMismatch)
}
