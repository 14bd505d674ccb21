package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/antchfx/xmlquery"
	"github.com/tidwall/gjson"

	"github.com/battis/batch-action/sandbox"
	"github.com/battis/batch-action/task"
)

// Export returns a sandbox subtree as the outcome payload. XML documents in
// the subtree are converted to maps the same way XPathValue converts
// matches. An optional gjson query selects part of the JSON form, and an
// optional file receives the payload as indented JSON.
type Export struct {
	value  sandbox.Value[any]
	query  string
	output string
}

// ExportOption configures an Export.
type ExportOption func(*Export)

// WithQuery applies a gjson path, for example "mysql.host".
func WithQuery(query string) ExportOption {
	return func(e *Export) {
		e.query = query
	}
}

// WithOutputFile also writes the payload to path.
func WithOutputFile(path string) ExportOption {
	return func(e *Export) {
		e.output = path
	}
}

// NewExport exports the subtree at path.
func NewExport(path string, opts ...ExportOption) (*Export, error) {
	v, err := sandbox.FromPath[any](path)
	if err != nil {
		return nil, err
	}
	e := &Export{value: v}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Act implements task.Action. A path with nothing stored, or a query with no
// match, yields a Warning outcome with no payload.
func (e *Export) Act(ctx context.Context, sb *sandbox.Sandbox) (task.Outcome, error) {
	raw, ok, err := e.value.Resolve(sb)
	if err != nil {
		return task.Outcome{}, err
	}
	if !ok {
		return task.NewOutcome("Export", "Nothing to export", fmt.Sprintf("No data is stored at `%s`.", e.value.Path()), task.Warning, nil), nil
	}

	payload := Plain(raw)
	if e.query != "" {
		data, err := json.Marshal(payload)
		if err != nil {
			return task.Outcome{}, fmt.Errorf("encoding %s: %w", e.value.Path(), err)
		}
		res := gjson.GetBytes(data, e.query)
		if !res.Exists() {
			return task.NewOutcome("Export", "Nothing to export", fmt.Sprintf("Query `%s` matched nothing in `%s`.", e.query, e.value.Path()), task.Warning, nil), nil
		}
		payload = res.Value()
	}

	if e.output != "" {
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return task.Outcome{}, fmt.Errorf("encoding %s: %w", e.value.Path(), err)
		}
		if err := os.WriteFile(e.output, append(data, '\n'), 0o600); err != nil {
			return task.Outcome{}, fmt.Errorf("writing %s: %w", e.output, err)
		}
	}

	return task.Succeeded("Export", "Stored configuration as data", fmt.Sprintf("Saved the configuration `%s` as plain data.", e.value.Path()), payload), nil
}

// Plain copies v, replacing XML documents with maps so the result can be
// encoded as JSON.
func Plain(v any) any {
	switch t := v.(type) {
	case *xmlquery.Node:
		return nodeValue(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Plain(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Plain(val)
		}
		return out
	default:
		return v
	}
}
