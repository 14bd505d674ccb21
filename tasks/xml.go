package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/battis/batch-action/sandbox"
	"github.com/battis/batch-action/task"
)

// ConfigRoot is the sandbox key imported documents are stored under.
const ConfigRoot = "config"

// ImportConfigXML parses an XML document and stores it in the sandbox.
//
// A source naming an existing file is stored at /config/<basename>. Any
// other source is parsed as literal XML and stored at the next free integer
// key under /config.
type ImportConfigXML struct {
	source string
}

// NewImportConfigXML creates the action. source must not be empty.
func NewImportConfigXML(source string) (*ImportConfigXML, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: expected an XML string or file path, got an empty string", task.ErrParameterMismatch)
	}
	return &ImportConfigXML{source: source}, nil
}

// Act implements task.Action.
func (a *ImportConfigXML) Act(ctx context.Context, sb *sandbox.Sandbox) (task.Outcome, error) {
	data, fromFile, err := readSource(a.source)
	if err != nil {
		return task.Outcome{}, err
	}

	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return task.Outcome{}, fmt.Errorf("parsing configuration XML: %w", err)
	}
	if xmlquery.FindOne(doc, "/*") == nil {
		return task.Outcome{}, fmt.Errorf("%w: configuration XML has no root element", task.ErrParameterMismatch)
	}

	key := filepath.Base(a.source)
	if !fromFile {
		key = strconv.Itoa(nextIndex(sb, sandbox.Path{ConfigRoot}))
	}
	if err := sb.Set(sandbox.Path{ConfigRoot, key}, doc); err != nil {
		return task.Outcome{}, err
	}

	detail := "A configuration has been loaded into the installer sandbox at /" + ConfigRoot + "/" + key + "."
	if fromFile {
		detail = fmt.Sprintf("A configuration has been loaded from the file `%s` into the installer sandbox at /%s/%s.", a.source, ConfigRoot, key)
	}
	return task.Succeeded("ImportConfigXML", "Configuration loaded", detail, nil), nil
}

// readSource returns the contents of source if it names a regular file, and
// source itself otherwise.
func readSource(source string) ([]byte, bool, error) {
	info, err := os.Stat(source)
	if err != nil || !info.Mode().IsRegular() {
		return []byte(source), false, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", source, err)
	}
	return data, true, nil
}

func nextIndex(sb *sandbox.Sandbox, parent sandbox.Path) int {
	v, ok := sb.Lookup(parent)
	if !ok {
		return 0
	}
	m, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	n := 0
	for {
		if _, taken := m[strconv.Itoa(n)]; !taken {
			return n
		}
		n++
	}
}

// XPathValue is a deferred value that queries an XML document stored in the
// sandbox. Each match is converted to plain data: elements with only text
// become strings, other elements become map[string]any keyed by child name
// (repeated children become []any, attributes are keyed "@name").
//
// When the query matches nothing the fallback is returned instead.
type XPathValue struct {
	doc      sandbox.Value[*xmlquery.Node]
	expr     *xpath.Expr
	query    string
	fallback []any
}

// NewXPathValue creates a value that evaluates query against the document at
// docPath. fallback may be nil.
func NewXPathValue(docPath, query string, fallback []any) (*XPathValue, error) {
	doc, err := sandbox.FromPath[*xmlquery.Node](docPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: expected a non-empty XPath query", task.ErrParameterMismatch)
	}
	expr, err := xpath.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid XPath query %q: %w", task.ErrParameterMismatch, query, err)
	}
	return &XPathValue{doc: doc, expr: expr, query: query, fallback: fallback}, nil
}

// Resolve evaluates the query. A missing document reports false. A sandbox
// value that is not an XML document fails with ErrParameterMismatch.
func (v *XPathValue) Resolve(sb *sandbox.Sandbox) ([]any, bool, error) {
	doc, ok, err := v.doc.Resolve(sb)
	if err != nil {
		return nil, false, fmt.Errorf("%w: sandbox data at %s must be an XML document", task.ErrParameterMismatch, v.doc.Path())
	}
	if !ok || doc == nil {
		return nil, false, nil
	}

	nodes := xmlquery.QuerySelectorAll(doc, v.expr)
	if len(nodes) == 0 {
		return v.fallback, v.fallback != nil, nil
	}
	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeValue(n))
	}
	return out, true, nil
}

func (v *XPathValue) String() string {
	return fmt.Sprintf("xpath(%s, %s)", v.doc.Path(), v.query)
}

// nodeValue converts an XML node to strings, maps and lists.
func nodeValue(n *xmlquery.Node) any {
	switch n.Type {
	case xmlquery.DocumentNode:
		if root := firstElement(n); root != nil {
			return map[string]any{root.Data: nodeValue(root)}
		}
		return nil
	case xmlquery.ElementNode:
	default:
		return strings.TrimSpace(n.InnerText())
	}

	hasChildren := firstElement(n) != nil
	if !hasChildren && len(n.Attr) == 0 {
		return strings.TrimSpace(n.InnerText())
	}

	m := make(map[string]any)
	for _, attr := range n.Attr {
		m["@"+attr.Name.Local] = attr.Value
	}
	if !hasChildren {
		if text := strings.TrimSpace(n.InnerText()); text != "" {
			m["#text"] = text
		}
		return m
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		val := nodeValue(c)
		switch existing := m[c.Data].(type) {
		case nil:
			m[c.Data] = val
		case []any:
			m[c.Data] = append(existing, val)
		default:
			m[c.Data] = []any{existing, val}
		}
	}
	return m
}

func firstElement(n *xmlquery.Node) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}
