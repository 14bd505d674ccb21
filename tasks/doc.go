// Package tasks provides the actions an installer is built from: importing
// XML configuration into the sandbox, loading SQL schemas, protecting
// directories with HTTP basic auth and exporting sandbox contents.
//
// Each type implements task.Action and is wrapped in a task.Node by the
// caller:
//
//	cfg, err := tasks.NewImportConfigXML("config/secrets.xml")
//	...
//	configNode := task.NewNode("config", cfg)
//
// Inputs that are only known once earlier tasks have run are passed as
// deferred values, for example an XPathValue over an imported document.
package tasks
