package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/battis/batch-action/batch"
	"github.com/battis/batch-action/logging"
	"github.com/battis/batch-action/metrics"
	"github.com/battis/batch-action/sandbox"
)

const (
	// Default state settings
	defaultHistoryDir = ".batch-action/history"
	defaultMaxRecords = 50

	// Default monitoring settings
	defaultMetricsPrefix = "batch_action"
	defaultJobName       = "batch-action"

	// Default directory protection settings
	defaultAuthName = "Protected"
)

// Config represents the complete application configuration
type Config struct {
	State      StateConfig        `yaml:"state"`
	Sequence   []batch.Group      `yaml:"sequence"`
	Sandbox    map[string]any     `yaml:"sandbox"`
	ConfigXML  []string           `yaml:"config_xml"`
	Database   []DatabaseConfig   `yaml:"database"`
	Files      []FilesConfig      `yaml:"files"`
	Scripts    []ScriptConfig     `yaml:"scripts"`
	Logging    logging.Config     `yaml:"logging"`
	Monitoring metrics.PushConfig `yaml:"monitoring"`
	Schedule   ScheduleConfig     `yaml:"schedule"`
}

// StateConfig says where run state is kept
type StateConfig struct {
	// Marker is an optional marker file. When empty, the history store decides
	// whether the batch has run.
	Marker string `yaml:"marker"`

	// HistoryDir holds one JSON file per pass
	HistoryDir string `yaml:"history_dir"`

	// MaxRecords limits how many passes are kept in memory and listed
	MaxRecords int `yaml:"max_records"`
}

// StepConfig places an entry in its group. Step is the occurrence of the
// group in the sequence the entry runs in; Requires lists "Group:step"
// entries that must have run first.
type StepConfig struct {
	Step     int      `yaml:"step"`
	Requires []string `yaml:"requires"`
}

// DatabaseConfig is one schema import. Exactly one of Connection, XPath or
// Path supplies the connection parameters.
type DatabaseConfig struct {
	StepConfig `yaml:",inline"`
	Name       string            `yaml:"name"`
	Schema     string            `yaml:"schema"`
	Connection map[string]string `yaml:"connection"`
	XPath      *XPathConfig      `yaml:"xpath"`
	Path       string            `yaml:"path"`
}

// XPathConfig locates values in an imported XML document
type XPathConfig struct {
	Document string `yaml:"document"`
	Query    string `yaml:"query"`
}

// FilesConfig is one protected directory
type FilesConfig struct {
	StepConfig `yaml:",inline"`
	Name       string            `yaml:"name"`
	Dir        string            `yaml:"dir"`
	Htpasswd   string            `yaml:"htpasswd"`
	AuthName   string            `yaml:"auth_name"`
	Users      map[string]string `yaml:"users"`
}

// ScriptConfig is one export of sandbox values
type ScriptConfig struct {
	StepConfig `yaml:",inline"`
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	Query      string `yaml:"query"`
	Output     string `yaml:"output"`
}

// ScheduleConfig controls the schedule command
type ScheduleConfig struct {
	Cron   string `yaml:"cron"`
	Listen string `yaml:"listen"`
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	var errs []error

	for i, g := range c.Sequence {
		if !g.Valid() {
			errs = append(errs, fmt.Errorf("sequence[%d]: unknown group %d", i, int(g)))
		}
	}
	if c.State.MaxRecords < 0 {
		errs = append(errs, fmt.Errorf("state.max_records must not be negative"))
	}
	for i, src := range c.ConfigXML {
		if strings.TrimSpace(src) == "" {
			errs = append(errs, fmt.Errorf("config_xml[%d]: source is required", i))
		}
	}
	for i, db := range c.Database {
		if err := db.validate(); err != nil {
			errs = append(errs, fmt.Errorf("database[%d]: %w", i, err))
		}
		if err := c.validateStep(batch.Database, db.StepConfig); err != nil {
			errs = append(errs, fmt.Errorf("database[%d]: %w", i, err))
		}
	}
	for i, f := range c.Files {
		if err := c.validateStep(batch.Files, f.StepConfig); err != nil {
			errs = append(errs, fmt.Errorf("files[%d]: %w", i, err))
		}
		if f.Dir == "" {
			errs = append(errs, fmt.Errorf("files[%d]: dir is required", i))
		}
		for name := range f.Users {
			if name == "" || strings.ContainsAny(name, ":\n") {
				errs = append(errs, fmt.Errorf("files[%d]: invalid user name %q", i, name))
			}
		}
	}
	for i, s := range c.Scripts {
		if _, err := sandbox.ParsePath(s.Path); err != nil {
			errs = append(errs, fmt.Errorf("scripts[%d]: %w", i, err))
		}
		if err := c.validateStep(batch.Script, s.StepConfig); err != nil {
			errs = append(errs, fmt.Errorf("scripts[%d]: %w", i, err))
		}
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if c.Monitoring.Timeout < 0 {
		errs = append(errs, fmt.Errorf("monitoring.timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// Occurrences counts how often g appears in the sequence, using the default
// sequence when none is set.
func (c *Config) Occurrences(g batch.Group) int {
	seq := c.Sequence
	if len(seq) == 0 {
		seq = batch.DefaultSequence()
	}
	n := 0
	for _, s := range seq {
		if s == g {
			n++
		}
	}
	return n
}

func (c *Config) validateStep(g batch.Group, sc StepConfig) error {
	if sc.Step < 0 || sc.Step >= c.Occurrences(g) {
		return fmt.Errorf("step %d is outside the %d %s step(s) of the sequence", sc.Step, c.Occurrences(g), g)
	}
	for _, r := range sc.Requires {
		if _, err := batch.ParseStep(r); err != nil {
			return fmt.Errorf("requires: %w", err)
		}
	}
	return nil
}

func (d DatabaseConfig) validate() error {
	sources := 0
	if len(d.Connection) > 0 {
		sources++
	}
	if d.XPath != nil {
		sources++
		if d.XPath.Document == "" || d.XPath.Query == "" {
			return fmt.Errorf("xpath needs both document and query")
		}
	}
	if d.Path != "" {
		sources++
		if _, err := sandbox.ParsePath(d.Path); err != nil {
			return err
		}
	}
	if sources != 1 {
		return fmt.Errorf("exactly one of connection, xpath or path is required, got %d", sources)
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.State.HistoryDir == "" {
		c.State.HistoryDir = defaultHistoryDir
	}
	if c.State.MaxRecords == 0 {
		c.State.MaxRecords = defaultMaxRecords
	}
	if len(c.Sequence) == 0 {
		c.Sequence = batch.DefaultSequence()
	}
	for i := range c.Files {
		if c.Files[i].AuthName == "" {
			c.Files[i].AuthName = defaultAuthName
		}
	}
	if c.Monitoring.Prefix == "" {
		c.Monitoring.Prefix = defaultMetricsPrefix
	}
	if c.Monitoring.Job == "" {
		c.Monitoring.Job = defaultJobName
	}
	c.Logging.SetDefaults()
}

// LoadConfig reads the YAML config file at the given path and returns a Config struct
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
