package importer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/recimport/internal/schema"
	"github.com/JonMunkholm/recimport/internal/source/csvsource"
)

// ErrJobNotFound is returned when a job name is not loaded.
var ErrJobNotFound = errors.New("job not found")

// DestinationType selects the writer implementation of a destination.
type DestinationType string

const (
	DestPostgres DestinationType = "postgres"
	DestSQLite   DestinationType = "sqlite"
	DestCSV      DestinationType = "csv"
)

// Job describes one kind of import: which table a file is read as and where
// its rows go. Jobs are loaded from YAML:
//
//	name: sfdc-customers
//	table: sfdc_customers
//	tolerate_failures: false
//	destinations:
//	  - name: warehouse
//	    type: postgres
//	    upload_column: upload_id
//	  - name: west
//	    type: csv
//	    path: out/{job}-{run_id}-west.csv
//	    filter:
//	      - {field: Billing State, op: eq, value: CA}
type Job struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Table       string `yaml:"table" json:"table"`

	Encoding         string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	Delimiter        string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	HeaderSearchRows int    `yaml:"header_search_rows,omitempty" json:"header_search_rows,omitempty"`
	StrictQuotes     bool   `yaml:"strict_quotes,omitempty" json:"strict_quotes,omitempty"`

	TolerateFailures    bool `yaml:"tolerate_failures" json:"tolerate_failures"`
	MaxConcurrentWrites int  `yaml:"max_concurrent_writes,omitempty" json:"max_concurrent_writes,omitempty"`

	Destinations []DestinationSpec `yaml:"destinations" json:"destinations"`
}

// DestinationSpec configures one destination of a job.
type DestinationSpec struct {
	Name string          `yaml:"name" json:"name"`
	Type DestinationType `yaml:"type" json:"type"`

	// Table overrides the job's table for database destinations.
	Table        string `yaml:"table,omitempty" json:"table,omitempty"`
	UploadColumn string `yaml:"upload_column,omitempty" json:"upload_column,omitempty"`
	BatchSize    int    `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	CreateTable  bool   `yaml:"create_table,omitempty" json:"create_table,omitempty"`

	// Path is the SQLite database or CSV file. {job}, {run_id} and {date}
	// are expanded per run.
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
	Header bool   `yaml:"header,omitempty" json:"header,omitempty"`

	Filter []schema.Condition `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// ParseJob decodes and validates a YAML job definition.
func ParseJob(data []byte) (*Job, error) {
	var j Job
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&j); err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

// LoadJob reads a job definition file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	j, err := ParseJob(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return j, nil
}

// LoadJobs reads every *.yaml and *.yml file in dir, sorted by job name.
func LoadJobs(dir string) ([]*Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read jobs directory: %w", err)
	}

	var jobs []*Job
	seen := make(map[string]string)
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		j, err := LoadJob(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[j.Name]; ok {
			return nil, fmt.Errorf("job %q defined in both %s and %s", j.Name, prev, e.Name())
		}
		seen[j.Name] = e.Name()
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].Name < jobs[b].Name })
	return jobs, nil
}

// Validate checks the job against the table registry and collects every
// problem found.
func (j *Job) Validate() error {
	var errs []error
	if j.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}

	def, err := schema.Lookup(j.Table)
	if err != nil {
		errs = append(errs, err)
	}
	if !csvsource.ValidEncoding(j.Encoding) {
		errs = append(errs, fmt.Errorf("encoding error: unsupported encoding %q", j.Encoding))
	}
	if _, err := j.comma(); err != nil {
		errs = append(errs, err)
	}
	if j.MaxConcurrentWrites < 0 {
		errs = append(errs, errors.New("max_concurrent_writes must not be negative"))
	}
	if len(j.Destinations) == 0 {
		errs = append(errs, errors.New("at least one destination is required"))
	}

	names := make(map[string]bool)
	paths := make(map[string]string)
	for i, d := range j.Destinations {
		label := d.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
			errs = append(errs, fmt.Errorf("destination %s: name is required", label))
		} else if names[d.Name] {
			errs = append(errs, fmt.Errorf("destination %s: duplicate name", label))
		}
		names[d.Name] = true

		switch d.Type {
		case DestPostgres:
		case DestSQLite, DestCSV:
			if d.Path == "" {
				errs = append(errs, fmt.Errorf("destination %s: path is required for %s", label, d.Type))
				break
			}
			// Two transactions on one file would block each other until commit.
			key := string(d.Type) + ":" + d.Path
			if other, ok := paths[key]; ok {
				errs = append(errs, fmt.Errorf("destination %s: path %q already used by %s", label, d.Path, other))
			}
			paths[key] = label
		default:
			errs = append(errs, fmt.Errorf("destination %s: unknown type %q", label, d.Type))
		}
		if d.BatchSize < 0 {
			errs = append(errs, fmt.Errorf("destination %s: batch_size must not be negative", label))
		}

		if def.Info.Key != "" {
			if _, err := schema.CompileFilter(def, d.Filter); err != nil {
				errs = append(errs, fmt.Errorf("destination %s: %w", label, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid job %q: %w", j.Name, errors.Join(errs...))
	}
	return nil
}

// Definition returns the table definition the job reads files as.
func (j *Job) Definition() (schema.TableDefinition, error) {
	return schema.Lookup(j.Table)
}

// SourceOptions returns the CSV reading options of the job.
func (j *Job) SourceOptions(size int64) csvsource.Options {
	comma, _ := j.comma()
	return csvsource.Options{
		Encoding:         j.Encoding,
		Comma:            comma,
		HeaderSearchRows: j.HeaderSearchRows,
		StrictQuotes:     j.StrictQuotes,
		Size:             size,
	}
}

func (j *Job) comma() (rune, error) {
	switch j.Delimiter {
	case "":
		return 0, nil
	case `\t`, "tab":
		return '\t', nil
	}
	r := []rune(j.Delimiter)
	if len(r) != 1 || r[0] == '"' || r[0] == '\r' || r[0] == '\n' {
		return 0, fmt.Errorf("invalid delimiter %q", j.Delimiter)
	}
	return r[0], nil
}
