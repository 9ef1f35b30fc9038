package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go-graph-import/internal/model"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"
)

// Load parses path by extension and validates the result.
// known may be nil to skip the connector registry check.
func Load(path string, known func(kind string) bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		code := model.CodeInvalidConfiguration
		if errors.Is(err, fs.ErrNotExist) {
			code = model.CodeConfigurationNotFound
		}
		return nil, model.NewError(model.KindConfiguration, code, "validate", path, err)
	}
	var cfg *Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	case ".hcl":
		cfg, err = ParseHCL(path, data)
	default:
		err = fmt.Errorf("unsupported configuration format %q", ext)
	}
	if err != nil {
		return nil, model.NewError(model.KindConfiguration, model.CodeInvalidConfiguration, "validate", path, err)
	}
	if err := cfg.Validate(known); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseYAML decodes a YAML document and rejects unknown keys.
func ParseYAML(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("configuration is empty")
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &cfg, nil
}

type hclConfig struct {
	Servers   []hclServer   `hcl:"server,block"`
	Buckets   []hclBucket   `hcl:"bucket,block"`
	Domains   []hclDomain   `hcl:"domain,block"`
	Schedules []hclSchedule `hcl:"schedule,block"`
}

type hclServer struct {
	Name         string `hcl:"name,label"`
	Host         string `hcl:"host"`
	User         string `hcl:"user,optional"`
	Port         int    `hcl:"port,optional"`
	IdentityFile string `hcl:"identity_file,optional"`
}

type hclBucket struct {
	Name      string `hcl:"name,label"`
	Endpoint  string `hcl:"endpoint"`
	Bucket    string `hcl:"bucket"`
	Region    string `hcl:"region,optional"`
	AccessKey string `hcl:"access_key,optional"`
	SecretKey string `hcl:"secret_key,optional"`
	UseSSL    *bool  `hcl:"use_ssl,optional"`
}

type hclSource struct {
	Connector    string            `hcl:"connector"`
	Server       string            `hcl:"server,optional"`
	Bucket       string            `hcl:"bucket,optional"`
	PathTemplate string            `hcl:"path_template"`
	Params       map[string]string `hcl:"params,optional"`
}

type hclHierarchy struct {
	AccountGroup     string `hcl:"account_group,optional"`
	Counterparty     string `hcl:"counterparty,optional"`
	NettingAgreement string `hcl:"netting_agreement,optional"`
}

type hclColumns struct {
	InputDelimiter   string        `hcl:"input_delimiter,optional"`
	OutputDelimiter  string        `hcl:"output_delimiter,optional"`
	InputHasHeader   bool          `hcl:"input_has_header,optional"`
	WriteHeader      *bool         `hcl:"write_header,optional"`
	ColumnIndices    []int         `hcl:"column_indices"`
	ColumnNames      []string      `hcl:"column_names"`
	PartitionKeyName string        `hcl:"partition_key_name,optional"`
	BusinessKeyName  string        `hcl:"business_key_name,optional"`
	NumericFields    []string      `hcl:"numeric_fields,optional"`
	Hierarchy        *hclHierarchy `hcl:"hierarchy,block"`
}

type hclDomain struct {
	DomainType string     `hcl:"type,label"`
	DomainName string     `hcl:"name,label"`
	Source     hclSource  `hcl:"source,block"`
	Columns    hclColumns `hcl:"columns,block"`
}

type hclSchedule struct {
	Name          string `hcl:"name,label"`
	Cron          string `hcl:"cron"`
	DomainType    string `hcl:"domain_type"`
	DomainName    string `hcl:"domain_name"`
	CobOffsetDays int    `hcl:"cob_offset_days,optional"`
}

// ParseHCL decodes an HCL document. filename is only used in diagnostics.
func ParseHCL(filename string, data []byte) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	var raw hclConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	cfg := &Config{}
	for _, s := range raw.Servers {
		cfg.Servers = append(cfg.Servers, Server(s))
	}
	for _, b := range raw.Buckets {
		cfg.Buckets = append(cfg.Buckets, Bucket(b))
	}
	for _, d := range raw.Domains {
		cols := model.ColumnSpec{
			InputDelimiter:   d.Columns.InputDelimiter,
			OutputDelimiter:  d.Columns.OutputDelimiter,
			InputHasHeader:   d.Columns.InputHasHeader,
			WriteHeader:      d.Columns.WriteHeader,
			ColumnIndices:    d.Columns.ColumnIndices,
			ColumnNames:      d.Columns.ColumnNames,
			PartitionKeyName: d.Columns.PartitionKeyName,
			BusinessKeyName:  d.Columns.BusinessKeyName,
			NumericFields:    d.Columns.NumericFields,
		}
		if h := d.Columns.Hierarchy; h != nil {
			cols.Hierarchy = model.Hierarchy(*h)
		}
		cfg.Domains = append(cfg.Domains, Domain{
			DomainType: d.DomainType,
			DomainName: d.DomainName,
			Source:     Source(d.Source),
			Columns:    cols,
		})
	}
	for _, s := range raw.Schedules {
		cfg.Schedules = append(cfg.Schedules, Schedule(s))
	}
	return cfg, nil
}
