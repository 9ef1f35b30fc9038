package model

import (
	"fmt"
	"strings"
	"time"
)

// CobDateLayout is the canonical close-of-business date format used in keys and paths
const CobDateLayout = "20060102"

// ImportRequest is the immutable input of a single pipeline run
type ImportRequest struct {
	DomainType string `json:"domain_type"`
	DomainName string `json:"domain_name"`
	CobDate    string `json:"cob_date"` // YYYYMMDD
}

// ImportBatch is what callers submit: one domain, one or more dates
type ImportBatch struct {
	DomainType string   `json:"domain_type"`
	DomainName string   `json:"domain_name"`
	CobDates   []string `json:"cob_dates"`
}

// Requests expands the batch into per-date requests, in submission order.
func (b ImportBatch) Requests() []ImportRequest {
	out := make([]ImportRequest, 0, len(b.CobDates))
	for _, d := range b.CobDates {
		out = append(out, ImportRequest{DomainType: b.DomainType, DomainName: b.DomainName, CobDate: d})
	}
	return out
}

// ParseCobDate accepts YYYYMMDD or YYYY-MM-DD and returns the canonical form.
func ParseCobDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{CobDateLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(CobDateLayout), nil
		}
	}
	return "", fmt.Errorf("invalid cob date %q: want YYYYMMDD or YYYY-MM-DD", s)
}

// SourceConfig tells the pipeline where a domain's extract lives
type SourceConfig struct {
	ConnectorKind   string            `json:"connector_kind" yaml:"connector_kind"`
	ConnectorParams map[string]string `json:"connector_params,omitempty" yaml:"connector_params"`
	PathTemplate    string            `json:"path_template" yaml:"path_template"`
}

// SourcePath renders the path template for a cob date.
// Both {cob_date} and {cob} placeholders are accepted.
func (s SourceConfig) SourcePath(cobDate string) string {
	r := strings.NewReplacer("{cob_date}", cobDate, "{cob}", cobDate)
	return r.Replace(s.PathTemplate)
}

// Hierarchy names the columns of the three aggregation levels
type Hierarchy struct {
	AccountGroup     string `json:"account_group" yaml:"account_group"`
	Counterparty     string `json:"counterparty" yaml:"counterparty"`
	NettingAgreement string `json:"netting_agreement" yaml:"netting_agreement"`
}

// ColumnSpec describes how to project, partition and interpret a domain's extract
type ColumnSpec struct {
	InputDelimiter   string    `json:"input_delimiter" yaml:"input_delimiter"`
	OutputDelimiter  string    `json:"output_delimiter" yaml:"output_delimiter"`
	InputHasHeader   bool      `json:"input_has_header" yaml:"input_has_header"`
	WriteHeader      *bool     `json:"write_header,omitempty" yaml:"write_header"`
	ColumnIndices    []int     `json:"column_indices" yaml:"column_indices"` // 1-based, output order
	ColumnNames      []string  `json:"column_names" yaml:"column_names"`
	PartitionKeyName string    `json:"partition_key_name" yaml:"partition_key_name"`
	BusinessKeyName  string    `json:"business_key_name" yaml:"business_key_name"`
	NumericFields    []string  `json:"numeric_fields,omitempty" yaml:"numeric_fields"`
	Hierarchy        Hierarchy `json:"hierarchy" yaml:"hierarchy"`
}

// Defaults used when a column spec leaves a field blank
const (
	DefaultOutputDelimiter  = ","
	DefaultPartitionKeyName = "gfcid"
	DefaultBusinessKeyName  = "transaction_id"
	DefaultAccountGroup     = "cagid"
	DefaultCounterparty     = "gfcid"
	DefaultNettingAgreement = "netting_id"
)

// WithDefaults returns a copy with blank optional fields filled in.
func (c ColumnSpec) WithDefaults() ColumnSpec {
	if c.InputDelimiter == "" {
		c.InputDelimiter = "\x01"
	}
	if c.OutputDelimiter == "" {
		c.OutputDelimiter = DefaultOutputDelimiter
	}
	if c.PartitionKeyName == "" {
		c.PartitionKeyName = DefaultPartitionKeyName
	}
	if c.BusinessKeyName == "" {
		c.BusinessKeyName = DefaultBusinessKeyName
	}
	if c.Hierarchy.AccountGroup == "" {
		c.Hierarchy.AccountGroup = DefaultAccountGroup
	}
	if c.Hierarchy.Counterparty == "" {
		c.Hierarchy.Counterparty = DefaultCounterparty
	}
	if c.Hierarchy.NettingAgreement == "" {
		c.Hierarchy.NettingAgreement = DefaultNettingAgreement
	}
	if c.WriteHeader == nil {
		t := true
		c.WriteHeader = &t
	}
	return c
}

// HeaderEnabled reports whether the projected file starts with a header row.
func (c ColumnSpec) HeaderEnabled() bool {
	return c.WriteHeader == nil || *c.WriteHeader
}

// MaxIndex is the highest 1-based column index requested.
func (c ColumnSpec) MaxIndex() int {
	max := 0
	for _, i := range c.ColumnIndices {
		if i > max {
			max = i
		}
	}
	return max
}

// ColumnIndex returns the 0-based position of name in the projected output, or -1.
func (c ColumnSpec) ColumnIndex(name string) int {
	for i, n := range c.ColumnNames {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}
