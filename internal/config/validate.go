package config

import (
	"errors"
	"fmt"
	"strings"

	"go-graph-import/internal/model"

	"github.com/robfig/cron/v3"
)

// CronParser accepts the six-field (with seconds) expressions used by schedules
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the whole configuration and reports every problem at once.
// known answers whether a connector kind is registered.
func (c *Config) Validate(known func(kind string) bool) error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	servers := map[string]bool{}
	for i, s := range c.Servers {
		switch {
		case s.Name == "":
			add("servers[%d]: name is required", i)
		case servers[s.Name]:
			add("servers[%d]: duplicate name %q", i, s.Name)
		}
		servers[s.Name] = true
		if s.Host == "" {
			add("server %q: host is required", s.Name)
		}
		if s.Port < 0 || s.Port > 65535 {
			add("server %q: port %d out of range", s.Name, s.Port)
		}
	}
	buckets := map[string]bool{}
	for i, b := range c.Buckets {
		switch {
		case b.Name == "":
			add("buckets[%d]: name is required", i)
		case buckets[b.Name]:
			add("buckets[%d]: duplicate name %q", i, b.Name)
		}
		buckets[b.Name] = true
		if b.Endpoint == "" || b.Bucket == "" {
			add("bucket %q: endpoint and bucket are required", b.Name)
		}
	}

	domains := map[string]bool{}
	for i, d := range c.Domains {
		name := d.String()
		if d.DomainType == "" || d.DomainName == "" {
			add("domains[%d]: domain_type and domain_name are required", i)
			continue
		}
		if domains[name] {
			add("domain %s: configured twice", name)
		}
		domains[name] = true

		src := d.Source
		switch {
		case src.Connector == "":
			add("domain %s: source.connector is required", name)
		case known != nil && !known(src.Connector):
			add("domain %s: unknown connector %q", name, src.Connector)
		}
		if src.PathTemplate == "" {
			add("domain %s: source.path_template is required", name)
		}
		if src.Server != "" && !servers[src.Server] {
			add("domain %s: unknown server %q", name, src.Server)
		}
		if src.Bucket != "" && !buckets[src.Bucket] {
			add("domain %s: unknown bucket %q", name, src.Bucket)
		}
		if src.Connector == "scp" && src.Server == "" && src.Params["host"] == "" {
			add("domain %s: scp source needs a server or a host param", name)
		}
		if src.Connector == "s3" && src.Bucket == "" && src.Params["bucket"] == "" {
			add("domain %s: s3 source needs a bucket", name)
		}
		errs = append(errs, validateColumns(name, d.Columns)...)
	}

	for i, s := range c.Schedules {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("schedules[%d]", i)
		}
		if _, err := CronParser.Parse(s.Cron); err != nil {
			add("schedule %s: invalid cron %q: %v", label, s.Cron, err)
		}
		if !domains[s.DomainType+"/"+s.DomainName] {
			add("schedule %s: unknown domain %s/%s", label, s.DomainType, s.DomainName)
		}
		if s.CobOffsetDays < 0 {
			add("schedule %s: cob_offset_days must not be negative", label)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return model.NewError(model.KindConfiguration, model.CodeInvalidConfiguration, "validate", "", errors.Join(errs...))
}

func validateColumns(domain string, spec model.ColumnSpec) []error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("domain %s: "+format, append([]interface{}{domain}, args...)...))
	}
	if len(spec.ColumnIndices) == 0 {
		add("columns.column_indices is required")
	}
	for _, idx := range spec.ColumnIndices {
		if idx < 1 {
			add("column index %d must be >= 1", idx)
		}
	}
	if len(spec.ColumnNames) != len(spec.ColumnIndices) {
		add("%d column names for %d indices", len(spec.ColumnNames), len(spec.ColumnIndices))
	}
	seen := map[string]bool{}
	for _, n := range spec.ColumnNames {
		key := strings.ToLower(n)
		if n == "" {
			add("column names must not be blank")
		} else if seen[key] {
			add("duplicate column name %q", n)
		}
		seen[key] = true
	}

	s := spec.WithDefaults()
	if strings.ContainsAny(s.InputDelimiter+s.OutputDelimiter, "\r\n") {
		add("delimiters must not contain newlines")
	}
	required := map[string]string{
		"partition_key_name":          s.PartitionKeyName,
		"business_key_name":           s.BusinessKeyName,
		"hierarchy.account_group":     s.Hierarchy.AccountGroup,
		"hierarchy.counterparty":      s.Hierarchy.Counterparty,
		"hierarchy.netting_agreement": s.Hierarchy.NettingAgreement,
	}
	for _, field := range []string{"partition_key_name", "business_key_name", "hierarchy.account_group", "hierarchy.counterparty", "hierarchy.netting_agreement"} {
		if s.ColumnIndex(required[field]) < 0 {
			add("%s %q is not among column_names", field, required[field])
		}
	}
	for _, f := range s.NumericFields {
		if s.ColumnIndex(f) < 0 {
			add("numeric field %q is not among column_names", f)
		}
	}
	return errs
}
