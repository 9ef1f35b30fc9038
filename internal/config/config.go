// Package config holds the canonical import configuration: where each
// domain's extract lives, how to read it, and when to import it.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"go-graph-import/internal/model"
)

// Config is the root of an import configuration file
type Config struct {
	Servers   []Server   `yaml:"servers"`
	Buckets   []Bucket   `yaml:"buckets"`
	Domains   []Domain   `yaml:"domains"`
	Schedules []Schedule `yaml:"schedules"`
}

// Server is a remote host reachable over scp
type Server struct {
	Name         string `yaml:"name"`
	Host         string `yaml:"host"`
	User         string `yaml:"user"`
	Port         int    `yaml:"port"`
	IdentityFile string `yaml:"identity_file"`
}

// Bucket is an S3-compatible object store location.
// AccessKey and SecretKey may reference environment variables as $NAME or ${NAME}.
type Bucket struct {
	Name      string `yaml:"name"`
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    *bool  `yaml:"use_ssl"`
}

// Source names a connector and the path of a domain's extract
type Source struct {
	Connector    string            `yaml:"connector"`
	Server       string            `yaml:"server"`
	Bucket       string            `yaml:"bucket"`
	PathTemplate string            `yaml:"path_template"`
	Params       map[string]string `yaml:"params"`
}

// Domain maps a (domain_type, domain_name) pair to its source and layout
type Domain struct {
	DomainType string           `yaml:"domain_type"`
	DomainName string           `yaml:"domain_name"`
	Source     Source           `yaml:"source"`
	Columns    model.ColumnSpec `yaml:"columns"`
}

// Schedule triggers a recurring import. CobOffsetDays picks the cob date
// relative to the firing day; 1 means the previous day.
type Schedule struct {
	Name          string `yaml:"name"`
	Cron          string `yaml:"cron"`
	DomainType    string `yaml:"domain_type"`
	DomainName    string `yaml:"domain_name"`
	CobOffsetDays int    `yaml:"cob_offset_days"`
}

// DomainRef identifies a configured domain
type DomainRef struct {
	DomainType string `json:"domain_type"`
	DomainName string `json:"domain_name"`
	Connector  string `json:"connector"`
}

// Domain returns the entry for a domain, if configured.
func (c *Config) Domain(domainType, domainName string) (Domain, bool) {
	for _, d := range c.Domains {
		if d.DomainType == domainType && d.DomainName == domainName {
			return d, true
		}
	}
	return Domain{}, false
}

// DomainRefs lists configured domains sorted by type then name.
func (c *Config) DomainRefs() []DomainRef {
	out := make([]DomainRef, 0, len(c.Domains))
	for _, d := range c.Domains {
		out = append(out, DomainRef{DomainType: d.DomainType, DomainName: d.DomainName, Connector: d.Source.Connector})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DomainType != out[j].DomainType {
			return out[i].DomainType < out[j].DomainType
		}
		return out[i].DomainName < out[j].DomainName
	})
	return out
}

func (c *Config) server(name string) (Server, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return Server{}, false
}

func (c *Config) bucket(name string) (Bucket, bool) {
	for _, b := range c.Buckets {
		if b.Name == name {
			return b, true
		}
	}
	return Bucket{}, false
}

// Resolve returns the source and column layout of a domain.
// Server and bucket references are flattened into connector params;
// explicit source params win over them.
func (c *Config) Resolve(domainType, domainName string) (model.SourceConfig, model.ColumnSpec, error) {
	d, ok := c.Domain(domainType, domainName)
	if !ok {
		return model.SourceConfig{}, model.ColumnSpec{}, model.Errorf(model.KindConfiguration, model.CodeConfigurationNotFound,
			"validate", domainType+"/"+domainName, "no configuration for domain %s/%s", domainType, domainName)
	}
	params := map[string]string{}
	if d.Source.Server != "" {
		s, ok := c.server(d.Source.Server)
		if !ok {
			return model.SourceConfig{}, model.ColumnSpec{}, model.Errorf(model.KindConfiguration, model.CodeInvalidConfiguration,
				"validate", d.Source.Server, "unknown server %q", d.Source.Server)
		}
		setIf(params, "host", s.Host)
		setIf(params, "user", s.User)
		setIf(params, "identity_file", s.IdentityFile)
		if s.Port != 0 {
			params["port"] = strconv.Itoa(s.Port)
		}
	}
	if d.Source.Bucket != "" {
		b, ok := c.bucket(d.Source.Bucket)
		if !ok {
			return model.SourceConfig{}, model.ColumnSpec{}, model.Errorf(model.KindConfiguration, model.CodeInvalidConfiguration,
				"validate", d.Source.Bucket, "unknown bucket %q", d.Source.Bucket)
		}
		setIf(params, "endpoint", b.Endpoint)
		setIf(params, "bucket", b.Bucket)
		setIf(params, "region", b.Region)
		setIf(params, "access_key", os.ExpandEnv(b.AccessKey))
		setIf(params, "secret_key", os.ExpandEnv(b.SecretKey))
		if b.UseSSL != nil {
			params["use_ssl"] = strconv.FormatBool(*b.UseSSL)
		}
	}
	for k, v := range d.Source.Params {
		params[k] = v
	}
	src := model.SourceConfig{ConnectorKind: d.Source.Connector, ConnectorParams: params, PathTemplate: d.Source.PathTemplate}
	return src, d.Columns.WithDefaults(), nil
}

func setIf(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func (d Domain) String() string {
	return fmt.Sprintf("%s/%s", d.DomainType, d.DomainName)
}
