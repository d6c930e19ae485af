// Package config loads rolewatch configuration from an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lsm/rolewatch/internal/auth"
	"github.com/lsm/rolewatch/internal/failure"
	"github.com/lsm/rolewatch/internal/graph"
	"github.com/lsm/rolewatch/internal/sink/kafka"
)

const (
	// GraphCredential is the default name of the Graph OAuth2 credential.
	GraphCredential = "GRAPH"

	// DefaultGraphTokenURL is the v2 token endpoint, which takes scope.
	DefaultGraphTokenURL = "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/token"
	// DefaultResourceTokenURL is the v1 token endpoint, which takes resource.
	DefaultResourceTokenURL = "https://login.microsoftonline.com/{tenant}/oauth2/token"
	// DefaultGraphAudience is the Graph client-credentials scope.
	DefaultGraphAudience = "https://graph.microsoft.com/.default"

	DefaultSchedule    = "0 6 * * *"
	DefaultTitle       = "AAD Roles"
	DefaultTopRoles    = 7
	DefaultTimezone    = "Australia/Melbourne"
	DefaultMetricsAddr = ":9090"
)

// Config is the full rolewatch configuration.
type Config struct {
	TenantID    string             `yaml:"tenantID"`
	Graph       GraphConfig        `yaml:"graph"`
	Credentials []CredentialConfig `yaml:"credentials"`
	Filter      string             `yaml:"filter"`
	Report      ReportConfig       `yaml:"report"`
	Webhook     WebhookConfig      `yaml:"webhook"`
	Kafka       kafka.Config       `yaml:"kafka"`
	Schedule    string             `yaml:"schedule"`
	MetricsAddr string             `yaml:"metricsAddr"`
}

// GraphConfig selects the directory endpoint and the credential used for it.
type GraphConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	Credential     string        `yaml:"credential"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"maxConcurrency"`
}

// CredentialConfig names a credential and the environment variables its
// secrets are read from. Secrets never appear in the file itself.
type CredentialConfig struct {
	Name            string `yaml:"name"`
	Scheme          string `yaml:"scheme,omitempty"`
	SecretEnv       string `yaml:"secretEnv,omitempty"`
	ClientIDEnv     string `yaml:"clientIDEnv,omitempty"`
	ClientSecretEnv string `yaml:"clientSecretEnv,omitempty"`
	Audience        string `yaml:"audience,omitempty"`
	TokenURL        string `yaml:"tokenURL,omitempty"`
}

// ReportConfig controls report and chart rendering.
type ReportConfig struct {
	Title    string `yaml:"title"`
	TopRoles int    `yaml:"topRoles"`
	Timezone string `yaml:"timezone"`
}

// WebhookConfig configures the outbound webhook.
type WebhookConfig struct {
	URL         string            `yaml:"url"`
	URLEnv      string            `yaml:"urlEnv"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	CloudEvents bool              `yaml:"cloudEvents"`
	Timeout     time.Duration     `yaml:"timeout"`
}

// Load reads path (if non-empty), applies environment overrides and fills
// defaults. The result is not validated; call Validate or Specs.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, failure.Configuration("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, failure.Configuration("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	cfg.discoverCredentials(os.Environ())
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TENANT_ID"); v != "" {
		c.TenantID = v
	}
	if v := os.Getenv("ROLEWATCH_SCHEDULE"); v != "" {
		c.Schedule = v
	}
	if v := os.Getenv("ROLEWATCH_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if c.Webhook.URLEnv == "" {
		c.Webhook.URLEnv = "WEBHOOK_URL"
	}
	if v := os.Getenv(c.Webhook.URLEnv); v != "" {
		c.Webhook.URL = v
	} else if v := os.Getenv("LOGICAPP_URI"); v != "" && c.Webhook.URL == "" {
		c.Webhook.URL = v
	}
	if c.Kafka.SASL.PasswordEnv != "" {
		c.Kafka.SASL.Password = os.Getenv(c.Kafka.SASL.PasswordEnv)
	}
}

func (c *Config) applyDefaults() {
	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = graph.DefaultBaseURL
	}
	if c.Graph.Credential == "" {
		c.Graph.Credential = GraphCredential
	}
	if c.Graph.Timeout <= 0 {
		c.Graph.Timeout = 30 * time.Second
	}
	if c.Report.Title == "" {
		c.Report.Title = DefaultTitle
	}
	if c.Report.TopRoles <= 0 {
		c.Report.TopRoles = DefaultTopRoles
	}
	if c.Report.Timezone == "" {
		c.Report.Timezone = DefaultTimezone
	}
	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = 30 * time.Second
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.credential(c.Graph.Credential) == nil && c.Graph.Credential == GraphCredential {
		c.Credentials = append(c.Credentials, CredentialConfig{
			Name:            GraphCredential,
			ClientIDEnv:     "GRAPH_CLIENT_ID",
			ClientSecretEnv: "GRAPH_CLIENT_SECRET",
			Audience:        DefaultGraphAudience,
			TokenURL:        DefaultGraphTokenURL,
		})
	}
}

// discoverCredentials adds a credential for every <SERVICE>_PAT, <SERVICE>_EA
// and <SERVICE>_STATIC_TOKEN variable not already configured.
func (c *Config) discoverCredentials(environ []string) {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		var scheme string
		switch {
		case strings.HasSuffix(name, "_PAT"):
			scheme = auth.SchemeBasic.String()
		case strings.HasSuffix(name, "_EA"), strings.HasSuffix(name, "_STATIC_TOKEN"):
			scheme = auth.SchemeStaticBearer.String()
		default:
			continue
		}
		if c.credential(name) != nil {
			continue
		}
		c.Credentials = append(c.Credentials, CredentialConfig{Name: name, Scheme: scheme, SecretEnv: name})
	}
}

func (c *Config) credential(name string) *CredentialConfig {
	for i := range c.Credentials {
		if c.Credentials[i].Name == name {
			return &c.Credentials[i]
		}
	}
	return nil
}

// Location returns the report timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return nil, failure.Configuration("report.timezone %q: %w", c.Report.Timezone, err)
	}
	return loc, nil
}

// Specs resolves every configured credential into an auth.Spec, reading
// secrets from the environment. Every problem found is reported at once.
func (c *Config) Specs() ([]auth.Spec, error) {
	specs := make([]auth.Spec, 0, len(c.Credentials))
	seen := make(map[string]bool, len(c.Credentials))
	var errs []error
	for _, cc := range c.Credentials {
		if cc.Name == "" {
			errs = append(errs, errors.New("credential with empty name"))
			continue
		}
		if seen[cc.Name] {
			errs = append(errs, fmt.Errorf("credential %s defined twice", cc.Name))
			continue
		}
		seen[cc.Name] = true

		spec, err := c.spec(cc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, failure.Configuration("credentials: %w", err)
	}
	return specs, nil
}

// GraphSpec returns the spec of the credential used against Graph.
func (c *Config) GraphSpec() (auth.Spec, error) {
	cc := c.credential(c.Graph.Credential)
	if cc == nil {
		return auth.Spec{}, failure.Configuration("graph.credential %q is not defined", c.Graph.Credential)
	}
	spec, err := c.spec(*cc)
	if err != nil {
		return auth.Spec{}, failure.Configuration("%w", err)
	}
	return spec, nil
}

func (c *Config) spec(cc CredentialConfig) (auth.Spec, error) {
	scheme := auth.SchemeFromName(cc.Name)
	if cc.Scheme != "" {
		s, err := auth.ParseScheme(cc.Scheme)
		if err != nil {
			return auth.Spec{}, fmt.Errorf("credential %s: %w", cc.Name, err)
		}
		scheme = s
	}

	spec := auth.Spec{
		Name:         cc.Name,
		Scheme:       scheme,
		Audience:     cc.Audience,
		AudienceKind: auth.AudienceKindFromName(cc.Name),
		TenantID:     c.TenantID,
	}

	var errs []error
	require := func(field, env string) string {
		if env == "" {
			errs = append(errs, fmt.Errorf("credential %s: %s is not set", cc.Name, field))
			return ""
		}
		v := os.Getenv(env)
		if v == "" {
			errs = append(errs, fmt.Errorf("credential %s: environment variable %s is empty", cc.Name, env))
		}
		return v
	}

	switch scheme {
	case auth.SchemeBasic, auth.SchemeStaticBearer:
		env := cc.SecretEnv
		if env == "" {
			env = cc.Name
		}
		spec.Secret = require("secretEnv", env)
	case auth.SchemeOAuth2:
		spec.ClientID = require("clientIDEnv", cc.ClientIDEnv)
		spec.ClientSecret = require("clientSecretEnv", cc.ClientSecretEnv)
		if spec.Audience == "" {
			errs = append(errs, fmt.Errorf("credential %s: audience is not set", cc.Name))
		}
		spec.TokenURL = cc.TokenURL
		if spec.TokenURL == "" {
			spec.TokenURL = DefaultResourceTokenURL
			if spec.AudienceKind == auth.AudienceScope {
				spec.TokenURL = DefaultGraphTokenURL
			}
		}
		if strings.Contains(spec.TokenURL, "{tenant}") {
			if c.TenantID == "" {
				errs = append(errs, fmt.Errorf("credential %s: token URL needs TENANT_ID", cc.Name))
			}
			spec.TokenURL = strings.ReplaceAll(spec.TokenURL, "{tenant}", c.TenantID)
		}
	case auth.SchemeAzureIdentity:
		if spec.Audience == "" {
			errs = append(errs, fmt.Errorf("credential %s: audience is not set", cc.Name))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return auth.Spec{}, err
	}
	return spec, nil
}

// Validate checks the whole configuration, including that every secret is
// present in the environment. It makes no network calls.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Specs(); err != nil {
		errs = append(errs, err)
	}
	if c.credential(c.Graph.Credential) == nil {
		errs = append(errs, fmt.Errorf("graph.credential %q is not defined", c.Graph.Credential))
	}
	if c.Graph.MaxConcurrency < 0 {
		errs = append(errs, errors.New("graph.maxConcurrency must not be negative"))
	}
	if c.Webhook.URL == "" {
		errs = append(errs, fmt.Errorf("webhook url is required (set %s or LOGICAPP_URI)", c.Webhook.URLEnv))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Kafka.Validate(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return failure.At(failure.Configuration("invalid configuration: %w", err), failure.StageConfig, "")
	}
	return nil
}
