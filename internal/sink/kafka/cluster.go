package kafka

import (
	"errors"
	"fmt"
)

// Config describes the Kafka cluster and topic the summary is published to.
type Config struct {
	Brokers []string   `yaml:"brokers"`
	Topic   string     `yaml:"topic"`
	SASL    SASLConfig `yaml:"sasl,omitempty"`
	TLS     TLSConfig  `yaml:"tls,omitempty"`
}

// SASLConfig defines SASL authentication. The password is read from
// PasswordEnv when configuration is loaded.
type SASLConfig struct {
	Mechanism   string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"passwordEnv"`
	Password    string `yaml:"-"`
}

// TLSConfig defines TLS settings for broker connections.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CAFile     string `yaml:"caFile,omitempty"`
	CertFile   string `yaml:"certFile,omitempty"`
	KeyFile    string `yaml:"keyFile,omitempty"`
	SkipVerify bool   `yaml:"skipVerify,omitempty"`
}

var validMechanisms = map[string]bool{
	"PLAIN":         true,
	"SCRAM-SHA-256": true,
	"SCRAM-SHA-512": true,
}

// Enabled reports whether a Kafka sink is configured at all.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0 || c.Topic != ""
}

// Validate checks the configuration. A disabled config is valid.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	var errs []error

	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers are required"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required"))
	}

	if c.SASL.Mechanism != "" {
		if !validMechanisms[c.SASL.Mechanism] {
			errs = append(errs, fmt.Errorf("kafka.sasl.mechanism %q is not valid (must be PLAIN, SCRAM-SHA-256, or SCRAM-SHA-512)", c.SASL.Mechanism))
		}
		if c.SASL.Username == "" {
			errs = append(errs, errors.New("kafka.sasl.username is required when mechanism is set"))
		}
		if c.SASL.Password == "" {
			errs = append(errs, fmt.Errorf("kafka.sasl password is empty (env %q)", c.SASL.PasswordEnv))
		}
	}

	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
		errs = append(errs, errors.New("kafka.tls.keyFile is required when certFile is specified"))
	}
	if c.TLS.KeyFile != "" && c.TLS.CertFile == "" {
		errs = append(errs, errors.New("kafka.tls.certFile is required when keyFile is specified"))
	}

	return errors.Join(errs...)
}
