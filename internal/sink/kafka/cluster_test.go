package kafka

import (
	"strings"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "disabled", cfg: Config{}},
		{name: "minimal", cfg: Config{Brokers: []string{"localhost:9092"}, Topic: "roles"}},
		{
			name:    "missing topic",
			cfg:     Config{Brokers: []string{"localhost:9092"}},
			wantErr: "kafka.topic is required",
		},
		{
			name:    "missing brokers",
			cfg:     Config{Topic: "roles"},
			wantErr: "kafka.brokers are required",
		},
		{
			name: "scram",
			cfg: Config{
				Brokers: []string{"localhost:9092"},
				Topic:   "roles",
				SASL:    SASLConfig{Mechanism: "SCRAM-SHA-512", Username: "u", Password: "p"},
			},
		},
		{
			name: "bad mechanism",
			cfg: Config{
				Brokers: []string{"localhost:9092"},
				Topic:   "roles",
				SASL:    SASLConfig{Mechanism: "GSSAPI", Username: "u", Password: "p"},
			},
			wantErr: "is not valid",
		},
		{
			name: "password env empty",
			cfg: Config{
				Brokers: []string{"localhost:9092"},
				Topic:   "roles",
				SASL:    SASLConfig{Mechanism: "PLAIN", Username: "u", PasswordEnv: "KAFKA_PASSWORD"},
			},
			wantErr: `env "KAFKA_PASSWORD"`,
		},
		{
			name: "cert without key",
			cfg: Config{
				Brokers: []string{"localhost:9092"},
				Topic:   "roles",
				TLS:     TLSConfig{Enabled: true, CertFile: "client.pem"},
			},
			wantErr: "keyFile is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
