package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration loaded from environment
// variables via github.com/caarlos0/env struct tags.
type Config struct {
	// Server
	ServerAddr     string   `env:"SERVER_ADDR" envDefault:":19890"`
	TrustProxy     bool     `env:"TRUST_PROXY" envDefault:"false"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	// Audit outputs: any of csv, log, kafka, postgres.
	Outputs []string `env:"OUTPUTS" envSeparator:"," envDefault:"csv"`
	LogPath string   `env:"LOG_PATH" envDefault:"data/log.csv"`

	// Scoring oracle
	OracleURL        string        `env:"ORACLE_URL"`
	OracleTimeout    time.Duration `env:"ORACLE_TIMEOUT" envDefault:"2s"`
	OracleFailClosed bool          `env:"ORACLE_FAIL_CLOSED" envDefault:"false"`

	// Decision policy: combined or score.
	DecisionPolicy string `env:"DECISION_POLICY" envDefault:"combined"`

	// Kafka output
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic         string   `env:"KAFKA_TOPIC" envDefault:"captcha.attempts"`
	KafkaAcks          string   `env:"KAFKA_ACKS" envDefault:"all"`
	KafkaCompression   string   `env:"KAFKA_COMPRESSION" envDefault:"snappy"`
	KafkaSASLMechanism string   `env:"KAFKA_SASL_MECHANISM"`
	KafkaSASLUser      string   `env:"KAFKA_SASL_USER"`
	KafkaSASLPassword  string   `env:"KAFKA_SASL_PASSWORD"`
	KafkaTLSCAPath     string   `env:"KAFKA_TLS_CA_PATH"`
	KafkaTLSSkipVerify bool     `env:"KAFKA_TLS_SKIP_VERIFY" envDefault:"false"`

	// Postgres output
	PostgresDSN string `env:"POSTGRES_DSN"`
	PGTable     string `env:"PG_TABLE" envDefault:"captcha_attempts"`
}

// Load reads configuration from environment variables. A .env file is
// loaded first when present, so local development doesn't have to
// export everything by hand.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file loaded")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config from environment: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags can't express.
func (c *Config) Validate() error {
	switch c.DecisionPolicy {
	case "combined", "score":
	default:
		return fmt.Errorf("invalid DECISION_POLICY: %q (must be combined or score)", c.DecisionPolicy)
	}

	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be positive, got %s", c.OracleTimeout)
	}

	for _, out := range c.Outputs {
		switch out {
		case "csv", "log", "kafka", "postgres":
		default:
			return fmt.Errorf("unknown output %q (valid: csv, log, kafka, postgres)", out)
		}
	}
	if c.hasOutput("kafka") && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when the kafka output is enabled")
	}
	if c.hasOutput("postgres") && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required when the postgres output is enabled")
	}
	return nil
}

// HasOutput reports whether the named audit output is enabled.
func (c *Config) HasOutput(name string) bool { return c.hasOutput(name) }

func (c *Config) hasOutput(name string) bool {
	for _, out := range c.Outputs {
		if out == name {
			return true
		}
	}
	return false
}
