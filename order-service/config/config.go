package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	TransportSNS      = "sns"
	TransportRabbitMQ = "rabbitmq"
)

type Config struct {
	ServiceName string    `mapstructure:"service_name" validate:"required"`
	Env         string    `mapstructure:"env" validate:"required"`
	Port        string    `mapstructure:"port" validate:"required,numeric"`
	LogLevel    string    `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Database    Database  `mapstructure:"database"`
	Saga        Saga      `mapstructure:"saga"`
	Outbox      Outbox    `mapstructure:"outbox"`
	AWS         AWS       `mapstructure:"aws"`
	RabbitMQ    RabbitMQ  `mapstructure:"rabbitmq"`
	Telemetry   Telemetry `mapstructure:"telemetry"`
}

type Database struct {
	Driver       string `mapstructure:"driver" validate:"oneof=postgres memory"`
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type Saga struct {
	LockTimeout    time.Duration `mapstructure:"lock_timeout" validate:"gt=0"`
	DedupCacheSize int           `mapstructure:"dedup_cache_size" validate:"gt=0"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl" validate:"gt=0"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db" validate:"gte=0"`
}

type Outbox struct {
	Interval       time.Duration     `mapstructure:"interval" validate:"gt=0"`
	BatchSize      int               `mapstructure:"batch_size" validate:"gt=0"`
	PublishTimeout time.Duration     `mapstructure:"publish_timeout" validate:"gt=0"`
	ClaimLease     time.Duration     `mapstructure:"claim_lease" validate:"gt=0"`
	Transport      string            `mapstructure:"transport" validate:"oneof=sns rabbitmq"`
	Routes         map[string]string `mapstructure:"routes"`
}

type AWS struct {
	AccessKeyID       string `mapstructure:"access_key_id"`
	SecretAccessKey   string `mapstructure:"secret_access_key"`
	Region            string `mapstructure:"region" validate:"required"`
	EndpointSNS       string `mapstructure:"endpoint_sns"`
	EndpointSQS       string `mapstructure:"endpoint_sqs"`
	SNSTopicArn       string `mapstructure:"sns_topic_arn"`
	SQSQueueURL       string `mapstructure:"sqs_queue_url" validate:"required"`
	Workers           int32  `mapstructure:"workers" validate:"gt=0"`
	VisibilityTimeout int32  `mapstructure:"visibility_timeout" validate:"gt=0,lte=43200"`
}

type RabbitMQ struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// ReadConfig loads <ENVIRONMENT>.json from this package directory
func ReadConfig() (*Config, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return nil, errors.New("unable to get current file")
	}

	return Load(filepath.Dir(filename), getConfigName())
}

// Load reads name.json from dir, applies ORDER_* environment overrides and
// validates the result.
func Load(dir, name string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("json")
	v.AddConfigPath(dir)

	// ORDER_DATABASE_DRIVER overrides database.driver
	v.SetEnvPrefix("ORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func getConfigName() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "local"
	}
	return env
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "order-service")
	v.SetDefault("env", "local")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "order_system")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("saga.lock_timeout", "5s")
	v.SetDefault("saga.dedup_cache_size", 10000)
	v.SetDefault("saga.dedup_ttl", "24h")
	v.SetDefault("saga.redis_addr", "")
	v.SetDefault("saga.redis_password", "")
	v.SetDefault("saga.redis_db", 0)

	v.SetDefault("outbox.interval", "1s")
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.publish_timeout", "5s")
	v.SetDefault("outbox.claim_lease", "1m")
	v.SetDefault("outbox.transport", TransportSNS)

	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint_sns", "")
	v.SetDefault("aws.endpoint_sqs", "")
	v.SetDefault("aws.sns_topic_arn", "")
	v.SetDefault("aws.sqs_queue_url", "")
	v.SetDefault("aws.workers", 30)
	v.SetDefault("aws.visibility_timeout", 30)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "order-saga")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "")
}

// Validate checks field constraints and the settings each selected driver needs
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	switch c.Outbox.Transport {
	case TransportSNS:
		if c.AWS.SNSTopicArn == "" && len(c.Outbox.Routes) == 0 {
			return errors.New("invalid config: sns transport needs aws.sns_topic_arn or outbox.routes")
		}
	case TransportRabbitMQ:
		if c.RabbitMQ.URL == "" || c.RabbitMQ.Exchange == "" {
			return errors.New("invalid config: rabbitmq transport needs rabbitmq.url and rabbitmq.exchange")
		}
	}

	return nil
}

// GetDatabaseURL returns database.url, or builds one from its parts
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
