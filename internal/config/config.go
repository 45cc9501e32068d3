package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database   *dbConfig
	Service    *svcConfig
	Normalizer *normalizerConfig
	Routine    *routineConfig
	ABTest     *abTestConfig
	S3         *s3Config
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"roles"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	LogLevel        string `envconfig:"ROLE_NORMALIZER_LOG_LEVEL" default:"info"`
	MetricsAddress  string `envconfig:"ROLE_NORMALIZER_METRICS_ADDRESS" default:":8080"`
	MigrationFolder string `envconfig:"ROLE_NORMALIZER_MIGRATIONS_FOLDER" default:""`
	EventTopic      string `envconfig:"ROLE_NORMALIZER_EVENT_TOPIC" default:"role_normalization.reindex"`
}

type normalizerConfig struct {
	URL             string        `envconfig:"NORMALIZER_URL" default:"http://localhost:8192/v1/role_normalization"`
	Username        string        `envconfig:"NORMALIZER_USERNAME" default:""`
	Password        string        `envconfig:"NORMALIZER_PASSWORD" default:""`
	CredentialsFile string        `envconfig:"NORMALIZER_CREDENTIALS_FILE" default:""`
	CredentialsObj  string        `envconfig:"NORMALIZER_CREDENTIALS_OBJECT" default:""`
	AttemptTimeout  time.Duration `envconfig:"NORMALIZER_ATTEMPT_TIMEOUT" default:"30s"`
	MaxAttempts     int           `envconfig:"NORMALIZER_MAX_ATTEMPTS" default:"5"`
	BaseDelay       time.Duration `envconfig:"NORMALIZER_BASE_DELAY" default:"1s"`
	MaxDelay        time.Duration `envconfig:"NORMALIZER_MAX_DELAY" default:"30s"`
	Jitter          time.Duration `envconfig:"NORMALIZER_JITTER" default:"250ms"`
	BatchBudget     time.Duration `envconfig:"NORMALIZER_BATCH_BUDGET" default:"3m"`
}

type routineConfig struct {
	ReadBatchSize     int           `envconfig:"ROUTINE_READ_BATCH_SIZE" default:"5000"`
	APIBatchSize      int           `envconfig:"ROUTINE_API_BATCH_SIZE" default:"1000"`
	MaxPayloadBytes   int           `envconfig:"ROUTINE_MAX_PAYLOAD_BYTES" default:"1048576"`
	WriteBatchSize    int           `envconfig:"ROUTINE_WRITE_BATCH_SIZE" default:"250"`
	QueueBatchSize    int           `envconfig:"ROUTINE_QUEUE_BATCH_SIZE" default:"100"`
	Concurrency       int           `envconfig:"ROUTINE_CONCURRENCY" default:"1"`
	Dedup             bool          `envconfig:"ROUTINE_DEDUP" default:"true"`
	IdleInterval      time.Duration `envconfig:"ROUTINE_IDLE_INTERVAL" default:"5m"`
	FailureBackoff    time.Duration `envconfig:"ROUTINE_FAILURE_BACKOFF" default:"10s"`
	MaxFailureBackoff time.Duration `envconfig:"ROUTINE_MAX_FAILURE_BACKOFF" default:"5m"`
	FatalBackoff      time.Duration `envconfig:"ROUTINE_FATAL_BACKOFF" default:"15m"`
	RetryUnmatched    time.Duration `envconfig:"ROUTINE_RETRY_UNMATCHED_AFTER" default:"168h"`
}

// abTestConfig restricts the routine to the owners of one AB test group.
// An empty host disables it.
type abTestConfig struct {
	Host           string        `envconfig:"AB_TEST_HOST" default:""`
	Name           string        `envconfig:"AB_TEST_NAME" default:"role_normalization"`
	Group          string        `envconfig:"AB_TEST_GROUP" default:"1"`
	Auth           string        `envconfig:"AB_TEST_AUTH" default:""`
	AttemptTimeout time.Duration `envconfig:"AB_TEST_ATTEMPT_TIMEOUT" default:"10s"`
	MaxAttempts    int           `envconfig:"AB_TEST_MAX_ATTEMPTS" default:"5"`
	RetryDelay     time.Duration `envconfig:"AB_TEST_RETRY_DELAY" default:"5s"`
}

func (a *abTestConfig) Enabled() bool {
	return a.Host != ""
}

type s3Config struct {
	Endpoint  string `envconfig:"ROLE_NORMALIZER_S3_ENDPOINT" default:""`
	AccessKey string `envconfig:"ROLE_NORMALIZER_S3_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"ROLE_NORMALIZER_S3_SECRET_KEY" default:""`
	UseSSL    bool   `envconfig:"ROLE_NORMALIZER_S3_USE_SSL" default:"false"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns the default configuration pointed at an in-memory sqlite database.
func NewDefault() *Config {
	cfg := new(Config)
	_ = envconfig.Process("", cfg)
	cfg.Database.Type = "sqlite"
	cfg.Database.Name = "file::memory:?cache=shared"
	return cfg
}
