package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Engine   EngineConfig   `mapstructure:"engine" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// RedisConfig configures the fast result-cache tier.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr" validate:"required,hostname_port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db" validate:"gte=0"`
	ResultTTL time.Duration `mapstructure:"result_ttl" validate:"gt=0"`
}

// QueueConfig selects and configures the job queue.
// The memory backend only works when the server runs its own workers.
type QueueConfig struct {
	Backend    string `mapstructure:"backend" validate:"required,oneof=rabbitmq memory"`
	URL        string `mapstructure:"url" validate:"required_if=Backend rabbitmq"`
	Exchange   string `mapstructure:"exchange" validate:"required"`
	RoutingKey string `mapstructure:"routing_key" validate:"required"`
	QueueName  string `mapstructure:"queue_name" validate:"required"`
	Prefetch   int    `mapstructure:"prefetch" validate:"gt=0"`
	BufferSize int    `mapstructure:"buffer_size" validate:"gt=0"`
}

// EngineConfig configures the preprocessing engine client.
type EngineConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// StorageConfig configures where uploaded datasets and file-tier results live.
type StorageConfig struct {
	Backend      string `mapstructure:"backend" validate:"required,oneof=local s3"`
	UploadDir    string `mapstructure:"upload_dir" validate:"required_if=Backend local"`
	ProcessedDir string `mapstructure:"processed_dir" validate:"required"`
	S3Endpoint   string `mapstructure:"s3_endpoint" validate:"required_if=Backend s3"`
	S3AccessKey  string `mapstructure:"s3_access_key" validate:"required_if=Backend s3"`
	S3SecretKey  string `mapstructure:"s3_secret_key" validate:"required_if=Backend s3"`
	S3Bucket     string `mapstructure:"s3_bucket" validate:"required_if=Backend s3"`
	S3Region     string `mapstructure:"s3_region"`
	S3UseSSL     bool   `mapstructure:"s3_use_ssl"`
}

// WorkerConfig configures the job runner and its recovery sweeps.
type WorkerConfig struct {
	Count             int           `mapstructure:"count" validate:"gt=0"`
	StuckJobAge       time.Duration `mapstructure:"stuck_job_age" validate:"gt=0"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	PendingRequeueAge time.Duration `mapstructure:"pending_requeue_age" validate:"gt=0"`
	MetricsPort       int           `mapstructure:"metrics_port" validate:"gte=0,lt=65536"`
}

// AuthConfig configures bearer-token verification at the HTTP boundary.
// An empty JWTSecret disables verification.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}
