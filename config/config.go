package config

import (
	"time"
)

type AppConfig struct {
	APIPort      string `env:"PORT,required" envDefault:"12222"`
	APIKey       string `env:"API_KEY,required"`
	PolicyFile   string `env:"RFQ_POLICY_FILE"`
	PodName      string `env:"POD_NAME" envDefault:"local"`
	PodNamespace string `env:"POD_NAMESPACE" envDefault:"default"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

type DatabaseConfig struct {
	Driver          string `env:"RFQSTACK_DB_DRIVER" envDefault:"postgres"`
	SqlitePath      string `env:"RFQSTACK_SQLITE_PATH" envDefault:"rfqstack.db"`
	Host            string `env:"RFQSTACK_POSTGRES_HOST"`
	Port            string `env:"RFQSTACK_POSTGRES_PORT" envDefault:"5432"`
	User            string `env:"RFQSTACK_POSTGRES_USER"`
	DBName          string `env:"RFQSTACK_POSTGRES_DB_NAME"`
	Password        string `env:"RFQSTACK_POSTGRES_PASSWORD"`
	MaxConn         int    `env:"RFQSTACK_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"RFQSTACK_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"RFQSTACK_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"RFQSTACK_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"RFQSTACK_POSTGRES_SSL_MODE" envDefault:"require"`
}

type IMAPConfig struct {
	Host           string   `env:"IMAP_HOST,required"`
	Port           int      `env:"IMAP_PORT" envDefault:"993"`
	Username       string   `env:"IMAP_USERNAME,required"`
	Password       string   `env:"IMAP_PASSWORD,required"`
	TLS            bool     `env:"IMAP_TLS" envDefault:"true"`
	Folders        []string `env:"IMAP_FOLDERS" envSeparator:"," envDefault:"INBOX"`
	SkipVerifyHost []string `env:"IMAP_TLS_SKIP_VERIFY_HOSTS" envSeparator:","`
}

type PollerConfig struct {
	PollInterval          time.Duration `env:"POLL_INTERVAL" envDefault:"5m"`
	MaxConcurrentRequests int           `env:"MAX_CONCURRENT_REQUESTS" envDefault:"4"`
	MinBodyChars          int           `env:"MIN_BODY_CHARS" envDefault:"20"`
	StaleProcessingAfter  time.Duration `env:"STALE_PROCESSING_AFTER" envDefault:"30m"`
	ShutdownTimeout       time.Duration `env:"WORKER_SHUTDOWN_TIMEOUT" envDefault:"20s"`
}

type AttachmentConfig struct {
	Storage      string   `env:"ATTACHMENT_STORAGE" envDefault:"local"`
	LocalPath    string   `env:"ATTACHMENT_LOCAL_PATH" envDefault:"./data/attachments"`
	MaxBytes     int64    `env:"ATTACHMENT_MAX_BYTES" envDefault:"10485760"`
	AllowedTypes []string `env:"ATTACHMENT_ALLOWED_TYPES" envSeparator:"," envDefault:"application/pdf,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet,application/vnd.openxmlformats-officedocument.wordprocessingml.document,text/csv,text/plain,text/html"`
}

type S3StorageConfig struct {
	Region          string `env:"AWS_S3_REGION" envDefault:"eu-west-1"`
	AccessKeyID     string `env:"AWS_S3_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"AWS_S3_ACCESS_KEY_SECRET"`
	Bucket          string `env:"AWS_S3_BUCKET_ATTACHMENTS" envDefault:"rfq-attachments"`
}

type R2StorageConfig struct {
	AccountID        string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID      string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret  string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	AttachmentBucket string `env:"BUCKET_NAME_RFQ_ATTACHMENT" envDefault:"rfq-attachments"`
}

type ExtractorConfig struct {
	MaxBytes int64 `env:"EXTRACTOR_MAX_BYTES" envDefault:"26214400"`
	MaxChars int   `env:"EXTRACTOR_MAX_CHARS" envDefault:"200000"`
}

type AIConfig struct {
	Url          string        `env:"EXTRACTION_API_URL" envDefault:"https://api.openai.com/v1"`
	ApiKey       string        `env:"EXTRACTION_API_KEY"`
	Model        string        `env:"EXTRACTION_MODEL" envDefault:"gpt-4o-mini"`
	Timeout      time.Duration `env:"EXTRACTION_TIMEOUT" envDefault:"90s"`
	MaxAttempts  int           `env:"EXTRACTION_MAX_ATTEMPTS" envDefault:"3"`
	RetryBackoff time.Duration `env:"EXTRACTION_RETRY_BACKOFF" envDefault:"2s"`
	MaxInputChar int           `env:"EXTRACTION_MAX_INPUT_CHARS" envDefault:"60000"`
	RatePerMin   float64       `env:"EXTRACTION_RATE_PER_MINUTE" envDefault:"30"`
}

type HandoffConfig struct {
	Backend     string `env:"HANDOFF_BACKEND" envDefault:"rabbitmq"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisQueue  string `env:"HANDOFF_REDIS_QUEUE" envDefault:"rfqstack:completed"`
}
